package main

import (
	"context"
	"database/sql"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/CTAG07/Ulysse/pkg/dispatch"
	"github.com/CTAG07/Ulysse/pkg/i18n"
	"github.com/CTAG07/Ulysse/pkg/pages"
	"github.com/CTAG07/Ulysse/pkg/reqctx"
	"github.com/CTAG07/Ulysse/pkg/templating"
)

// setupContentSchema creates the table listed by the content.list producer.
func setupContentSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS content (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`)
	return err
}

// builtinProducers are the Go producers pages.yaml can reference by name.
func builtinProducers(bundle *i18n.Bundle) map[string]pages.ProducerFunc {
	return map[string]pages.ProducerFunc{
		"ulysse.year": func(context.Context) (any, error) {
			return time.Now().Year(), nil
		},
		"ulysse.language": func(ctx context.Context) (any, error) {
			return reqctx.FromContext(ctx).String(reqctx.KeyLanguage), nil
		},
		"ulysse.languageLinks": func(ctx context.Context) (any, error) {
			return languageLinks(ctx, bundle), nil
		},
		"content.list": contentList,
	}
}

// languageLinks renders a link to the current path for every language.
func languageLinks(ctx context.Context, bundle *i18n.Bundle) template.HTML {
	store := reqctx.FromContext(ctx)
	current := store.String(reqctx.KeyLanguage)
	var b strings.Builder
	for _, l := range bundle.Languages() {
		class := ""
		if l.Code == current {
			class = "active"
		}
		href := dispatch.URL(ctx, store.String(reqctx.KeyPath), "") + "?" + i18n.LanguageQueryParam + "=" + url.QueryEscape(l.Query)
		fmt.Fprintf(&b, `<a class="%s" href="%s">%s</a> `,
			class, template.HTMLEscapeString(href), template.HTMLEscapeString(l.Code))
	}
	return template.HTML(strings.TrimSpace(b.String()))
}

// contentList lists the rows of the content table of the site database.
func contentList(ctx context.Context) (any, error) {
	v, _ := reqctx.FromContext(ctx).Get(reqctx.KeyDB)
	db, ok := v.(*sql.DB)
	if !ok || db == nil {
		return template.HTML("<p>No database configured.</p>"), nil
	}

	rows, err := db.QueryContext(ctx, `SELECT title, created_at FROM content ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var b strings.Builder
	b.WriteString("<ul>")
	for rows.Next() {
		var (
			title   string
			created int64
		)
		if err = rows.Scan(&title, &created); err != nil {
			return nil, fmt.Errorf("failed to scan content row: %w", err)
		}
		fmt.Fprintf(&b, "<li>%s <small>%s</small></li>",
			template.HTMLEscapeString(title),
			time.Unix(created, 0).UTC().Format(templating.DateFullLayout))
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	b.WriteString("</ul>")
	return template.HTML(b.String()), nil
}

package dispatch

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/CTAG07/Ulysse/pkg/reqctx"
)

// RedirectionParam is the query parameter carrying the page to return to.
const RedirectionParam = "redirection"

// URL builds the link to the logical path p for the deployment of the current
// request. A non-empty redirection is appended as ?redirection=.
func URL(ctx context.Context, p, redirection string) string {
	store := reqctx.FromContext(ctx)
	base := store.String(reqctx.KeyBasePath)
	if base == "" {
		base = "/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	var b strings.Builder
	b.WriteString(base)
	if script := store.String(reqctx.KeyScriptName); script != "" {
		b.WriteString(script)
		b.WriteString("/")
	}
	b.WriteString(strings.TrimPrefix(p, "/"))
	if redirection != "" {
		b.WriteString("?")
		b.WriteString(RedirectionParam)
		b.WriteString("=")
		b.WriteString(url.QueryEscape(redirection))
	}
	return b.String()
}

// IsCurrentPath reports whether p is the logical path of the current request.
func IsCurrentPath(ctx context.Context, p string) bool {
	return strings.Trim(p, "/") == reqctx.FromContext(ctx).String(reqctx.KeyPath)
}

// Redirect makes the current response a 302 to the logical path p.
func Redirect(ctx context.Context, p string) {
	RedirectTo(ctx, URL(ctx, p, ""), http.StatusFound)
}

// RedirectBack redirects to the logical path named by the redirection query
// parameter of the current request, or to fallback when it is absent. The
// parameter is always resolved inside the site, never as an absolute URL.
func RedirectBack(ctx context.Context, fallback string) {
	p := fallback
	if r := Request(ctx); r != nil {
		if back := r.URL.Query().Get(RedirectionParam); back != "" {
			p = back
		}
	}
	Redirect(ctx, p)
}

// RedirectTo makes the current response a redirection to location.
func RedirectTo(ctx context.Context, location string, code int) {
	store := reqctx.FromContext(ctx)
	store.Header().Set("Location", location)
	store.SetStatus(code)
	store.Log(reqctx.LevelNotification, fmt.Sprintf("Redirecting to %s", location))
}

// Link renders an anchor to p, with the class "active" when p is the current
// path. text is escaped.
func Link(ctx context.Context, text, p string) template.HTML {
	class := ""
	if IsCurrentPath(ctx, p) {
		class = "active"
	}
	return template.HTML(fmt.Sprintf(`<a class="%s" href="%s">%s</a>`,
		class,
		template.HTMLEscapeString(URL(ctx, p, "")),
		template.HTMLEscapeString(text)))
}

// RequestFuncs returns the template functions bound to the request carried by
// ctx: l, url, t, isCurrentPath and context. Install it with
// TemplateManager.SetRequestFuncs.
func (d *Dispatcher) RequestFuncs(ctx context.Context) template.FuncMap {
	return template.FuncMap{
		"l": func(text, p string) template.HTML {
			return Link(ctx, text, p)
		},
		"url": func(p string, redirection ...string) string {
			return URL(ctx, p, strings.Join(redirection, ""))
		},
		"t": func(id string) string {
			if d.translations == nil {
				return id
			}
			return d.translations.Translate(ctx, id)
		},
		"isCurrentPath": func(p string) bool {
			return IsCurrentPath(ctx, p)
		},
		"context": func(key string) any {
			v, _ := reqctx.FromContext(ctx).Get(key)
			return v
		},
	}
}

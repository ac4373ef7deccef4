package dispatch

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/CTAG07/Ulysse/pkg/pages"
	"github.com/CTAG07/Ulysse/pkg/reqctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrContentNotString is returned when a page without layout produces a
// value that cannot be written as the response body.
var ErrContentNotString = errors.New("page content is not a string")

// RenderPage evaluates the content of page once and, if the page has a layout,
// renders the layout once with the layout variables and the content bound as
// "content". The empty declaration renders to "".
func (d *Dispatcher) RenderPage(ctx context.Context, page pages.Declaration) (string, error) {
	ctx, span := tracer.Start(ctx, "dispatch.RenderPage", trace.WithAttributes(attribute.String("page.id", page.ID)))
	defer span.End()

	if page.IsZero() {
		return "", nil
	}
	if page.Status != 0 {
		reqctx.FromContext(ctx).SetStatus(page.Status)
	}

	content, err := page.Content.Evaluate(ctx)
	if err != nil {
		return "", fmt.Errorf("page %q content: %w", page.ID, err)
	}

	if page.Layout == "" {
		out, err := stringify(content)
		if err != nil {
			return "", fmt.Errorf("page %q: %w", page.ID, err)
		}
		return out, nil
	}

	vars := make(map[string]any, len(page.LayoutVariables)+1)
	for name, v := range page.LayoutVariables {
		val, err := v.Evaluate(ctx)
		if err != nil {
			return "", fmt.Errorf("page %q layout variable %q: %w", page.ID, name, err)
		}
		vars[name] = val
	}
	vars["content"] = trusted(content)

	out, err := d.templates.Render(ctx, page.Layout, vars, "")
	if err != nil {
		return "", fmt.Errorf("page %q layout: %w", page.ID, err)
	}
	return out, nil
}

// RenderByKey renders the page declared under id. A missing forbidden page
// still sets the 403 status.
func (d *Dispatcher) RenderByKey(ctx context.Context, id string) (string, error) {
	page, ok := d.pages.ByKey(ctx, id)
	if !ok {
		reqctx.FromContext(ctx).Log(reqctx.LevelWarning, fmt.Sprintf("No page declared with id %s", id))
		if id == pages.ForbiddenID {
			reqctx.FromContext(ctx).SetStatus(http.StatusForbidden)
		}
		return "", nil
	}
	return d.RenderPage(ctx, page)
}

// Forbidden renders the forbidden page with a 403 status unless the page
// declares another one. Producers call it to deny access.
func (d *Dispatcher) Forbidden(ctx context.Context) (string, error) {
	reqctx.FromContext(ctx).SetStatus(http.StatusForbidden)
	return d.RenderByKey(ctx, pages.ForbiddenID)
}

func stringify(v any) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	case template.HTML:
		return string(c), nil
	case []byte:
		return string(c), nil
	case fmt.Stringer:
		return c.String(), nil
	default:
		return "", fmt.Errorf("%w: got %T", ErrContentNotString, v)
	}
}

// trusted marks producer output as markup so the layout does not escape it.
func trusted(v any) any {
	switch c := v.(type) {
	case string:
		return template.HTML(c)
	case []byte:
		return template.HTML(c)
	default:
		return v
	}
}

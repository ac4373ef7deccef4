// Package dispatch turns an HTTP request into a rendered page: it derives the
// logical path from the request target, picks the page declared for it and
// renders the page content, inside its layout when it has one.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/CTAG07/Ulysse/pkg/i18n"
	"github.com/CTAG07/Ulysse/pkg/pages"
	"github.com/CTAG07/Ulysse/pkg/reqctx"
	"github.com/CTAG07/Ulysse/pkg/settings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("github.com/CTAG07/Ulysse/pkg/dispatch")
	meter  = otel.Meter("github.com/CTAG07/Ulysse/pkg/dispatch")
)

// DefaultScriptPath is the entry script path used when none is configured.
const DefaultScriptPath = "/index.php"

// TemplateRenderer renders a template reference with named variables.
// *templating.TemplateManager satisfies it.
type TemplateRenderer interface {
	Render(ctx context.Context, ref string, vars map[string]any, rootDir string) (string, error)
}

// Response is the outcome of one dispatch cycle.
type Response struct {
	Body   string
	Status int
	Header http.Header
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithScriptPath sets the server path of the entry script, "/app/index.php"
// for an installation in the /app/ subdirectory. A path ending in "/" means
// the URLs carry no entry script at all.
func WithScriptPath(p string) Option {
	return func(d *Dispatcher) {
		d.scriptPath = p
	}
}

// WithBootstrap adds variables copied verbatim into every request context.
func WithBootstrap(vars map[string]any) Option {
	return func(d *Dispatcher) {
		maps.Copy(d.bootstrap, vars)
	}
}

// WithTranslations enables language resolution and translated templates.
func WithTranslations(b *i18n.Bundle) Option {
	return func(d *Dispatcher) {
		d.translations = b
	}
}

// Dispatcher maps a request to a page declaration and renders it.
// A Dispatcher is safe for concurrent use; all request state lives in the
// per-request reqctx.Store.
type Dispatcher struct {
	logger       *slog.Logger
	settings     *settings.Store
	pages        *pages.Registry
	templates    TemplateRenderer
	translations *i18n.Bundle
	scriptPath   string
	bootstrap    map[string]any

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a Dispatcher.
func New(logger *slog.Logger, st *settings.Store, reg *pages.Registry, tr TemplateRenderer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:     logger,
		settings:   st,
		pages:      reg,
		templates:  tr,
		scriptPath: DefaultScriptPath,
		bootstrap:  map[string]any{},
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	if d.requests, err = meter.Int64Counter("ulysse.dispatch.requests",
		metric.WithDescription("Dispatched requests by page and status")); err != nil {
		logger.Warn("Failed to create request counter", "error", err)
	}
	if d.duration, err = meter.Float64Histogram("ulysse.dispatch.duration",
		metric.WithDescription("Time spent dispatching a request"), metric.WithUnit("s")); err != nil {
		logger.Warn("Failed to create duration histogram", "error", err)
	}
	return d
}

func (d *Dispatcher) record(ctx context.Context, start time.Time, pageID string, status int) {
	attrs := metric.WithAttributes(attribute.String("page.id", pageID), attribute.Int("http.status", status))
	if d.requests != nil {
		d.requests.Add(ctx, 1, attrs)
	}
	if d.duration != nil {
		d.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

type requestKey struct{}

// Request returns the HTTP request being dispatched, or nil outside of a dispatch.
func Request(ctx context.Context) *http.Request {
	r, _ := ctx.Value(requestKey{}).(*http.Request)
	return r
}

// HandleRequest runs the full cycle for r: entry script, base path, logical
// path, page lookup and rendering. Producer and template failures are
// returned; a missing page is not an error.
func (d *Dispatcher) HandleRequest(ctx context.Context, r *http.Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "dispatch.HandleRequest")
	defer span.End()

	store := reqctx.New(d.logger)
	ctx = reqctx.WithStore(ctx, store)
	ctx = context.WithValue(ctx, requestKey{}, r)

	start := time.Now()
	store.Set(reqctx.KeyTimeStart, start)
	for k, v := range d.bootstrap {
		store.Set(k, v)
	}

	scriptName := ScriptName(d.scriptPath)
	store.Log(reqctx.LevelNotification, fmt.Sprintf("Script name is %s", scriptName))
	store.Set(reqctx.KeyScriptName, scriptName)

	basePath := BasePath(d.scriptPath, scriptName)
	store.Log(reqctx.LevelNotification, fmt.Sprintf("Base path is %s", basePath))
	store.Set(reqctx.KeyBasePath, basePath)

	// Absolute-form targets carry a scheme and host the path cannot start with.
	target := r.RequestURI
	if target == "" || r.URL.IsAbs() {
		target = r.URL.RequestURI()
	}
	path := LogicalPath(target, scriptName, basePath)
	store.Log(reqctx.LevelNotification, fmt.Sprintf("Path determined from http request is '%s'", path))
	store.Set(reqctx.KeyPath, path)
	span.SetAttributes(attribute.String("page.path", path))

	if d.translations != nil {
		store.Set(reqctx.KeyLanguage, i18n.CurrentLanguage(r, d.settings))
	}

	page := d.Resolve(ctx, path)
	body, err := d.RenderPage(ctx, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		store.Log(reqctx.LevelError, err.Error())
		d.record(ctx, start, page.ID, http.StatusInternalServerError)
		resp := Response{Status: http.StatusInternalServerError}
		if d.settings.Bool(settings.KeyDeveloperToolbar) {
			resp.Body = d.toolbar(store)
		}
		return resp, err
	}
	store.Log(reqctx.LevelNotification, fmt.Sprintf("Page %q rendered, %d bytes", page.ID, len(body)))

	if d.settings.Bool(settings.KeyDeveloperToolbar) {
		body += d.toolbar(store)
	}

	d.record(ctx, start, page.ID, store.Status())
	return Response{
		Body:   body,
		Status: store.Status(),
		Header: store.Header(),
	}, nil
}

// ServeHTTP dispatches r and writes the rendered page. A failing producer or
// template yields a 500 page, followed by the developer toolbar when enabled.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := d.HandleRequest(r.Context(), r)
	if err != nil {
		d.logger.Error("Failed to render page", "uri", r.RequestURI, "error", err)
		if resp.Body == "" {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusInternalServerError)
		if _, err = io.WriteString(w, "<h1>Internal Server Error</h1>"+resp.Body); err != nil {
			d.logger.Debug("Failed to write response body", "error", err)
		}
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err = io.WriteString(w, resp.Body); err != nil {
		d.logger.Debug("Failed to write response body", "error", err)
	}
}

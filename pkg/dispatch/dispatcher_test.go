package dispatch

import (
	"context"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/Ulysse/pkg/i18n"
	"github.com/CTAG07/Ulysse/pkg/pages"
	"github.com/CTAG07/Ulysse/pkg/reqctx"
	"github.com/CTAG07/Ulysse/pkg/settings"
	"github.com/CTAG07/Ulysse/pkg/templating"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRenderer wraps every rendered content in <body> and remembers its calls.
type recordingRenderer struct {
	calls []map[string]any
	refs  []string
	err   error
}

func (r *recordingRenderer) Render(_ context.Context, ref string, vars map[string]any, _ string) (string, error) {
	r.calls = append(r.calls, vars)
	r.refs = append(r.refs, ref)
	if r.err != nil {
		return "", r.err
	}
	content, _ := vars["content"].(template.HTML)
	return "<body>" + string(content) + "</body>", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(tr TemplateRenderer, set map[string]any, decls ...pages.Declaration) *Dispatcher {
	if set == nil {
		set = map[string]any{}
	}
	return New(testLogger(), settings.NewStatic(set), pages.NewStatic(decls...), tr)
}

func get(t *testing.T, d *Dispatcher, target string) Response {
	t.Helper()
	resp, err := d.HandleRequest(context.Background(), httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	return resp
}

func TestHandleRequest_ContentWithoutLayout(t *testing.T) {
	tr := &recordingRenderer{}
	d := newTestDispatcher(tr, nil,
		pages.Declaration{ID: "home", Path: pages.At(""), Content: pages.Literal("Hello world")},
	)

	resp := get(t, d, "/index.php")
	assert.Equal(t, "Hello world", resp.Body)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Empty(t, tr.calls, "no layout means no template pass")
}

func TestHandleRequest_ContentWithLayout(t *testing.T) {
	themeDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(themeDir, "page.html"), []byte(`<body>{{.content}}</body>`), 0644))
	set := map[string]any{settings.KeyThemePath: themeDir}
	tm := templating.NewTemplateManager(testLogger(), settings.NewStatic(set))

	d := newTestDispatcher(tm, set,
		pages.Declaration{ID: "home", Path: pages.At(""), Content: pages.Literal("Hello world"), Layout: "page.html"},
	)

	resp := get(t, d, "/")
	assert.Equal(t, "<body>Hello world</body>", resp.Body)
}

func TestHandleRequest_NotFound(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil,
		pages.Declaration{ID: "home", Path: pages.At(""), Content: pages.Literal("home")},
		pages.Declaration{ID: pages.NotFoundID, Content: pages.Literal("Oops, page not found")},
	)

	resp := get(t, d, "/index.php/nope")
	assert.Equal(t, "Oops, page not found", resp.Body)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHandleRequest_NoNotFoundPage(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil,
		pages.Declaration{ID: "home", Path: pages.At(""), Content: pages.Literal("home")},
	)

	resp := get(t, d, "/index.php/nope")
	assert.Equal(t, "", resp.Body)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHandleRequest_LastDeclarationWins(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil,
		pages.Declaration{ID: "a", Path: pages.At("dup"), Content: pages.Literal("A")},
		pages.Declaration{ID: "b", Path: pages.At("dup"), Content: pages.Literal("B")},
	)

	assert.Equal(t, "B", get(t, d, "/index.php/dup").Body)
}

func TestHandleRequest_ProducerAndLayoutCalledOnce(t *testing.T) {
	var produced int
	tr := &recordingRenderer{}
	d := newTestDispatcher(tr, nil, pages.Declaration{
		ID:      "home",
		Path:    pages.At("hello"),
		Content: pages.Text(func() string { produced++; return "generated" }),
		Layout:  "page.html",
		LayoutVariables: map[string]pages.Value{
			"title": pages.Literal("Hello"),
		},
	})

	resp := get(t, d, "/index.php/hello")
	assert.Equal(t, 1, produced)
	require.Len(t, tr.calls, 1)
	assert.Equal(t, "page.html", tr.refs[0])
	assert.Equal(t, "Hello", tr.calls[0]["title"])
	assert.Contains(t, resp.Body, "generated")
}

func TestHandleRequest_ProducerSeesRequestContext(t *testing.T) {
	d := New(testLogger(), settings.NewStatic(nil), pages.NewStatic(pages.Declaration{
		ID:   "where",
		Path: pages.At("hello"),
		Content: pages.Producer(func(ctx context.Context) (any, error) {
			store := reqctx.FromContext(ctx)
			return store.String(reqctx.KeyBasePath) + "|" + store.String(reqctx.KeyPath) + "|" + store.String("site"), nil
		}),
	}), &recordingRenderer{},
		WithScriptPath("/app/index.php"),
		WithBootstrap(map[string]any{"site": "ulysse"}),
	)

	assert.Equal(t, "/app/|hello|ulysse", get(t, d, "/app/index.php/hello?x=1").Body)
}

func TestHandleRequest_ProducerError(t *testing.T) {
	boom := errors.New("boom")
	d := newTestDispatcher(&recordingRenderer{}, nil, pages.Declaration{
		ID:   "broken",
		Path: pages.At(""),
		Content: pages.Producer(func(context.Context) (any, error) {
			return nil, boom
		}),
	})

	_, err := d.HandleRequest(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `"broken"`)
}

func TestHandleRequest_MissingLayout(t *testing.T) {
	set := map[string]any{settings.KeyThemePath: t.TempDir()}
	tm := templating.NewTemplateManager(testLogger(), settings.NewStatic(set))
	d := newTestDispatcher(tm, set,
		pages.Declaration{ID: "home", Path: pages.At(""), Content: pages.Literal("x"), Layout: "missing.html"},
	)

	_, err := d.HandleRequest(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, templating.ErrTemplateNotFound)
}

func TestRenderPage_ContentTypes(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil)
	ctx := reqctx.WithStore(context.Background(), reqctx.New(nil))

	out, err := d.RenderPage(ctx, pages.Declaration{ID: "html", Content: pages.Literal(template.HTML("<b>x</b>"))})
	require.NoError(t, err)
	assert.Equal(t, "<b>x</b>", out)

	out, err = d.RenderPage(ctx, pages.Declaration{ID: "nil"})
	require.NoError(t, err)
	assert.Equal(t, "", out)

	_, err = d.RenderPage(ctx, pages.Declaration{ID: "number", Content: pages.Literal(42)})
	assert.ErrorIs(t, err, ErrContentNotString)

	out, err = d.RenderPage(ctx, pages.Declaration{})
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestRenderPage_Status(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil)
	store := reqctx.New(nil)
	ctx := reqctx.WithStore(context.Background(), store)

	_, err := d.RenderPage(ctx, pages.Declaration{ID: "gone", Content: pages.Literal("gone"), Status: http.StatusGone})
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, store.Status())
}

func TestForbidden(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil,
		pages.Declaration{ID: pages.ForbiddenID, Content: pages.Literal("Access denied")},
	)
	store := reqctx.New(nil)
	ctx := reqctx.WithStore(context.Background(), store)

	out, err := d.Forbidden(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Access denied", out)
	assert.Equal(t, http.StatusForbidden, store.Status())

	empty := newTestDispatcher(&recordingRenderer{}, nil)
	store = reqctx.New(nil)
	out, err = empty.RenderByKey(reqctx.WithStore(context.Background(), store), pages.ForbiddenID)
	require.NoError(t, err)
	assert.Equal(t, "", out)
	assert.Equal(t, http.StatusForbidden, store.Status())
}

func TestHandleRequest_RequestLog(t *testing.T) {
	var store *reqctx.Store
	d := newTestDispatcher(&recordingRenderer{}, nil, pages.Declaration{
		ID:   "home",
		Path: pages.At(""),
		Content: pages.Producer(func(ctx context.Context) (any, error) {
			store = reqctx.FromContext(ctx)
			return "", nil
		}),
	})
	get(t, d, "/")

	require.NotNil(t, store)
	var details []string
	for _, e := range store.Logs() {
		details = append(details, e.Detail)
	}
	assert.Contains(t, details, "Script name is index.php")
	assert.Contains(t, details, "Base path is /")
	assert.Contains(t, details, "Path determined from http request is ''")
}

func TestHandleRequest_DeveloperToolbar(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, map[string]any{settings.KeyDeveloperToolbar: true},
		pages.Declaration{ID: "home", Path: pages.At(""), Content: pages.Literal("<p>home</p>")},
	)

	body := get(t, d, "/").Body
	assert.True(t, strings.HasPrefix(body, "<p>home</p>"))
	assert.Contains(t, body, `id="developer-toolbar"`)
	assert.Contains(t, body, "Script name is index.php")
}

func TestHandleRequest_Language(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "translations.yaml")
	require.NoError(t, os.WriteFile(file, []byte("welcome:\n  en: Welcome\n  fr: Bienvenue\n"), 0644))
	st := settings.NewStatic(map[string]any{
		settings.KeyLanguageDefault: "en",
		settings.KeyLanguages: map[string]any{
			"en": map[string]any{"query": "en"},
			"fr": map[string]any{"query": "fr"},
		},
	})
	bundle := i18n.NewBundle(testLogger(), file, st)
	d := New(testLogger(), st, pages.NewStatic(pages.Declaration{
		ID:   "home",
		Path: pages.At(""),
		Content: pages.Producer(func(ctx context.Context) (any, error) {
			return bundle.Translate(ctx, "welcome"), nil
		}),
	}), &recordingRenderer{}, WithTranslations(bundle))

	assert.Equal(t, "Bienvenue", get(t, d, "/?language=fr").Body)
	assert.Equal(t, "Welcome", get(t, d, "/").Body)
}

func TestServeHTTP(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil,
		pages.Declaration{ID: "home", Path: pages.At(""), Content: pages.Literal("Hello world")},
		pages.Declaration{ID: "old", Path: pages.At("old"), Content: pages.Producer(func(ctx context.Context) (any, error) {
			Redirect(ctx, "")
			return "", nil
		})},
		pages.Declaration{ID: "broken", Path: pages.At("broken"), Content: pages.Literal(3.5)},
	)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello world", rec.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.php/old", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/index.php/", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.php/broken", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRedirectBack(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil,
		pages.Declaration{ID: "save", Path: pages.At("save"), Content: pages.Producer(func(ctx context.Context) (any, error) {
			RedirectBack(ctx, "")
			return "", nil
		})},
	)

	resp := get(t, d, "/index.php/save?redirection=about")
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.Equal(t, "/index.php/about", resp.Header.Get("Location"))

	resp = get(t, d, "/index.php/save?redirection="+url.QueryEscape("admin/content"))
	assert.Equal(t, "/index.php/admin/content", resp.Header.Get("Location"))

	resp = get(t, d, "/index.php/save")
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.Equal(t, "/index.php/", resp.Header.Get("Location"))
}

func TestRedirectBack_StaysOnSite(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil,
		pages.Declaration{ID: "save", Path: pages.At("save"), Content: pages.Producer(func(ctx context.Context) (any, error) {
			RedirectBack(ctx, "home")
			return "", nil
		})},
	)

	resp := get(t, d, "/index.php/save?redirection="+url.QueryEscape("https://evil.example/"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/index.php/"), resp.Header.Get("Location"))

	resp = get(t, d, "/index.php/save?redirection=")
	assert.Equal(t, "/index.php/home", resp.Header.Get("Location"))
}

func TestHandleRequest_AbsoluteFormTarget(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil,
		pages.Declaration{ID: "hello", Path: pages.At("hello"), Content: pages.Literal("Hello world")},
		pages.Declaration{ID: pages.NotFoundID, Content: pages.Literal("NF")},
	)

	resp := get(t, d, "http://example.com/index.php/hello?x=1")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "Hello world", resp.Body)
}

func TestServeHTTP_ErrorShowsDeveloperToolbar(t *testing.T) {
	broken := pages.Declaration{ID: "broken", Path: pages.At(""), Content: pages.Producer(func(context.Context) (any, error) {
		return nil, errors.New("database unreachable")
	})}

	d := newTestDispatcher(&recordingRenderer{}, map[string]any{settings.KeyDeveloperToolbar: true}, broken)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
	assert.Contains(t, rec.Body.String(), `id="developer-toolbar"`)
	assert.Contains(t, rec.Body.String(), "database unreachable")

	d = newTestDispatcher(&recordingRenderer{}, nil, broken)
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "developer-toolbar")
	assert.NotContains(t, rec.Body.String(), "database unreachable")
}

func TestDispatcher_ConcurrentRequestsAreIsolated(t *testing.T) {
	d := newTestDispatcher(&recordingRenderer{}, nil,
		pages.Declaration{ID: "echo", Path: pages.At("a"), Content: pages.Producer(func(ctx context.Context) (any, error) {
			return reqctx.FromContext(ctx).String(reqctx.KeyPath), nil
		})},
		pages.Declaration{ID: "echo-b", Path: pages.At("b"), Content: pages.Producer(func(ctx context.Context) (any, error) {
			return reqctx.FromContext(ctx).String(reqctx.KeyPath), nil
		})},
	)

	done := make(chan struct{})
	for _, p := range []string{"a", "b"} {
		go func() {
			defer func() { done <- struct{}{} }()
			for range 50 {
				resp, err := d.HandleRequest(context.Background(), httptest.NewRequest(http.MethodGet, "/index.php/"+p, nil))
				if err != nil || resp.Body != p {
					t.Errorf("request for %s rendered %q (err %v)", p, resp.Body, err)
					return
				}
			}
		}()
	}
	<-done
	<-done
}

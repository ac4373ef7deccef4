package templating

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CTAG07/Ulysse/pkg/reqctx"
	"github.com/CTAG07/Ulysse/pkg/settings"
	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/CTAG07/Ulysse/pkg/templating")

// ErrTemplateNotFound is returned when a template file cannot be read from the
// theme directory.
var ErrTemplateNotFound = errors.New("template not found")

// PartialPattern matches the partial files parsed alongside every template of
// a theme directory. Partials are referenced with {{template "name.part.html" .}}.
const PartialPattern = "*.part.html"

// RequestFuncs builds the template functions that depend on the request
// carried by ctx. It is called once with context.Background() to learn the
// function names at parse time, then once per render.
type RequestFuncs func(ctx context.Context) template.FuncMap

// TemplateManager is the central controller for the templating engine.
// It parses theme templates on first use, caches them per theme directory and
// renders them into strings. All methods are concurrent-safe.
type TemplateManager struct {
	logger       *slog.Logger
	settings     *settings.Store
	funcMap      template.FuncMap
	requestFuncs RequestFuncs
	templates    map[string]*template.Template
	mu           sync.RWMutex
}

// NewTemplateManager creates a TemplateManager. The default root directory of
// every render is the theme_path setting.
func NewTemplateManager(logger *slog.Logger, st *settings.Store) *TemplateManager {
	tm := &TemplateManager{
		logger:    logger,
		settings:  st,
		templates: map[string]*template.Template{},
	}
	tm.funcMap = tm.makeFuncMap()
	return tm
}

// SetRequestFuncs installs the request-bound template functions and drops
// every cached template, since their function set changed.
func (tm *TemplateManager) SetRequestFuncs(fn RequestFuncs) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.requestFuncs = fn
	tm.funcMap = tm.makeFuncMap()
	if fn != nil {
		for name, f := range fn(context.Background()) {
			tm.funcMap[name] = f
		}
	}
	tm.templates = map[string]*template.Template{}
}

// Refresh drops every parsed template so they are read from disk again on
// their next use.
func (tm *TemplateManager) Refresh() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.templates = map[string]*template.Template{}
	tm.logger.Info("Template cache cleared")
}

// Render executes the template ref found under rootDir with every key of vars
// bound as a named value (.key), and returns everything the template wrote.
// An empty rootDir means the theme_path setting. Nothing is returned on error.
func (tm *TemplateManager) Render(ctx context.Context, ref string, vars map[string]any, rootDir string) (string, error) {
	ctx, span := tracer.Start(ctx, "templating.Render")
	defer span.End()
	span.SetAttributes(attribute.String("template.ref", ref))

	if rootDir == "" {
		rootDir = tm.settings.String(settings.KeyThemePath)
	}

	tmpl, err := tm.lookup(ctx, rootDir, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if vars == nil {
		vars = map[string]any{}
	}
	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, vars); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to execute template %s: %w", ref, err)
	}
	return buf.String(), nil
}

// lookup returns a fresh clone of the parsed template with the request
// functions of ctx installed.
func (tm *TemplateManager) lookup(ctx context.Context, rootDir, ref string) (*template.Template, error) {
	path, err := resolve(rootDir, ref)
	if err == nil {
		err = readable(path)
	}
	if err != nil {
		reqctx.FromContext(ctx).Log(reqctx.LevelWarning,
			fmt.Sprintf("%s template is not readable or does not exist", filepath.Join(rootDir, ref)))
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, ref)
	}

	key := rootDir + "\x00" + ref
	tm.mu.RLock()
	parsed, ok := tm.templates[key]
	requestFuncs := tm.requestFuncs
	tm.mu.RUnlock()

	if !ok {
		parsed, err = tm.parse(rootDir, path)
		if err != nil {
			return nil, err
		}
		tm.mu.Lock()
		tm.templates[key] = parsed
		tm.mu.Unlock()
	}

	// Execute on a clone so the cached set stays unexecuted and request
	// functions never leak between requests.
	clone, err := parsed.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone template %s: %w", ref, err)
	}
	if requestFuncs != nil {
		clone.Funcs(requestFuncs(ctx))
	}
	return clone, nil
}

func (tm *TemplateManager) parse(rootDir, path string) (*template.Template, error) {
	tm.mu.RLock()
	funcMap := tm.funcMap
	tm.mu.RUnlock()

	tm.logger.Debug("Parsing template", "path", path)
	parsed, err := template.New(filepath.Base(path)).Funcs(funcMap).ParseFiles(path)
	if err != nil {
		tm.logger.Error("failed to parse template file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}

	partials, err := filepath.Glob(filepath.Join(rootDir, PartialPattern))
	if err != nil {
		return nil, err
	}
	for _, p := range partials {
		if p == path {
			continue
		}
		if parsed, err = parsed.ParseFiles(p); err != nil {
			tm.logger.Error("failed to parse partial file", "path", p, "error", err)
			return nil, fmt.Errorf("failed to parse partial %s: %w", p, err)
		}
	}
	return parsed, nil
}

// resolve joins ref onto rootDir, refusing references that leave rootDir.
func resolve(rootDir, ref string) (string, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(root, ref))
	if err != nil {
		return "", err
	}
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("template %s is outside %s", ref, rootDir)
	}
	return path, nil
}

func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// ExecuteTemplateString parses and executes a raw template string using the
// manager's function map and the request functions of ctx.
func (tm *TemplateManager) ExecuteTemplateString(ctx context.Context, w io.Writer, content string, data any) error {
	tm.mu.RLock()
	funcMap := tm.funcMap
	requestFuncs := tm.requestFuncs
	tm.mu.RUnlock()

	t := template.New("").Funcs(funcMap)
	if requestFuncs != nil {
		t.Funcs(requestFuncs(ctx))
	}
	t, err := t.Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse string template: %w", err)
	}
	return t.Execute(w, data)
}

// Watch refreshes the template cache whenever a file under rootDir changes,
// until ctx is done. An empty rootDir means the theme_path setting.
func (tm *TemplateManager) Watch(ctx context.Context, rootDir string) error {
	if rootDir == "" {
		rootDir = tm.settings.String(settings.KeyThemePath)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err = watcher.Add(rootDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", rootDir, err)
	}

	go func() {
		defer func(watcher *fsnotify.Watcher) {
			_ = watcher.Close()
		}(watcher)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					tm.logger.Debug("Theme changed", "file", event.Name, "op", event.Op.String())
					tm.Refresh()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				tm.logger.Warn("Template watcher error", "error", err)
			}
		}
	}()
	tm.logger.Info("Watching theme directory for changes", "dir", rootDir)
	return nil
}

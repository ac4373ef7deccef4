package pages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownProducer is returned when a declaration names a producer
	// that was not registered with the FileSource.
	ErrUnknownProducer = errors.New("unknown producer")

	// ErrAmbiguousContent is returned when a declaration sets more than one
	// of content, markdown, translation and producer.
	ErrAmbiguousContent = errors.New("more than one content source")
)

// Translator resolves a string identifier in the language of the request
// carried by ctx.
type Translator interface {
	Translate(ctx context.Context, id string) string
}

// FileSource loads declarations from a YAML file holding an ordered list of
// pages. Go producers are referenced by name and must be registered in Producers.
type FileSource struct {
	Path       string
	Producers  map[string]ProducerFunc
	Translator Translator
	Markdown   goldmark.Markdown
}

type fileEntry struct {
	ID              string         `yaml:"id"`
	Path            *string        `yaml:"path"`
	Content         *string        `yaml:"content"`
	Markdown        string         `yaml:"markdown"`
	Translation     string         `yaml:"translation"`
	Producer        string         `yaml:"producer"`
	Layout          string         `yaml:"layout"`
	LayoutVariables map[string]any `yaml:"layout_variables"`
	Status          int            `yaml:"status"`
}

// Load implements Loader.
func (s FileSource) Load(_ context.Context) ([]Declaration, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pages file: %w", err)
	}
	var entries []fileEntry
	if err = yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse pages file %s: %w", s.Path, err)
	}

	decls := make([]Declaration, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("page #%d in %s has no id", i, s.Path)
		}
		d, err := s.declaration(e)
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", e.ID, err)
		}
		decls = append(decls, d)
	}
	return decls, nil
}

func (s FileSource) declaration(e fileEntry) (Declaration, error) {
	d := Declaration{
		ID:     e.ID,
		Path:   e.Path,
		Layout: e.Layout,
		Status: e.Status,
	}

	sources := 0
	for _, set := range []bool{e.Content != nil, e.Markdown != "", e.Translation != "", e.Producer != ""} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return d, ErrAmbiguousContent
	}

	switch {
	case e.Content != nil:
		d.Content = Literal(*e.Content)
	case e.Markdown != "":
		d.Content = s.markdownFile(e.Markdown)
	case e.Translation != "":
		d.Content = s.translation(e.Translation)
	case e.Producer != "":
		fn, err := s.producer(e.Producer)
		if err != nil {
			return d, err
		}
		d.Content = Producer(fn)
	default:
		d.Content = Literal("")
	}

	if len(e.LayoutVariables) > 0 {
		d.LayoutVariables = make(map[string]Value, len(e.LayoutVariables))
		for name, raw := range e.LayoutVariables {
			v, err := s.layoutVariable(raw)
			if err != nil {
				return d, fmt.Errorf("layout variable %q: %w", name, err)
			}
			d.LayoutVariables[name] = v
		}
	}
	return d, nil
}

// layoutVariable turns {producer: name} mappings into producers and keeps
// everything else literal.
func (s FileSource) layoutVariable(raw any) (Value, error) {
	if m, ok := raw.(map[string]any); ok && len(m) == 1 {
		if name, ok := m["producer"].(string); ok {
			fn, err := s.producer(name)
			if err != nil {
				return Value{}, err
			}
			return Producer(fn), nil
		}
	}
	return Literal(raw), nil
}

func (s FileSource) producer(name string) (ProducerFunc, error) {
	fn, ok := s.Producers[name]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProducer, name)
	}
	return fn, nil
}

func (s FileSource) translation(id string) Value {
	return Producer(func(ctx context.Context) (any, error) {
		if s.Translator == nil {
			return id, nil
		}
		return s.Translator.Translate(ctx, id), nil
	})
}

// markdownFile renders the file on every evaluation so edits show up without a restart.
func (s FileSource) markdownFile(path string) Value {
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(s.Path), path)
	}
	md := s.Markdown
	if md == nil {
		md = goldmark.New()
	}
	return Producer(func(context.Context) (any, error) {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read markdown content: %w", err)
		}
		var buf bytes.Buffer
		if err = md.Convert(src, &buf); err != nil {
			return nil, fmt.Errorf("failed to render markdown %s: %w", path, err)
		}
		return template.HTML(buf.String()), nil
	})
}

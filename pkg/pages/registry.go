// Package pages defines page declarations and the memoized registry they are
// looked up in.
package pages

import (
	"context"
	"log/slog"
	"sync"
)

// Loader returns the ordered page declarations of a site.
type Loader func(ctx context.Context) ([]Declaration, error)

// Registry loads declarations once and serves lookups from memory.
// All methods are concurrent-safe.
type Registry struct {
	logger *slog.Logger
	load   Loader
	once   sync.Once
	decls  []Declaration
	byID   map[string]int
	err    error
}

// NewRegistry creates a Registry backed by load. Nothing is loaded until the
// first lookup.
func NewRegistry(logger *slog.Logger, load Loader) *Registry {
	return &Registry{
		logger: logger,
		load:   load,
	}
}

// NewStatic creates a Registry over a fixed list of declarations.
func NewStatic(decls ...Declaration) *Registry {
	return NewRegistry(slog.New(slog.DiscardHandler), func(context.Context) ([]Declaration, error) {
		return decls, nil
	})
}

func (r *Registry) ensure(ctx context.Context) {
	r.once.Do(func() {
		loaded, err := r.load(ctx)
		if err != nil {
			r.err = err
			r.logger.Error("Failed to load page declarations", "error", err)
		}
		r.byID = make(map[string]int, len(loaded))
		for _, d := range loaded {
			// a repeated ID replaces the earlier entry but keeps its position
			if i, ok := r.byID[d.ID]; ok {
				r.logger.Debug("Page declaration redefined", "id", d.ID)
				r.decls[i] = d
				continue
			}
			r.byID[d.ID] = len(r.decls)
			r.decls = append(r.decls, d)
		}
		r.logger.Info("Loaded page declarations", "count", len(r.decls))
	})
}

// Load forces the initial load and returns its error, if any.
func (r *Registry) Load(ctx context.Context) error {
	r.ensure(ctx)
	return r.err
}

// All returns every declaration in declaration order. The slice must not be modified.
func (r *Registry) All(ctx context.Context) []Declaration {
	r.ensure(ctx)
	return r.decls
}

// ByKey returns the declaration with the given ID.
func (r *Registry) ByKey(ctx context.Context, id string) (Declaration, bool) {
	r.ensure(ctx)
	i, ok := r.byID[id]
	if !ok {
		return Declaration{}, false
	}
	return r.decls[i], true
}

// ByPath scans decls and returns the last declaration routable at path.
func ByPath(path string, decls []Declaration) (Declaration, bool) {
	var (
		found Declaration
		ok    bool
	)
	for _, d := range decls {
		if d.Matches(path) {
			found, ok = d, true
		}
	}
	return found, ok
}

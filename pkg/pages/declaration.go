package pages

import (
	"context"
	"fmt"
)

// Reserved declaration identifiers.
const (
	NotFoundID  = "__HTTP_404__"
	ForbiddenID = "__HTTP_403__"
)

// ProducerFunc computes a value on demand. The context carries the request
// state (see package reqctx); producers take no other input.
type ProducerFunc func(ctx context.Context) (any, error)

// Value is either a literal or a producer. The zero Value is the literal nil.
type Value struct {
	literal  any
	producer ProducerFunc
}

// Literal wraps a fixed value.
func Literal(v any) Value {
	return Value{literal: v}
}

// Producer wraps a function evaluated at render time.
func Producer(fn ProducerFunc) Value {
	return Value{producer: fn}
}

// Text is shorthand for a producer that cannot fail.
func Text(fn func() string) Value {
	return Producer(func(context.Context) (any, error) {
		return fn(), nil
	})
}

// IsProducer reports whether the value has to be computed.
func (v Value) IsProducer() bool {
	return v.producer != nil
}

// Evaluate returns the literal, or invokes the producer exactly once and
// returns its result.
func (v Value) Evaluate(ctx context.Context) (any, error) {
	if v.producer == nil {
		return v.literal, nil
	}
	out, err := v.producer(ctx)
	if err != nil {
		return nil, fmt.Errorf("producer failed: %w", err)
	}
	return out, nil
}

// Declaration describes how to build the response body for a path.
type Declaration struct {
	// ID is unique within a Registry.
	ID string

	// Path is the exact logical path this page answers to. A nil Path means
	// the page is only reachable by ID.
	Path *string

	// Content produces the page body.
	Content Value

	// Layout is a template reference relative to the theme directory.
	Layout string

	// LayoutVariables are exposed to the layout next to "content".
	LayoutVariables map[string]Value

	// Status, when non-zero, is the HTTP status the page responds with.
	Status int
}

// At returns a pointer to path, for use in Declaration literals.
func At(path string) *string {
	return &path
}

// Matches reports whether d is routable at path.
func (d Declaration) Matches(path string) bool {
	return d.Path != nil && *d.Path == path
}

// IsZero reports whether d is the empty declaration.
func (d Declaration) IsZero() bool {
	return d.ID == "" && d.Path == nil && d.Layout == "" && d.Status == 0 &&
		len(d.LayoutVariables) == 0 && !d.Content.IsProducer() && d.Content.literal == nil
}

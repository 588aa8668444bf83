// Package graph describes updates and selections over a quad store: entities
// and statements grouped into partitions. Builders in this package only
// describe work; a Store executes it.
package graph

import (
	"context"
	"errors"
)

// DefaultBindingLimit is the number of distinct entities a single selection
// may bind before the store refuses it.
const DefaultBindingLimit = 32

// ErrBindingLimit is returned when a unit or query binds more entities than
// the store allows. Retrying the same request cannot succeed.
var ErrBindingLimit = errors.New("graph: selection binds too many entities")

// Query is a read-only selection.
type Query struct {
	Where     []Pattern
	Optionals [][]Pattern
	// Project lists the variables returned per row. Empty means every
	// variable bound by Where and Optionals.
	Project []string
}

// BoundEntities counts the distinct entities the query binds.
func (q *Query) BoundEntities() int {
	seen := make(map[string]struct{})
	boundEntities(q.Where, seen)
	for _, group := range q.Optionals {
		boundEntities(group, seen)
	}
	return len(seen)
}

// Row is one solution of a selection. Variables left unbound by an optional
// group are absent.
type Row map[string]Term

// Get returns the value bound to name, or the zero Term.
func (r Row) Get(name string) Term { return r[name] }

// Store applies updates atomically and answers selections.
type Store interface {
	Apply(ctx context.Context, u *Update) error
	Select(ctx context.Context, q *Query) ([]Row, error)
}

// Split cuts items into consecutive groups of at most size elements.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBindingLimit
	}
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

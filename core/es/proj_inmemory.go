package es

import (
	"context"
	"sync"
)

// InMemoryProjection is a Projection materializing one row of type T per
// aggregate. Rows live behind an RWMutex, so reads never block the fold
// for longer than a row copy.
//
// The fold function receives the row for the event's aggregate, created
// zero-valued on first sight.
type InMemoryProjection[T any] struct {
	name string
	fold func(row *T, env Envelope, event any) error

	mu   sync.RWMutex
	rows map[string]*T
}

func NewInMemoryProjection[T any](name string, fold func(row *T, env Envelope, event any) error) *InMemoryProjection[T] {
	return &InMemoryProjection[T]{
		name: name,
		fold: fold,
		rows: map[string]*T{},
	}
}

func (p *InMemoryProjection[T]) Name() string { return p.name }

func (p *InMemoryProjection[T]) Apply(_ context.Context, env Envelope, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, ok := p.rows[env.AggregateID]
	if !ok {
		row = new(T)
		p.rows[env.AggregateID] = row
	}
	return p.fold(row, env, event)
}

func (p *InMemoryProjection[T]) Reset(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = map[string]*T{}
	return nil
}

// Get returns a copy of the row for the given aggregate ID.
func (p *InMemoryProjection[T]) Get(aggregateID string) (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	row, ok := p.rows[aggregateID]
	if !ok {
		var zero T
		return zero, false
	}
	return *row, true
}

// Len returns the number of materialized rows.
func (p *InMemoryProjection[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rows)
}

// Range calls fn for each row until fn returns false. Rows are passed by
// value; mutation does not write through.
func (p *InMemoryProjection[T]) Range(fn func(aggregateID string, row T) bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for aggID, row := range p.rows {
		if !fn(aggID, *row) {
			return
		}
	}
}

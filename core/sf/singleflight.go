// Package sf wraps golang.org/x/sync/singleflight with a typed result.
//
// Single-flight deduplicates concurrent calls that share a key: the first
// caller executes the function, later callers block and receive the same
// result. The repository uses it so a burst of Loads for one aggregate
// fetches its snapshot once.
package sf

import "golang.org/x/sync/singleflight"

// Singleflight deduplicates concurrent calls with the same key. The zero
// value is ready to use.
type Singleflight[T any] struct {
	group singleflight.Group
}

// Do executes fn for key unless a call for the same key is already
// in-flight, in which case it waits and returns that call's result. The
// shared *T must be treated as read-only by all callers.
func (s *Singleflight[T]) Do(key string, fn func() (*T, error)) (*T, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// New creates a Singleflight for type T.
func New[T any]() *Singleflight[T] {
	return &Singleflight[T]{}
}

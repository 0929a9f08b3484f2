// Package ds provides small generic data structures.
package ds

import (
	"encoding/json"
	"fmt"
)

type StringSet = Set[string]

// Set is an insertion-ordered set: O(1) membership, deterministic
// iteration. Not safe for concurrent use.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: map[T]struct{}{}, order: make([]T, 0, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func NewStringSet(items ...string) *StringSet {
	return NewSet(items...)
}

// Add inserts v; adding an existing element is a no-op.
func (s *Set[T]) Add(v T) {
	if s.Contains(v) {
		return
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Len() int { return len(s.items) }

func (s *Set[T]) IsEmpty() bool { return len(s.items) == 0 }

// Merge adds all elements of other, keeping s's existing order first.
func (s *Set[T]) Merge(other *Set[T]) {
	for _, v := range other.order {
		s.Add(v)
	}
}

// ForEach visits elements in insertion order.
func (s *Set[T]) ForEach(fn func(T)) {
	for _, v := range s.order {
		fn(v)
	}
}

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set[T]) String() string {
	return fmt.Sprintf("%v", s.order)
}

// MarshalJSON serializes the set as an ordered array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON replaces the set's contents with the given array.
func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	s.items = map[T]struct{}{}
	s.order = nil
	for _, v := range items {
		s.Add(v)
	}
	return nil
}

// Package cache provides a small key-value cache with LRU eviction and
// optional per-entry TTL. The caching snapshotter decorator uses it to keep
// hot snapshots in process so a load does not have to round-trip to the
// snapshot store.
package cache

import "time"

type PutOptions struct {
	TTL time.Duration
}

type PutOption func(*PutOptions)

// WithTTL sets a per-entry expiry. Expired entries are evicted lazily on
// access.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) { o.TTL = ttl }
}

type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
}

// TypedCache wraps a Cache with compile-time type safety. A stored value of
// a different type reads as a miss.
type TypedCache[T any] interface {
	Get(key string) (T, bool)
	Put(key string, val T, opts ...PutOption)
	Delete(key string)
}

type typedCache[T any] struct {
	c Cache
}

func NewTyped[T any](c Cache) TypedCache[T] { return &typedCache[T]{c: c} }

func (t *typedCache[T]) Get(key string) (out T, ok bool) {
	v, ok := t.c.Get(key)
	if !ok {
		return out, false
	}
	out, ok = v.(T)
	return out, ok
}

func (t *typedCache[T]) Put(key string, val T, opts ...PutOption) {
	t.c.Put(key, val, opts...)
}

func (t *typedCache[T]) Delete(key string) {
	t.c.Delete(key)
}

var _ TypedCache[any] = (*typedCache[any])(nil)

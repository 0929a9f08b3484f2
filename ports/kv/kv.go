// Package kv defines the byte-oriented key-value port backing snapshot and
// checkpoint storage. Implementations translate their backend's missing-key
// error into [ErrNotFound] so callers can branch on it uniformly.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

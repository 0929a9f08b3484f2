package es

import "log/slog"

// Version is the per-aggregate stream version. It is a monotonically
// increasing value starting at 1 for the first event; 0 means the aggregate
// has no history. Version drives optimistic concurrency control: an append
// only commits when the caller's expected version matches the stream head.
type Version uint64

func (v Version) Uint64() uint64                       { return uint64(v) }
func (v Version) SlogAttr() slog.Attr                  { return slogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr { return slogVersionAttr(key, v) }

func slogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }

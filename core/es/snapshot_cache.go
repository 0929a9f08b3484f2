package es

import (
	"context"

	"github.com/streamfold/eskit/core/cache"
)

// CachingSnapshotter keeps recently used snapshots in an in-process cache
// so hot aggregates skip the backing store on Load. Writes go through to
// the backing snapshotter first; the cache is only updated on success, so
// it never holds a snapshot the store does not.
type CachingSnapshotter struct {
	next  Snapshotter
	cache cache.TypedCache[*Snapshot]
}

func NewCachingSnapshotter(next Snapshotter, c cache.Cache) *CachingSnapshotter {
	if c == nil {
		c = cache.NewLRU(cache.LRUOpts{})
	}
	return &CachingSnapshotter{
		next:  next,
		cache: cache.NewTyped[*Snapshot](c),
	}
}

func (c *CachingSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if err := c.next.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}
	c.cache.Put(snapshotKey(snapshot.AggregateType, snapshot.AggregateID), snapshot)
	return nil
}

func (c *CachingSnapshotter) LoadSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error) {
	key := snapshotKey(aggType, aggID)
	if s, ok := c.cache.Get(key); ok {
		return s, nil
	}
	s, err := c.next.LoadSnapshot(ctx, aggType, aggID)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, s)
	return s, nil
}

var _ Snapshotter = (*CachingSnapshotter)(nil)

package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamfold/eskit/core/cache"
)

// countingSnapshotter records how often the backing store is hit.
type countingSnapshotter struct {
	Snapshotter
	loads int
	saves int
}

func (c *countingSnapshotter) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	c.saves++
	return c.Snapshotter.SaveSnapshot(ctx, s)
}

func (c *countingSnapshotter) LoadSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error) {
	c.loads++
	return c.Snapshotter.LoadSnapshot(ctx, aggType, aggID)
}

func TestCachingSnapshotter(t *testing.T) {
	ctx := context.Background()
	backing := &countingSnapshotter{Snapshotter: NewInMemorySnapshotter()}
	cs := NewCachingSnapshotter(backing, cache.NewLRU(cache.LRUOpts{Size: 4}))

	// a miss goes through and is not cached as a negative entry
	_, err := cs.LoadSnapshot(ctx, "account", "a-1")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
	require.Equal(t, 1, backing.loads)

	require.NoError(t, cs.SaveSnapshot(ctx, &Snapshot{
		AggregateType: "account",
		AggregateID:   "a-1",
		Version:       3,
	}))
	require.Equal(t, 1, backing.saves)

	// save populated the cache, so loads skip the backing store
	for range 3 {
		s, err := cs.LoadSnapshot(ctx, "account", "a-1")
		require.NoError(t, err)
		require.Equal(t, Version(3), s.Version)
	}
	require.Equal(t, 1, backing.loads)

	// an uncached aggregate is fetched once, then served from cache
	require.NoError(t, backing.SaveSnapshot(ctx, &Snapshot{
		AggregateType: "account",
		AggregateID:   "a-2",
		Version:       7,
	}))
	for range 2 {
		s, err := cs.LoadSnapshot(ctx, "account", "a-2")
		require.NoError(t, err)
		require.Equal(t, Version(7), s.Version)
	}
	require.Equal(t, 2, backing.loads)
}

func TestCachingSnapshotter_SaveFailureDoesNotCache(t *testing.T) {
	ctx := context.Background()
	cs := NewCachingSnapshotter(failingSnapshotter{}, nil)

	err := cs.SaveSnapshot(ctx, &Snapshot{AggregateType: "account", AggregateID: "a-1"})
	require.Error(t, err)

	// nothing cached after the failed save; the load reaches the backing
	// store and reports its miss
	_, err = cs.LoadSnapshot(ctx, "account", "a-1")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

type failingSnapshotter struct{}

func (failingSnapshotter) SaveSnapshot(context.Context, *Snapshot) error {
	return ErrStorageUnavailable
}

func (failingSnapshotter) LoadSnapshot(context.Context, string, string) (*Snapshot, error) {
	return nil, ErrSnapshotNotFound
}

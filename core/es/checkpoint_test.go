package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamfold/eskit/ports/kv"
)

func TestInMemoryCpStore(t *testing.T) {
	cp := NewInMemoryCpStore()

	_, err := cp.Get()
	require.ErrorIs(t, err, ErrCheckpointNotFound)

	require.NoError(t, cp.Set(42))
	seq, err := cp.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(42), seq)

	// zero is a valid checkpoint, distinct from "never set"
	require.NoError(t, cp.Set(0))
	seq, err = cp.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(0), seq)
}

func TestKeyValueCpStore(t *testing.T) {
	store := kv.NewMemStore()
	cp := NewKeyValueCpStore(store, "proj-1")

	_, err := cp.Get()
	require.ErrorIs(t, err, ErrCheckpointNotFound)

	require.NoError(t, cp.Set(7))
	seq, err := cp.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(7), seq)

	// checkpoints are isolated per key
	other := NewKeyValueCpStore(store, "proj-2")
	_, err = other.Get()
	require.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestKeyValueSnapshotter(t *testing.T) {
	ctx := context.Background()
	s := NewKeyValueSnapshotter(kv.NewMemStore())

	_, err := s.LoadSnapshot(ctx, "account", "missing")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, s.SaveSnapshot(ctx, &Snapshot{
		SnapshotID:    "s-1",
		AggregateType: "account",
		AggregateID:   "a-1",
		Version:       5,
		StreamSeq:     12,
		Data:          []byte(`{"balance":100}`),
	}))

	got, err := s.LoadSnapshot(ctx, "account", "a-1")
	require.NoError(t, err)
	require.Equal(t, "s-1", got.SnapshotID)
	require.Equal(t, Version(5), got.Version)
	require.Equal(t, uint64(12), got.StreamSeq)
	require.JSONEq(t, `{"balance":100}`, string(got.Data))

	// latest save wins
	require.NoError(t, s.SaveSnapshot(ctx, &Snapshot{
		SnapshotID:    "s-2",
		AggregateType: "account",
		AggregateID:   "a-1",
		Version:       9,
	}))
	got, err = s.LoadSnapshot(ctx, "account", "a-1")
	require.NoError(t, err)
	require.Equal(t, Version(9), got.Version)
}

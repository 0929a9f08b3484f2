package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	v := []byte("hello")
	require.NoError(t, s.Put(ctx, "a", v))

	// the store must hold its own copy
	v[0] = 'X'
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	// reads return copies too
	got[0] = 'Y'
	got2, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got2)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	// deleting a missing key is not an error
	require.NoError(t, s.Delete(ctx, "missing"))
}

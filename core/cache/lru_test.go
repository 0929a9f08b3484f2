package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU(LRUOpts{Size: 2})

	c.Put("a", 1)
	c.Put("b", 2)

	// touch "a" so "b" becomes the eviction candidate
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", 3)
	require.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	require.False(t, ok)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = c.Get("c")
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestLRU_UpdateExisting(t *testing.T) {
	c := NewLRU(LRUOpts{Size: 2})

	c.Put("a", 1)
	c.Put("a", 2)
	require.Equal(t, 1, c.Len())

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestLRU_TTL(t *testing.T) {
	c := NewLRU(LRUOpts{Size: 8})

	c.Put("a", 1, WithTTL(time.Nanosecond))
	c.Put("b", 2)

	time.Sleep(time.Millisecond)

	_, ok := c.Get("a")
	require.False(t, ok)

	_, ok = c.Get("b")
	require.True(t, ok)
}

func TestLRU_Delete(t *testing.T) {
	c := NewLRU(LRUOpts{Size: 8})

	c.Put("a", 1)
	c.Delete("a")
	c.Delete("missing")

	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestTyped(t *testing.T) {
	c := NewLRU(LRUOpts{Size: 8})
	tc := NewTyped[string](c)

	tc.Put("a", "hello")
	v, ok := tc.Get("a")
	require.True(t, ok)
	require.Equal(t, "hello", v)

	// a value of another type reads as a miss
	c.Put("b", 42)
	_, ok = tc.Get("b")
	require.False(t, ok)

	tc.Delete("a")
	_, ok = tc.Get("a")
	require.False(t, ok)
}

func TestNop(t *testing.T) {
	var c Cache = NewNop()
	c.Put("a", 1)
	_, ok := c.Get("a")
	require.False(t, ok)
	c.Delete("a")
}

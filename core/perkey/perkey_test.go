package perkey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSerializesPerKey(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var mu sync.Mutex
	order := make([]int, 0, 10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, s.Do("a", func() error {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	wg.Wait()

	for i, v := range order {
		require.Equal(t, i, v, "tasks for one key must run in submission order")
	}
}

func TestConcurrentAcrossKeys(t *testing.T) {
	s := New[string]()
	defer s.Close()

	aStarted := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = s.Do("a", func() error {
			close(aStarted)
			<-release
			return nil
		})
	}()

	<-aStarted

	// key "b" must not be blocked by the stalled "a" worker
	done := make(chan struct{})
	go func() {
		_ = s.Do("b", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task for a different key was blocked")
	}
	close(release)
}

func TestDoContextCancelled(t *testing.T) {
	s := New[string]()
	defer s.Close()

	executed := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Do("a", func() error {
			<-release
			return nil
		})
	}()

	// give the first task time to occupy the worker
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := s.DoContext(ctx, "a", func() error {
		close(executed)
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	// enqueued task still executes after the worker frees up
	close(release)
	select {
	case <-executed:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueued task never executed")
	}
}

func TestClosed(t *testing.T) {
	s := New[string]()
	s.Close()
	require.ErrorIs(t, s.Do("a", func() error { return nil }), ErrClosed)
	s.Close() // idempotent
}

// Package clock abstracts the source of commit timestamps so stores can be
// tested with deterministic time.
package clock

import (
	"sync"
	"time"
)

// Time is the default wall clock.
var Time Clock = realClock{}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Frozen is a Clock that only advances when told to. Useful in tests
// asserting on OccurredAt / CreatedAt values.
type Frozen struct {
	mu  sync.Mutex
	now time.Time
}

// NewFrozen returns a Frozen clock starting at t.
func NewFrozen(t time.Time) *Frozen {
	return &Frozen{now: t}
}

func (f *Frozen) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d and returns the new time.
func (f *Frozen) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

var _ Clock = (*Frozen)(nil)

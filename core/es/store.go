package es

import (
	"context"
	"iter"
	"time"
)

type (
	startVersionOption valueOption[Version]
	StartSeqOption     valueOption[uint64]

	storeLoadOptions struct {
		startVersion Version
		startSeq     uint64
	}

	storeLoadOptionsReceiver interface {
		SetStartVersion(Version)
		SetStartSeq(uint64)
	}

	StoreLoadOption interface {
		ApplyToStoreLoadOptions(storeLoadOptionsReceiver)
	}
)

func (e *storeLoadOptions) SetStartVersion(v Version) { e.startVersion = v }
func (e *storeLoadOptions) SetStartSeq(seq uint64)    { e.startSeq = seq }

// WithStartAtVersion sets the lowest version to load, used to resume replay
// after a snapshot.
func WithStartAtVersion(startVersion Version) StoreLoadOption {
	return startVersionOption{startVersion}
}

// WithStartAtSeq sets the lowest global sequence to load.
func WithStartAtSeq(startSeq uint64) StartSeqOption { return StartSeqOption{startSeq} }

func (o startVersionOption) ApplyToStoreLoadOptions(r storeLoadOptionsReceiver) {
	r.SetStartVersion(o.v)
}
func (o StartSeqOption) ApplyToStoreLoadOptions(r storeLoadOptionsReceiver) {
	r.SetStartSeq(o.v)
}

// NewStoreLoadOptions folds StoreLoadOptions into a plain struct. Store
// implementations use it instead of re-implementing the option plumbing.
func NewStoreLoadOptions(opts ...StoreLoadOption) (startVersion Version, startSeq uint64) {
	o := &storeLoadOptions{}
	for _, opt := range opts {
		opt.ApplyToStoreLoadOptions(o)
	}
	return o.startVersion, o.startSeq
}

// Query restricts a historical Events scan. The zero value matches the whole
// store. All filters are conjunctive.
type Query struct {
	// AggregateType / AggregateID restrict to one type or one stream.
	AggregateType string
	AggregateID   string
	// EventType restricts to one event type name.
	EventType string
	// FromVersion is the lowest per-aggregate version to include.
	FromVersion Version
	// FromSeq is the lowest global sequence to include.
	FromSeq uint64
	// Since/Until bound the commit timestamp (inclusive since, exclusive
	// until; zero means unbounded).
	Since time.Time
	Until time.Time
}

// Matches reports whether e satisfies every restriction of q.
func (q Query) Matches(e Envelope) bool {
	if q.AggregateType != "" && e.AggregateType != q.AggregateType {
		return false
	}
	if q.AggregateID != "" && e.AggregateID != q.AggregateID {
		return false
	}
	if q.EventType != "" && e.Type != q.EventType {
		return false
	}
	if e.Version < q.FromVersion {
		return false
	}
	if e.Seq < q.FromSeq {
		return false
	}
	if !q.Since.IsZero() && e.OccurredAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.OccurredAt.Before(q.Until) {
		return false
	}
	return true
}

// AppendResult describes the outcome of a committed append.
type AppendResult struct {
	// LastSeq is the global sequence assigned to the last event of the
	// batch.
	LastSeq uint64
	// Version is the new stream head version.
	Version Version
}

// EventStore is the durable, append-only log keyed by aggregate identity.
// It is the single owner of the event log: one writer per aggregate id,
// unlimited concurrent readers. Reads observe either the pre- or post-append
// state of a stream, never a partial batch.
type EventStore interface {
	Stream

	// Load returns the envelopes of one stream in version order, from
	// version 1 (or the configured floor) to head. Returns
	// ErrAggregateNotFound for an unknown stream.
	Load(ctx context.Context, aggType string, aggID string, opts ...StoreLoadOption) ([]Envelope, error)

	// Append atomically verifies that the stream head equals
	// expectedVersion, stamps commit metadata and persists the batch
	// all-or-nothing. A stale expected version fails the whole batch with
	// ErrConcurrencyConflict and persists nothing. After the commit the
	// store notifies subscribers.
	Append(ctx context.Context, aggType string, aggID string, expectedVersion Version, events []Envelope) (*AppendResult, error)

	// Events lazily yields committed envelopes matching q in global
	// sequence order. The returned sequence is finite (bounded by the head
	// at call time) and restartable: re-ranging re-runs the query.
	Events(ctx context.Context, q Query) iter.Seq2[Envelope, error]
}

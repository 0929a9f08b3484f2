package es

import (
	"context"
	"errors"
)

// ErrSlowConsumer is reported by a Subscription whose buffer overflowed.
// The store evicts such subscriptions instead of blocking the write path;
// consumers resubscribe from their checkpoint to resume delivery.
var ErrSlowConsumer = errors.New("slow consumer: subscription evicted")

type DeliverPolicy string

const (
	// DeliverAllPolicy replays history (from the start sequence) before
	// delivering new events.
	DeliverAllPolicy DeliverPolicy = "all"
	// DeliverNewPolicy delivers only events committed after subscribing.
	DeliverNewPolicy DeliverPolicy = "new"
)

// SubscribeFilter restricts delivery to matching aggregate type and/or id.
// Empty fields match everything.
type SubscribeFilter struct {
	AggregateType string
	AggregateID   string
}

type SubscribeOpts struct {
	deliverPolicy DeliverPolicy
	filters       []SubscribeFilter
	startSequence uint64
	bufferSize    int
}

func (s *SubscribeOpts) DeliverPolicy() DeliverPolicy { return s.deliverPolicy }
func (s *SubscribeOpts) Filters() []SubscribeFilter   { return s.filters }
func (s *SubscribeOpts) StartSequence() uint64        { return s.startSequence }
func (s *SubscribeOpts) BufferSize() int              { return s.bufferSize }

type SubscribeOption func(opts *SubscribeOpts)

func NewSubscribeOpts(opts ...SubscribeOption) SubscribeOpts {
	options := SubscribeOpts{
		deliverPolicy: DeliverNewPolicy,
		bufferSize:    256,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithDeliverPolicy(policy DeliverPolicy) SubscribeOption {
	return func(opts *SubscribeOpts) { opts.deliverPolicy = policy }
}

func WithFilters(filters ...SubscribeFilter) SubscribeOption {
	return func(opts *SubscribeOpts) { opts.filters = filters }
}

func WithStartSequence(startSequence uint64) SubscribeOption {
	return func(opts *SubscribeOpts) { opts.startSequence = startSequence }
}

// WithBufferSize bounds the per-subscription delivery buffer.
func WithBufferSize(size int) SubscribeOption {
	return func(opts *SubscribeOpts) {
		if size > 0 {
			opts.bufferSize = size
		}
	}
}

// Subscription is the commit notification channel between the store and its
// consumers. Delivery is at-least-once; consumers must apply idempotently.
type Subscription interface {
	// Chan yields envelopes in global sequence order. It is closed on
	// Cancel or when the store evicts the subscription.
	Chan() <-chan Envelope
	// Cancel stops delivery and closes the channel.
	Cancel()
	// MaxSequence returns the store head sequence observed at subscribe
	// time; consumers use it to detect catch-up completion.
	MaxSequence() uint64
	// Err reports why the channel closed: nil after Cancel,
	// ErrSlowConsumer after a buffer overflow eviction.
	Err() error
}

// Stream is the subscribable half of an event store.
type Stream interface {
	Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error)
}

func matchFilters(env Envelope, filters []SubscribeFilter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if matchFilter(env, f) {
			return true
		}
	}
	return false
}

func matchFilter(env Envelope, filter SubscribeFilter) bool {
	if filter.AggregateType != "" && env.AggregateType != filter.AggregateType {
		return false
	}
	if filter.AggregateID != "" && env.AggregateID != filter.AggregateID {
		return false
	}
	return true
}

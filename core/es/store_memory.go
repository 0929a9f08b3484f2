package es

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/streamfold/eskit/clock"
	"github.com/streamfold/eskit/core/perkey"
)

// InMemoryStore is a correct optimistic-concurrency store for tests and
// development. Appends to one stream are serialized through a per-key
// scheduler; appends to different streams and all reads run concurrently.
type InMemoryStore struct {
	log   *slog.Logger
	clock clock.Clock
	sched *perkey.Scheduler[string]

	mu      sync.RWMutex
	seq     uint64
	streams map[string][]Envelope
	events  []Envelope
	subs    map[string]*memSubscription
}

type InMemoryStoreOption func(*InMemoryStore)

// WithStoreClock sets the clock used for commit timestamps.
func WithStoreClock(c clock.Clock) InMemoryStoreOption {
	return func(s *InMemoryStore) { s.clock = c }
}

// WithStoreLog sets the diagnostics logger.
func WithStoreLog(log *slog.Logger) InMemoryStoreOption {
	return func(s *InMemoryStore) { s.log = log }
}

func NewInMemoryStore(opts ...InMemoryStoreOption) *InMemoryStore {
	s := &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		clock:   clock.Time,
		sched:   perkey.New[string](),
		streams: map[string][]Envelope{},
		subs:    map[string]*memSubscription{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close shuts down the append scheduler. Pending appends still commit.
func (s *InMemoryStore) Close() { s.sched.Close() }

func (s *InMemoryStore) streamKey(aggType, aggID string) string {
	return aggType + "-" + aggID
}

func (s *InMemoryStore) Load(
	_ context.Context,
	aggType, aggID string,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	startVersion, startSeq := NewStoreLoadOptions(opts...)

	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.streams[s.streamKey(aggType, aggID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrAggregateNotFound, aggType, aggID)
	}

	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if e.Version < startVersion || e.Seq < startSeq {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion Version,
	events []Envelope,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	if aggType == "" || aggID == "" {
		return nil, fmt.Errorf("aggregate identity is empty")
	}

	var res *AppendResult
	sk := s.streamKey(aggType, aggID)
	// DoContext detaches a cancelled caller without interrupting the task:
	// an enqueued append always commits fully or not at all.
	err := s.sched.DoContext(ctx, sk, func() error {
		var err error
		res, err = s.append(sk, aggType, aggID, expectedVersion, events)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// append performs the atomic version-check-and-write. It runs on the
// per-stream worker, one at a time per stream key.
func (s *InMemoryStore) append(
	sk, aggType, aggID string,
	expectedVersion Version,
	events []Envelope,
) (*AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.streams[sk]
	head := Version(0)
	if len(cur) > 0 {
		head = cur[len(cur)-1].Version
	}
	if head != expectedVersion {
		return nil, conflictError(aggType, aggID, expectedVersion, head)
	}

	now := s.clock.Now()
	batch := make([]Envelope, 0, len(events))
	next := head
	for _, e := range events {
		next++
		if e.Version != 0 && e.Version != next {
			return nil, corruptHistoryError(aggType, aggID, next, e.Version)
		}
		e.Version = next
		e.OccurredAt = now
		if err := e.Validate(); err != nil {
			return nil, err
		}
		batch = append(batch, e)
	}

	// all checks passed; assign sequences and commit the whole batch
	var lastSeq uint64
	for i := range batch {
		s.seq++
		batch[i].Seq = s.seq
		lastSeq = s.seq
	}
	s.streams[sk] = append(cur, batch...)
	s.events = append(s.events, batch...)

	s.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(batch)),
		next.SlogAttr(),
	)

	s.dispatchLocked(batch)

	return &AppendResult{LastSeq: lastSeq, Version: next}, nil
}

func (s *InMemoryStore) Events(ctx context.Context, q Query) iter.Seq2[Envelope, error] {
	return func(yield func(Envelope, error) bool) {
		s.mu.RLock()
		matched := make([]Envelope, 0)
		for _, e := range s.events {
			if q.Matches(e) {
				matched = append(matched, e)
			}
		}
		s.mu.RUnlock()

		for _, e := range matched {
			if err := ctx.Err(); err != nil {
				yield(Envelope{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *InMemoryStore) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	options := NewSubscribeOpts(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	subID := gonanoid.Must()
	sub := newMemSubscription(s, subID, options.Filters(), options.BufferSize(), s.seq)

	if options.DeliverPolicy() == DeliverAllPolicy {
		// seed the backlog under the store lock so replay and live
		// delivery never interleave out of order
		for _, e := range s.events {
			if e.Seq < options.StartSequence() {
				continue
			}
			if matchFilters(e, sub.filters) {
				sub.enqueue(e)
			}
		}
	}

	if sub.Err() != nil {
		// backlog alone overflowed the buffer; hand the evicted
		// subscription back so the consumer can fall back to Events()
		return sub, nil
	}

	s.subs[subID] = sub
	context.AfterFunc(ctx, sub.Cancel)

	s.log.Debug(
		"subscribe",
		slog.String("sub", subID),
		slog.String("policy", string(options.DeliverPolicy())),
		slog.Uint64("start_seq", options.StartSequence()),
		slog.Int("filters", len(sub.filters)),
	)

	return sub, nil
}

// dispatchLocked fans out a committed batch. Caller holds s.mu, which
// guarantees subscribers observe batches in commit order.
func (s *InMemoryStore) dispatchLocked(events []Envelope) {
	if len(s.subs) == 0 {
		return
	}
	for _, e := range events {
		for id, sub := range s.subs {
			if matchFilters(e, sub.filters) {
				if alive := sub.enqueue(e); !alive {
					delete(s.subs, id)
				}
			}
		}
	}
}

func (s *InMemoryStore) removeSub(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// === Subscription ===

// memSubscription decouples the write path from consumers: enqueue never
// blocks. The pending queue is bounded; a consumer that falls too far
// behind is evicted with ErrSlowConsumer and resubscribes from its
// checkpoint.
type memSubscription struct {
	store   *InMemoryStore
	id      string
	filters []SubscribeFilter
	limit   int
	maxSeq  uint64

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Envelope
	closed  bool
	err     error

	ch   chan Envelope
	done chan struct{}
}

func newMemSubscription(store *InMemoryStore, id string, filters []SubscribeFilter, limit int, maxSeq uint64) *memSubscription {
	sub := &memSubscription{
		store:   store,
		id:      id,
		filters: filters,
		limit:   limit,
		maxSeq:  maxSeq,
		ch:      make(chan Envelope),
		done:    make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	go sub.pump()
	return sub
}

func (s *memSubscription) Chan() <-chan Envelope { return s.ch }
func (s *memSubscription) MaxSequence() uint64   { return s.maxSeq }

func (s *memSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memSubscription) Cancel() {
	s.close(nil)
	s.store.removeSub(s.id)
}

// enqueue adds e to the pending queue. It reports whether the subscription
// is still alive; a full queue evicts the subscription instead of blocking
// the committing writer.
func (s *memSubscription) enqueue(e Envelope) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.pending) >= s.limit {
		s.closeLocked(ErrSlowConsumer)
		s.mu.Unlock()
		s.store.log.Warn("evicted slow subscription", slog.String("sub", s.id))
		return false
	}
	s.pending = append(s.pending, e)
	s.cond.Signal()
	s.mu.Unlock()
	return true
}

func (s *memSubscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(err)
}

func (s *memSubscription) closeLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
	s.cond.Signal()
}

func (s *memSubscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		e := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.ch <- e:
		case <-s.done:
			return
		}
	}
}

var _ EventStore = (*InMemoryStore)(nil)

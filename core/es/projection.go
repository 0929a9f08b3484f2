package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ProjectionState is the lifecycle state of a running projection.
type ProjectionState int32

const (
	// ProjectionBuilding means the projection is processing historical
	// backlog; its state is not authoritative yet.
	ProjectionBuilding ProjectionState = iota
	// ProjectionLive means the projection consumes new events as they
	// commit; staleness is bounded by delivery latency only.
	ProjectionLive
	// ProjectionRebuilding means an operator-triggered rebuild is
	// discarding and replaying the full relevant history.
	ProjectionRebuilding
	// ProjectionFailed means Apply returned an error for a well-formed
	// event. The projection stops consuming; recovery is an explicit
	// Rebuild.
	ProjectionFailed
)

func (s ProjectionState) String() string {
	switch s {
	case ProjectionBuilding:
		return "building"
	case ProjectionLive:
		return "live"
	case ProjectionRebuilding:
		return "rebuilding"
	case ProjectionFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Projection folds committed events into a read model it exclusively owns.
type Projection interface {
	Name() string
	// Apply folds one event. It must be idempotent with respect to
	// redelivery: replaying the same history reaches the same state.
	Apply(ctx context.Context, env Envelope, event any) error
	// Reset discards the materialized state ahead of a rebuild.
	Reset(ctx context.Context) error
}

// ProjectionRunner drives one Projection from the committed event stream.
// It owns the subscription, the checkpoint and the lifecycle state machine.
// A failed projection never affects the write path or other projections.
type ProjectionRunner struct {
	store   EventStore
	decoder Decoder
	proj    Projection
	cp      CpStore
	log     *slog.Logger
	metrics Metrics
	filters []SubscribeFilter

	state atomic.Int32

	failMu  sync.Mutex
	failure error

	mu      sync.Mutex // guards start/stop/rebuild transitions
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type (
	projectionOpts struct {
		cp      CpStore
		log     *slog.Logger
		metrics Metrics
		filters []SubscribeFilter
	}
	ProjectionOption interface{ applyToProjectionOpts(*projectionOpts) }
)

func (o CpStoreOption) applyToProjectionOpts(opts *projectionOpts) { opts.cp = o.v }
func (o LogOption) applyToProjectionOpts(opts *projectionOpts)     { opts.log = o.l }
func (o MetricsOption) applyToProjectionOpts(opts *projectionOpts) { opts.metrics = o.m }
func (o FilterOption) applyToProjectionOpts(opts *projectionOpts) {
	opts.filters = append(opts.filters, o.v...)
}

func NewProjectionRunner(store EventStore, decoder Decoder, proj Projection, opts ...ProjectionOption) *ProjectionRunner {
	options := projectionOpts{
		cp:      NewInMemoryCpStore(),
		log:     slog.Default(),
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt.applyToProjectionOpts(&options)
	}

	return &ProjectionRunner{
		store:   store,
		decoder: decoder,
		proj:    proj,
		cp:      options.cp,
		log:     options.log.With(slog.String("projection", proj.Name())),
		metrics: options.metrics,
		filters: options.filters,
	}
}

func (r *ProjectionRunner) Name() string { return r.proj.Name() }

// State returns the current lifecycle state.
func (r *ProjectionRunner) State() ProjectionState {
	return ProjectionState(r.state.Load())
}

// Failure returns the error that moved the projection to ProjectionFailed.
func (r *ProjectionRunner) Failure() error {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	return r.failure
}

func (r *ProjectionRunner) setState(s ProjectionState) {
	r.state.Store(int32(s))
	r.metrics.ProjectionState(r.proj.Name(), s)
	r.log.Debug("state", slog.String("state", s.String()))
}

func (r *ProjectionRunner) fail(err error) {
	r.failMu.Lock()
	r.failure = err
	r.failMu.Unlock()
	r.setState(ProjectionFailed)
	r.log.Error("projection failed", slog.Any("error", err))
}

// Start begins consuming: historical backlog first (Building), then live.
// It returns once the loop is running; catch-up progress is observable via
// State.
func (r *ProjectionRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("projection already started")
	}
	r.baseCtx = ctx
	r.startLoopLocked(ctx)
	return nil
}

func (r *ProjectionRunner) startLoopLocked(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.setState(ProjectionBuilding)
	go r.run(runCtx, r.done)
}

// Stop halts consumption without touching the materialized state.
func (r *ProjectionRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLoopLocked()
}

func (r *ProjectionRunner) stopLoopLocked() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}

func (r *ProjectionRunner) checkpoint() uint64 {
	seq, err := r.cp.Get()
	if err != nil {
		return 0
	}
	return seq
}

func (r *ProjectionRunner) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		// Replay the backlog through the lazy query surface first: it
		// pulls from the store one event at a time, so a history of any
		// size streams through. The bounded subscription buffer only has
		// to absorb the live tail.
		lastSeq, err := r.catchUp(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.fail(err)
			}
			return
		}

		sub, err := r.store.Subscribe(
			ctx,
			WithDeliverPolicy(DeliverAllPolicy),
			WithStartSequence(lastSeq+1),
			WithFilters(r.filters...),
		)
		if err != nil {
			if ctx.Err() == nil {
				r.fail(err)
			}
			return
		}

		// events can commit between the replay and the subscribe; scan
		// the remainder so going live never waits for a matching event
		// to arrive. The subscription redelivers the gap and applyOne
		// dedupes by checkpoint.
		for lastSeq < sub.MaxSequence() {
			if lastSeq, err = r.catchUp(ctx); err != nil {
				sub.Cancel()
				if ctx.Err() == nil {
					r.fail(err)
				}
				return
			}
		}
		r.setState(ProjectionLive)

		if resubscribe := r.consume(ctx, sub); !resubscribe {
			return
		}
		// evicted as a slow consumer: replay the gap and resubscribe
		r.log.Warn("evicted, resubscribing", slog.Uint64("checkpoint", r.checkpoint()))
		r.setState(ProjectionBuilding)
	}
}

// catchUp folds history past the checkpoint. The checkpoint advances past
// filtered-out events too: it is a position in the global stream, not a
// count of applied events. Returns the highest sequence scanned.
func (r *ProjectionRunner) catchUp(ctx context.Context) (uint64, error) {
	lastSeq := r.checkpoint()
	for ev, err := range r.store.Events(ctx, Query{FromSeq: lastSeq + 1}) {
		if err != nil {
			return 0, err
		}
		if matchFilters(ev, r.filters) {
			if err := r.applyOne(ctx, ev); err != nil {
				return 0, err
			}
		} else if err := r.cp.Set(ev.Seq); err != nil {
			return 0, err
		}
		lastSeq = ev.Seq
	}
	return lastSeq, nil
}

// consume processes live delivery until the subscription ends. It reports
// whether the runner should resubscribe (slow-consumer eviction) or stop.
func (r *ProjectionRunner) consume(ctx context.Context, sub Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			sub.Cancel()
			return false

		case ev, ok := <-sub.Chan():
			if !ok {
				return errors.Is(sub.Err(), ErrSlowConsumer)
			}

			if ev.Seq <= r.checkpoint() {
				continue
			}
			if err := r.applyOne(ctx, ev); err != nil {
				sub.Cancel()
				r.fail(err)
				return false
			}
			r.metrics.ConsumerLag(r.proj.Name(), 0)
		}
	}
}

// applyOne decodes and folds one envelope, then advances the checkpoint.
// A malformed source event (ErrSerialization) is logged and skipped so one
// bad payload cannot wedge the projection; any other failure is returned
// and moves the projection to ProjectionFailed.
func (r *ProjectionRunner) applyOne(ctx context.Context, ev Envelope) error {
	live := r.State() == ProjectionLive

	defer r.metrics.ConsumerEventDuration(ev.Type, live).ObserveDuration()

	evt, err := r.decoder.Decode(ev)
	if err != nil {
		if errors.Is(err, ErrSerialization) {
			r.metrics.ConsumerEventProcessed(ev.Type, live, false)
			r.log.Error("skipping undecodable event", slog.Uint64("seq", ev.Seq), slog.Any("error", err))
			return r.cp.Set(ev.Seq)
		}
		return err
	}

	if err := r.proj.Apply(ctx, ev, evt); err != nil {
		r.metrics.ConsumerEventProcessed(ev.Type, live, false)
		return fmt.Errorf("apply failed: %s/%s version %d: %w", ev.AggregateType, ev.AggregateID, ev.Version, err)
	}
	r.metrics.ConsumerEventProcessed(ev.Type, live, true)

	return r.cp.Set(ev.Seq)
}

// Rebuild discards the materialized state and replays the full relevant
// history through the store's historical query surface, then resumes live
// consumption. It is the only way out of ProjectionFailed.
func (r *ProjectionRunner) Rebuild(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.baseCtx == nil {
		return errors.New("projection not started")
	}

	r.stopLoopLocked()
	r.setState(ProjectionRebuilding)

	r.failMu.Lock()
	r.failure = nil
	r.failMu.Unlock()

	if err := r.proj.Reset(ctx); err != nil {
		r.fail(fmt.Errorf("reset failed: %w", err))
		return err
	}
	if err := r.cp.Set(0); err != nil {
		r.fail(err)
		return err
	}

	r.setState(ProjectionBuilding)

	for ev, err := range r.store.Events(ctx, Query{FromSeq: 1}) {
		if err != nil {
			r.fail(err)
			return err
		}
		if !matchFilters(ev, r.filters) {
			continue
		}
		if err := r.applyOne(ctx, ev); err != nil {
			r.fail(err)
			return err
		}
	}

	// resume live delivery from the checkpoint
	r.startLoopLocked(r.baseCtx)
	return nil
}

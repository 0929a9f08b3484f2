package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Checkpoint is implemented by handlers that track their own processing
// progress. The Consumer uses GetLastSeq to resume delivery after a restart.
type Checkpoint interface {
	// GetLastSeq returns the sequence of the last successfully processed
	// event, or ErrCheckpointNotFound if none exists yet.
	GetLastSeq() (uint64, error)
}

// MsgCtx carries one delivered event plus processing context: the decoded
// payload, a scoped logger, and whether the consumer is live (real-time) or
// still catching up on history.
type MsgCtx struct {
	ctx  context.Context
	log  *slog.Logger
	ev   Envelope
	evt  any
	live bool
}

func (c *MsgCtx) Log() *slog.Logger        { return c.log }
func (c *MsgCtx) Context() context.Context { return c.ctx }
func (c *MsgCtx) Event() any               { return c.evt }
func (c *MsgCtx) Live() bool               { return c.live }

func (c *MsgCtx) Seq() uint64           { return c.ev.Seq }
func (c *MsgCtx) Envelope() Envelope    { return c.ev }
func (c *MsgCtx) Version() Version      { return c.ev.Version }
func (c *MsgCtx) AggregateID() string   { return c.ev.AggregateID }
func (c *MsgCtx) AggregateType() string { return c.ev.AggregateType }
func (c *MsgCtx) Type() string          { return c.ev.Type }
func (c *MsgCtx) Data() []byte          { return c.ev.Data }
func (c *MsgCtx) OccurredAt() time.Time { return c.ev.OccurredAt }

// Consumer delivers committed events from an EventStore to a Handler. It
// supports checkpoint-based resumption, live-mode detection, and survives
// slow-consumer eviction by resubscribing from its last seen sequence
// (at-least-once delivery; handlers apply idempotently).
type Consumer struct {
	store           EventStore
	decoder         Decoder
	handler         Handler
	log             *slog.Logger
	live            chan struct{}
	isLive          atomic.Bool
	lastSeq         atomic.Uint64
	closeChan       chan struct{}
	closeOnce       sync.Once
	done            chan struct{}
	shutdownTimeout time.Duration
	name            string
	filters         []SubscribeFilter
	metrics         Metrics
}

func NewConsumer(
	store EventStore,
	decoder Decoder,
	handler Handler,
	opts ...ConsumerOption,
) *Consumer {
	options := newConsumerOpts(opts...)

	return &Consumer{
		store:           store,
		decoder:         decoder,
		handler:         applyMiddlewares(handler, options.mws),
		log:             options.log.With(slog.String("consumer", options.name)),
		live:            make(chan struct{}),
		closeChan:       make(chan struct{}),
		done:            make(chan struct{}),
		shutdownTimeout: options.shutdownTimeout,
		name:            options.name,
		filters:         options.filters,
		metrics:         options.metrics,
	}
}

func (c *Consumer) handle(ctx context.Context, ev Envelope) error {
	live := c.isLive.Load()

	defer c.metrics.ConsumerEventDuration(ev.Type, live).ObserveDuration()

	evt, err := c.decoder.Decode(ev)
	if err != nil {
		c.metrics.ConsumerEventProcessed(ev.Type, live, false)
		return fmt.Errorf("failed to decode event: %w", err)
	}
	msgCtx := MsgCtx{
		ctx:  ctx,
		ev:   ev,
		evt:  evt,
		live: live,
		log: c.log.With(slog.Group("event",
			slog.String("id", ev.ID),
			slog.Uint64("seq", ev.Seq),
			ev.Version.SlogAttr(),
			slog.String("type", ev.Type),
			slog.String("aggregate_id", ev.AggregateID),
			slog.String("aggregate_type", ev.AggregateType),
		)),
	}
	if err := c.handler.Handle(msgCtx); err != nil {
		c.metrics.ConsumerEventProcessed(ev.Type, live, false)
		return fmt.Errorf("failed to handle event: %w", err)
	}
	c.metrics.ConsumerEventProcessed(ev.Type, live, true)
	return nil
}

func (c *Consumer) subscribe(ctx context.Context, fromSeq uint64) (Subscription, error) {
	return c.store.Subscribe(
		ctx,
		WithDeliverPolicy(DeliverAllPolicy),
		WithStartSequence(fromSeq),
		WithFilters(c.filters...),
	)
}

// Start subscribes and processes events until the context is cancelled or
// Stop is called. It blocks until the consumer has caught up with the
// stream head observed at subscribe time.
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("starting consumer", slog.String("handler", fmt.Sprintf("%T", c.handler)))

	if lc, ok := c.handler.(HandlerLifecycleStart); ok {
		if err := lc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start handler: %w", err)
		}
	}

	var lastSeenSeq uint64
	if cp, ok := c.handler.(Checkpoint); ok {
		var err error
		lastSeenSeq, err = cp.GetLastSeq()
		if err != nil && !errors.Is(err, ErrCheckpointNotFound) {
			return err
		}
	}
	c.lastSeq.Store(lastSeenSeq)

	c.log.Debug("catching up", slog.Uint64("last_seen_seq", lastSeenSeq))

	// Replay the backlog lazily through Events before subscribing, so
	// history of any size streams through without overflowing the bounded
	// subscription buffer.
	lastSeq, err := c.catchUp(ctx)
	if err != nil {
		return err
	}

	sub, err := c.subscribe(ctx, lastSeq+1)
	if err != nil {
		return err
	}

	// cover the gap between the replay and the subscribe before reporting
	// live; the subscription redelivers it and run dedupes by sequence
	for lastSeq < sub.MaxSequence() {
		if lastSeq, err = c.catchUp(ctx); err != nil {
			sub.Cancel()
			return err
		}
	}
	c.goLive()

	go c.run(ctx, sub)

	<-c.live
	c.log.Debug("live")

	return nil
}

// catchUp handles history past the last seen sequence by pulling from the
// store one event at a time. Handler errors are logged and skipped, same as
// in live delivery. Returns the highest sequence scanned.
func (c *Consumer) catchUp(ctx context.Context) (uint64, error) {
	lastSeq := c.lastSeq.Load()
	for ev, err := range c.store.Events(ctx, Query{FromSeq: lastSeq + 1}) {
		if err != nil {
			return 0, err
		}
		if matchFilters(ev, c.filters) {
			if err := c.handle(ctx, ev); err != nil {
				c.log.Error("event handler failed", slog.Any("error", err))
			}
		}
		c.lastSeq.Store(ev.Seq)
		lastSeq = ev.Seq
	}
	return lastSeq, nil
}

func (c *Consumer) goLive() {
	if c.isLive.CompareAndSwap(false, true) {
		close(c.live)
	}
}

func (c *Consumer) run(ctx context.Context, sub Subscription) {
	defer func() {
		sub.Cancel()
		if lc, ok := c.handler.(HandlerLifecycleShutdown); ok {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
			defer cancel()
			if err := lc.Shutdown(shutdownCtx); err != nil {
				c.log.Error("failed to shutdown handler", slog.Any("error", err))
			}
		}
		c.log.Info("stopped")
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return

		case ev, ok := <-sub.Chan():
			if !ok {
				if errors.Is(sub.Err(), ErrSlowConsumer) {
					// replay the gap lazily, then resubscribe near
					// the head; delivery stays at-least-once
					c.log.Warn("evicted, resubscribing", slog.Uint64("last_seq", c.lastSeq.Load()))
					lastSeq, err := c.catchUp(ctx)
					if err != nil {
						c.log.Error("catch-up failed", slog.Any("error", err))
						return
					}
					next, err := c.subscribe(ctx, lastSeq+1)
					if err != nil {
						c.log.Error("resubscribe failed", slog.Any("error", err))
						return
					}
					sub = next
					continue
				}
				return
			}

			if ev.Seq <= c.lastSeq.Load() {
				continue
			}
			if err := c.handle(ctx, ev); err != nil {
				c.log.Error("event handler failed", slog.Any("error", err))
			}
			c.lastSeq.Store(ev.Seq)
			c.metrics.ConsumerLag(c.name, 0)
		}
	}
}

func (c *Consumer) Stop() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		<-c.done
	})
}

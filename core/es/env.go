package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/streamfold/eskit/clock"
	"github.com/streamfold/eskit/codec"
	"github.com/streamfold/eskit/id"
)

// Env wires a store, snapshotter, registry, repository, consumers and
// projections into one unit with a shared lifecycle. Cancelling the Env
// context (or calling Shutdown) stops everything it started.
type Env struct {
	ctx          context.Context
	id           string
	done         chan struct{}
	shutdownOnce sync.Once
	cancelCtx    context.CancelFunc
	log          *slog.Logger
	store        EventStore
	snapshotter  Snapshotter
	registry     *EventRegistry
	repo         Repository
	codec        codec.Codec
	clock        clock.Clock
	ids          id.Generator
	metrics      Metrics
	consumers    []*Consumer
	projections  map[string]*ProjectionRunner
}

func (e *Env) Repository() Repository   { return e.repo }
func (e *Env) Store() EventStore        { return e.store }
func (e *Env) Snapshotter() Snapshotter { return e.snapshotter }
func (e *Env) Registry() *EventRegistry { return e.registry }

// Projection returns the runner registered under name via WithProjection.
func (e *Env) Projection(name string) (*ProjectionRunner, bool) {
	r, ok := e.projections[name]
	return r, ok
}

func NewEnv(opts ...EnvOption) (e *Env, err error) {
	var (
		envID   = gonanoid.Must(6)
		options = newEnvOptions(opts...)
	)

	if err := options.validate(); err != nil {
		return nil, err
	}

	log := options.log.With(slog.String("env", envID))

	e = &Env{
		id:          envID,
		log:         log,
		store:       options.store,
		snapshotter: options.snapshotter,
		registry:    NewRegistry(),
		codec:       options.codec,
		clock:       options.clock,
		ids:         options.ids,
		metrics:     options.metrics,
		done:        make(chan struct{}),
		consumers:   make([]*Consumer, 0),
		projections: map[string]*ProjectionRunner{},
	}
	e.ctx, e.cancelCtx = context.WithCancel(options.ctx)

	for _, agg := range options.aggregates {
		agg.Register(e.registry)
		e.log.Debug("registered aggregate", slog.String("type", fmt.Sprintf("%T", agg)))
	}

	RegisterEventFor[AggregateCreatedEvent](e.registry)
	for _, s := range options.events {
		e.registry.Register(s.t, s.ctor)
	}
	e.log.Debug("registered events", slog.Any("types", e.registry.Types()))

	e.repo = NewRepository(
		e.log,
		e.store,
		e.registry,
		WithSnapshotter(e.snapshotter),
		WithCodec(e.codec),
		WithClock(e.clock),
		WithIDGenerator(e.ids),
		WithMetrics(e.metrics),
		WithSnapshotEvery(options.snapshotEvery),
	)

	for _, c := range options.consumers {
		consumer := e.NewConsumer(c.handler, WithConsumerOpts(c.consumerOpts...))
		if err := consumer.Start(e.ctx); err != nil {
			e.cancelCtx()
			return nil, fmt.Errorf("failed to start consumer: %w", err)
		}
		e.consumers = append(e.consumers, consumer)
	}

	for _, p := range options.projections {
		runner := NewProjectionRunner(
			e.store,
			e.registry,
			p.projection,
			append([]ProjectionOption{WithLog(e.log), WithMetrics(e.metrics)}, p.opts...)...,
		)
		if err := runner.Start(e.ctx); err != nil {
			e.cancelCtx()
			return nil, fmt.Errorf("failed to start projection %s: %w", p.projection.Name(), err)
		}
		e.projections[runner.Name()] = runner
	}

	context.AfterFunc(e.ctx, func() {
		e.log.Info("shutting down")

		e.log.Debug("stopping consumers", slog.Int("count", len(e.consumers)))
		for _, c := range e.consumers {
			c.Stop()
		}

		e.log.Debug("stopping projections", slog.Int("count", len(e.projections)))
		for _, p := range e.projections {
			p.Stop()
		}

		e.log.Info("env shutdown")
		close(e.done)
	})

	return e, nil
}

func (e *Env) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.cancelCtx()
		<-e.done
	})
}

func (e *Env) NewConsumer(handler Handler, opts ...ConsumerOption) *Consumer {
	return NewConsumer(
		e.store,
		e.registry,
		handler,
		WithLog(e.log),
		WithMetrics(e.metrics),
		WithConsumerOpts(opts...),
	)
}

// Append writes raw domain events to a stream without going through an
// aggregate. Envelopes are encoded with the Env codec; commit metadata
// (version, sequence, timestamp) is stamped by the store.
func (e *Env) Append(ctx context.Context, expect Version, aggType string, aggID string, events ...any) error {
	_, err := e.AppendWithResult(ctx, expect, aggType, aggID, events...)
	return err
}

func (e *Env) AppendWithResult(
	ctx context.Context,
	expect Version,
	aggType string,
	aggID string,
	events ...any,
) (*AppendResult, error) {
	envelopes := make([]Envelope, 0, len(events))
	for _, ev := range events {
		data, err := e.codec.Marshal(ev)
		if err != nil {
			return nil, serializationError(aggType, aggID, expect, getEventTypeOf(ev), err)
		}
		envelopes = append(envelopes, Envelope{
			ID:            e.ids.New(),
			Type:          getEventTypeOf(ev),
			AggregateID:   aggID,
			AggregateType: aggType,
			Encoding:      e.codec.Name(),
			Data:          data,
		})
	}
	return e.store.Append(ctx, aggType, aggID, expect, envelopes)
}

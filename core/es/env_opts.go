package es

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streamfold/eskit/clock"
	"github.com/streamfold/eskit/codec"
	"github.com/streamfold/eskit/id"
)

type (
	envOptions struct {
		ctx           context.Context
		log           *slog.Logger
		store         EventStore
		snapshotter   Snapshotter
		codec         codec.Codec
		clock         clock.Clock
		ids           id.Generator
		metrics       Metrics
		snapshotEvery uint64
		events        []EventRegisterOption
		aggregates    []Aggregate
		consumers     []EnvConsumerOption
		projections   []EnvProjectionOption
	}

	EnvOption interface {
		applyToEnv(*envOptions)
	}
)

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		ctx:     context.Background(),
		log:     slog.Default(),
		codec:   codec.Default,
		clock:   clock.Time,
		ids:     id.NanoID,
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.store == nil {
		options.store = NewInMemoryStore()
	}
	return options
}

func (o StoreOption) applyToEnv(options *envOptions)       { options.store = o.v }
func (o SnapshotterOption) applyToEnv(options *envOptions) { options.snapshotter = o.v }
func (o CodecOption) applyToEnv(options *envOptions)       { options.codec = o.v }
func (o ClockOption) applyToEnv(options *envOptions)       { options.clock = o.v }
func (o IDOption) applyToEnv(options *envOptions)          { options.ids = o.v }
func (o LogOption) applyToEnv(options *envOptions)         { options.log = o.l }
func (o ContextOption) applyToEnv(options *envOptions)     { options.ctx = o.ctx }
func (o MetricsOption) applyToEnv(options *envOptions)     { options.metrics = o.m }
func (o SnapshotEveryOption) applyToEnv(options *envOptions) {
	options.snapshotEvery = o.n
}
func (o MemoryOption) applyToEnv(options *envOptions) {
	options.store = NewInMemoryStore()
	options.snapshotter = NewInMemorySnapshotter()
}
func (o EventRegisterOption) applyToEnv(options *envOptions) {
	options.events = append(options.events, o)
}
func (o AggregateOption) applyToEnv(options *envOptions) {
	options.aggregates = append(options.aggregates, o.aggregates...)
}
func (o EnvOpts) applyToEnv(options *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(options)
	}
}

// === consumers ===

type EnvConsumerOption struct {
	handler      Handler
	consumerOpts []ConsumerOption
}

func WithConsumer(handler Handler, opts ...ConsumerOption) EnvConsumerOption {
	return EnvConsumerOption{
		handler:      handler,
		consumerOpts: opts,
	}
}

func (o EnvConsumerOption) applyToEnv(options *envOptions) {
	options.consumers = append(options.consumers, o)
}

// === projections ===

type EnvProjectionOption struct {
	projection Projection
	opts       []ProjectionOption
}

// WithProjection registers a projection with the Env. The Env starts a
// runner for it, addressable via [Env.Projection] by name.
func WithProjection(projection Projection, opts ...ProjectionOption) EnvProjectionOption {
	return EnvProjectionOption{
		projection: projection,
		opts:       opts,
	}
}

func (o EnvProjectionOption) applyToEnv(options *envOptions) {
	options.projections = append(options.projections, o)
}

func (o envOptions) validate() error {
	names := map[string]struct{}{}
	for _, p := range o.projections {
		name := p.projection.Name()
		if name == "" {
			return fmt.Errorf("projection %T has no name", p.projection)
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("duplicate projection name: %s", name)
		}
		names[name] = struct{}{}
	}
	return nil
}

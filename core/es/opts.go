package es

import (
	"context"
	"log/slog"

	"github.com/streamfold/eskit/clock"
	"github.com/streamfold/eskit/codec"
	"github.com/streamfold/eskit/id"
	"github.com/streamfold/eskit/internal/reflector"
)

// Shared functional-option plumbing. Options are small value types that
// know which option structs they apply to, so one WithX can configure the
// Env, the Repository or a Consumer alike.

type (
	valueOption[T any] struct{ v T }

	StoreOption       valueOption[EventStore]
	SnapshotterOption valueOption[Snapshotter]
	CpStoreOption     valueOption[CpStore]
	CodecOption       valueOption[codec.Codec]
	ClockOption       valueOption[clock.Clock]
	IDOption          valueOption[id.Generator]
	LogOption         struct{ l *slog.Logger }
	ContextOption     struct{ ctx context.Context }
	MemoryOption      struct{}

	EventRegisterOption struct {
		t    string
		ctor func() any
	}
	AggregateOption struct {
		aggregates []Aggregate
	}

	MultiOption[T any] struct{ opts []T }
	EnvOpts            MultiOption[EnvOption]
)

func WithStore(s EventStore) StoreOption              { return StoreOption{v: s} }
func WithSnapshotter(s Snapshotter) SnapshotterOption { return SnapshotterOption{v: s} }
func WithCheckpointStore(cps CpStore) CpStoreOption   { return CpStoreOption{v: cps} }
func WithCodec(c codec.Codec) CodecOption             { return CodecOption{v: c} }
func WithClock(c clock.Clock) ClockOption             { return ClockOption{v: c} }
func WithIDGenerator(g id.Generator) IDOption         { return IDOption{v: g} }
func WithLog(l *slog.Logger) LogOption                { return LogOption{l: l} }
func WithCtx(ctx context.Context) ContextOption       { return ContextOption{ctx: ctx} }
func WithInMemory() MemoryOption                      { return MemoryOption{} }
func WithAggregates(a ...Aggregate) AggregateOption   { return AggregateOption{aggregates: a} }
func WithEnvOpts(opts ...EnvOption) EnvOpts           { return EnvOpts{opts: opts} }

// WithEvent registers event type T with the Env registry.
func WithEvent[T any]() EventRegisterOption {
	t := reflector.TypeInfoFor[T]().Name
	return EventRegisterOption{t: t, ctor: func() any { return any(new(T)) }}
}

// MetricsOption sets the metrics implementation.
type MetricsOption struct{ m Metrics }

func WithMetrics(m Metrics) MetricsOption { return MetricsOption{m: m} }

package otel

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamfold/eskit/core/es"
)

// TracingStore wraps an es.EventStore and emits one span per operation.
type TracingStore struct {
	next es.EventStore
}

// WithTracing decorates next with tracing spans.
func WithTracing(next es.EventStore) es.EventStore {
	return &TracingStore{next: next}
}

func (t *TracingStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
) (*es.AppendResult, error) {
	ctx, span := tracer.Start(ctx, "EventStore.Append",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("append"),
			AttrAggregateType.String(aggType),
			AttrAggregateID.String(aggID),
			AttrVersion.Int64(int64(expectedVersion)),
			AttrEventCount.Int(len(events)),
		),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for i := range events {
		if events[i].Metadata == nil {
			events[i].Metadata = map[string]string{}
		}
		if span.SpanContext().HasTraceID() {
			events[i].Metadata["correlation_id"] = span.SpanContext().TraceID().String()
		}
		for key, value := range carrier {
			events[i].Metadata[key] = value
		}
	}

	res, err := t.next.Append(ctx, aggType, aggID, expectedVersion, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(AttrLastSeq.Int64(int64(res.LastSeq)))
	return res, nil
}

func (t *TracingStore) Load(
	ctx context.Context,
	aggType string,
	aggID string,
	opts ...es.StoreLoadOption,
) ([]es.Envelope, error) {
	ctx, span := tracer.Start(ctx, "EventStore.Load",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("load"),
			AttrAggregateType.String(aggType),
			AttrAggregateID.String(aggID),
		),
	)
	defer span.End()

	events, err := t.next.Load(ctx, aggType, aggID, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(AttrEventCount.Int(len(events)))
	return events, nil
}

// Events traces the whole scan as one span, counting yielded events.
func (t *TracingStore) Events(ctx context.Context, q es.Query) iter.Seq2[es.Envelope, error] {
	return func(yield func(es.Envelope, error) bool) {
		ctx, span := tracer.Start(ctx, "EventStore.Events",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				AttrOperation.String("events"),
				AttrAggregateType.String(q.AggregateType),
				AttrAggregateID.String(q.AggregateID),
			),
		)
		defer span.End()

		var count int
		for env, err := range t.next.Events(ctx, q) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(env, err)
				return
			}
			count++
			if !yield(env, nil) {
				break
			}
		}
		span.SetAttributes(AttrEventCount.Int(count))
	}
}

func (t *TracingStore) Subscribe(ctx context.Context, opts ...es.SubscribeOption) (es.Subscription, error) {
	sub, err := t.next.Subscribe(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

var _ es.EventStore = (*TracingStore)(nil)

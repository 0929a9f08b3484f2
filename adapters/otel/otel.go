// Package otel decorates an event store with OpenTelemetry tracing. Append
// spans also inject the trace context into event metadata, so consumers and
// projections can correlate their work with the write that caused it.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/streamfold/eskit"

// Semantic attribute keys following OpenTelemetry conventions.
const (
	AttrAggregateType = attribute.Key("eskit.aggregate.type")
	AttrAggregateID   = attribute.Key("eskit.aggregate.id")
	AttrVersion       = attribute.Key("eskit.stream.version")
	AttrEventCount    = attribute.Key("eskit.events.count")
	AttrLastSeq       = attribute.Key("eskit.events.last_seq")
	AttrOperation     = attribute.Key("eskit.operation")
)

var tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion("1.0.0"))

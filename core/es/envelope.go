package es

import (
	"fmt"
	"time"
)

// Envelope wraps one committed event with the metadata needed to persist,
// route and replay it. Envelopes are immutable once appended; the pair
// (AggregateID, Version) is unique within an aggregate type.
type Envelope struct {
	// ID is the unique identifier of this event, assigned at append time.
	ID string `json:"id"`
	// Seq is the global sequence number assigned by the store. It provides
	// total ordering across all events in the store and drives projection
	// resumability.
	Seq uint64 `json:"seq"`
	// Version is the per-aggregate stream version (1, 2, 3, ...).
	Version Version `json:"version"`
	// AggregateType identifies the schema/behavior of the owning aggregate.
	AggregateType string `json:"aggregate"`
	// AggregateID identifies the aggregate instance.
	AggregateID string `json:"aggregate_id"`
	// Type is the event type name used to route decoding and application.
	Type string `json:"type"`
	// Metadata carries free-form context (causation id, actor, correlation
	// id). The store never interprets it.
	Metadata map[string]string `json:"metadata,omitempty"`
	// OccurredAt is the commit timestamp, stamped by the store.
	OccurredAt time.Time `json:"occurred_at"`
	// Encoding names the codec the payload was written with.
	Encoding string `json:"encoding"`
	// Data is the codec-encoded event payload.
	Data []byte `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("envelope version is zero")
	}
	return nil
}

// Decoder turns a persisted envelope back into a typed event.
type Decoder interface {
	Decode(e Envelope) (any, error)
}

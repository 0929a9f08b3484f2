package es

import (
	"errors"
	"fmt"
	"time"
)

// Applier is implemented by types that fold events into their state.
type Applier interface {
	Apply(event any) error
}

// Aggregate is the contract for event-sourced domain objects. An aggregate
// is transient: it is reconstructed by folding its event history (optionally
// from a snapshot), mutated in memory through raised events, and discarded
// once the owning command handler finishes.
//
// The typical lifecycle:
//  1. Create a new aggregate or load an existing one via Repository
//  2. Domain logic calls RaiseAndApply to record events
//  3. Repository.Save persists uncommitted events under the pre-operation
//     version and clears them on success
type Aggregate interface {
	// GetAggType returns the aggregate type name used for stream identity.
	GetAggType() string
	// GetID returns the identifier of this aggregate instance.
	GetID() string
	// SetID sets the aggregate ID, typically during creation.
	SetID(string)

	// GetVersion returns the version of the last applied event (0 if none).
	GetVersion() Version
	setVersion(Version)

	// GetSeq returns the global store sequence of the last applied event.
	GetSeq() uint64
	setSeq(uint64)

	// Create initializes a new aggregate with the given ID.
	Create(id string) error

	// Register registers the aggregate's event types with the Registrar.
	Register(r Registrar)
	// Raise records an event as uncommitted without applying it.
	Raise(event any)
	// Apply folds an event into the aggregate state.
	Apply(event any) error

	// Uncommitted returns a copy of events raised but not yet persisted.
	Uncommitted() []any
	// ClearUncommitted drops uncommitted events after a successful save.
	ClearUncommitted()
}

// AggregateCreatedEvent marks the birth of an aggregate stream.
type AggregateCreatedEvent struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (e AggregateCreatedEvent) Validate() error {
	if e.ID == "" {
		return errors.New("id is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("created at time is zero")
	}
	return nil
}

// BaseAggregate is an embeddable helper that tracks identity, version and
// uncommitted events. Domain types embed it and provide GetAggType, Register
// and Apply; there is no inheritance chain, application is a registry-driven
// fold.
type BaseAggregate struct {
	CreatedAt time.Time `json:"created_at"`

	id          string
	version     Version
	seq         uint64
	uncommitted []any
}

func (b *BaseAggregate) Apply(evt any) error {
	switch e := evt.(type) {
	case *AggregateCreatedEvent:
		b.CreatedAt = e.CreatedAt
		b.id = e.ID
		return nil
	}
	return fmt.Errorf("unknown base aggregate event: %T", evt)
}

func (b *BaseAggregate) IsCreated() bool         { return !b.CreatedAt.IsZero() }
func (b *BaseAggregate) GetCreatedAt() time.Time { return b.CreatedAt }

func (b *BaseAggregate) Create(id string) error {
	if b.IsCreated() {
		return fmt.Errorf("aggregate already created")
	}
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return RaiseAndApply(b, &AggregateCreatedEvent{ID: id, CreatedAt: time.Now()})
}

func (b *BaseAggregate) GetID() string        { return b.id }
func (b *BaseAggregate) SetID(id string)      { b.id = id }
func (b *BaseAggregate) GetVersion() Version  { return b.version }
func (b *BaseAggregate) setVersion(v Version) { b.version = v }
func (b *BaseAggregate) GetSeq() uint64       { return b.seq }
func (b *BaseAggregate) setSeq(s uint64)      { b.seq = s }

func (b *BaseAggregate) Raise(event any)   { b.uncommitted = append(b.uncommitted, event) }
func (b *BaseAggregate) ClearUncommitted() { b.uncommitted = nil }
func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

type raiseApplier interface {
	Raise(event any)
	Apply(event any) error
}

// RaiseAndApply records the events as uncommitted and immediately applies
// them, so subsequent logic within the same operation observes the change.
func RaiseAndApply(a raiseApplier, events ...any) (err error) {
	if len(events) == 0 {
		return
	}

	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			if err = ev.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", ev, err)
			}
		}
	}

	for _, e := range events {
		a.Raise(e)
		if err = a.Apply(e); err != nil {
			return
		}
	}
	return
}

package es

import (
	"sync"

	"github.com/streamfold/eskit/codec"
	"github.com/streamfold/eskit/core/ds"
	"github.com/streamfold/eskit/internal/reflector"
)

// EventRegistry maps event type names to constructors so persisted events
// can be decoded. Adding a new event type is an explicit registration; the
// store itself never branches on event types.
type EventRegistry struct {
	mu    sync.RWMutex
	news  map[string]func() any
	order *ds.StringSet
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{
		news:  map[string]func() any{},
		order: ds.NewStringSet(),
	}
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
	r.order.Add(eventType)
}

// Types returns the registered event type names in registration order.
func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order.Values()
}

// Decode constructs a fresh event for env.Type and unmarshals the payload
// with the codec the envelope was written with. An unregistered type yields
// ErrUnknownEventType; an undecodable payload yields ErrSerialization, both
// carrying the aggregate and version context.
func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, serializationError(env.AggregateType, env.AggregateID, env.Version, env.Type, ErrUnknownEventType)
	}
	ev := ctor()
	if env.Data != nil {
		c, err := codecFor(env.Encoding)
		if err != nil {
			return nil, serializationError(env.AggregateType, env.AggregateID, env.Version, env.Type, err)
		}
		if err := c.Unmarshal(env.Data, ev); err != nil {
			return nil, serializationError(env.AggregateType, env.AggregateID, env.Version, env.Type, err)
		}
	}
	return ev, nil
}

func codecFor(encoding string) (codec.Codec, error) {
	if encoding == "" {
		return codec.Default, nil
	}
	return codec.Registry.Get(encoding)
}

type Registrar interface {
	Register(eventType string, ctor func() any)
}

// Event returns a reflection-free constructor for an event of type T.
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEventFor registers T under its derived type name.
func RegisterEventFor[T any](r Registrar) {
	ti := reflector.TypeInfoFor[T]()
	r.Register(ti.Name, func() any { return any(new(T)) })
}

// RegisterEvents registers event constructors. Each constructor is invoked
// once to derive the type name; the original constructor is kept so future
// decodes produce fresh instances per call.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		sample := ctor()
		r.Register(getEventTypeOf(sample), ctor)
	}
}

func getEventTypeOf(ev any) string {
	if t, ok := ev.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(ev).Name
}

var _ Decoder = (*EventRegistry)(nil)

package nats

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/streamfold/eskit/clock"
	"github.com/streamfold/eskit/core/es"
)

func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}
}

func newTestStore(t *testing.T) *EventStore {
	skipWithoutDocker(t)
	connect := ReuseConnection(NewTestContainer(t))
	store, err := NewEventStore(EventStoreConfig{
		Connect: connect,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEnvelope(eventType string) es.Envelope {
	return es.Envelope{
		ID:       gonanoid.Must(),
		Type:     eventType,
		Encoding: "json",
		Data:     []byte(`{}`),
	}
}

func TestEventStore_AppendLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	res, err := store.Append(ctx, "order", "o-1", 0, []es.Envelope{
		testEnvelope("created"),
		testEnvelope("item_added"),
	})
	require.NoError(t, err)
	require.Equal(t, es.Version(2), res.Version)
	require.Equal(t, uint64(2), res.LastSeq)

	events, err := store.Load(ctx, "order", "o-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, es.Version(1), events[0].Version)
	require.Equal(t, es.Version(2), events[1].Version)
	require.Equal(t, "created", events[0].Type)
	require.False(t, events[0].OccurredAt.IsZero())
}

func TestEventStore_Conflict(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	_, err := store.Append(ctx, "order", "o-2", 0, []es.Envelope{testEnvelope("created")})
	require.NoError(t, err)

	// stale expectation
	_, err = store.Append(ctx, "order", "o-2", 0, []es.Envelope{testEnvelope("created")})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	// correct expectation succeeds
	_, err = store.Append(ctx, "order", "o-2", 1, []es.Envelope{testEnvelope("item_added")})
	require.NoError(t, err)
}

func TestEventStore_LoadUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(t.Context(), "order", "missing")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

func TestEventStore_Events(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	_, err := store.Append(ctx, "order", "o-3", 0, []es.Envelope{
		testEnvelope("created"),
		testEnvelope("item_added"),
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, "customer", "c-1", 0, []es.Envelope{testEnvelope("created")})
	require.NoError(t, err)

	var all []es.Envelope
	for env, err := range store.Events(ctx, es.Query{}) {
		require.NoError(t, err)
		all = append(all, env)
	}
	require.Len(t, all, 3)

	var orders []es.Envelope
	for env, err := range store.Events(ctx, es.Query{AggregateType: "order"}) {
		require.NoError(t, err)
		orders = append(orders, env)
	}
	require.Len(t, orders, 2)

	var created []es.Envelope
	for env, err := range store.Events(ctx, es.Query{EventType: "created"}) {
		require.NoError(t, err)
		created = append(created, env)
	}
	require.Len(t, created, 2)
}

func TestEventStore_Subscribe(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	_, err := store.Append(ctx, "order", "o-4", 0, []es.Envelope{testEnvelope("created")})
	require.NoError(t, err)

	sub, err := store.Subscribe(ctx, es.WithDeliverPolicy(es.DeliverAllPolicy))
	require.NoError(t, err)
	defer sub.Cancel()
	require.Equal(t, uint64(1), sub.MaxSequence())

	_, err = store.Append(ctx, "order", "o-4", 1, []es.Envelope{testEnvelope("item_added")})
	require.NoError(t, err)

	var got []es.Envelope
	timeout := time.After(10 * time.Second)
	for len(got) < 2 {
		select {
		case env := <-sub.Chan():
			got = append(got, env)
		case <-timeout:
			t.Fatalf("timed out, got %d events", len(got))
		}
	}
	require.Equal(t, "created", got[0].Type)
	require.Equal(t, "item_added", got[1].Type)
}

// faultyJS acks publishes against an in-memory sequence until failAfter
// publishes have succeeded, then fails every subsequent one.
type faultyJS struct {
	jetstream.JetStream
	stream    *recordingStream
	failAfter int
	published int
}

func (f *faultyJS) PublishMsg(_ context.Context, _ *natsgo.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.published >= f.failAfter {
		return nil, errors.New("connection reset")
	}
	f.published++
	f.stream.seq++
	return &jetstream.PubAck{Stream: "TEST", Sequence: f.stream.seq}, nil
}

type recordingStream struct {
	jetstream.Stream
	seq     uint64
	deleted []uint64
}

func (s *recordingStream) GetLastMsgForSubject(context.Context, string) (*jetstream.RawStreamMsg, error) {
	return nil, jetstream.ErrMsgNotFound
}

func (s *recordingStream) DeleteMsg(_ context.Context, seq uint64) error {
	s.deleted = append(s.deleted, seq)
	return nil
}

func TestEventStore_AppendRollsBackPartialBatch(t *testing.T) {
	stream := &recordingStream{}
	store := &EventStore{
		js:            &faultyJS{stream: stream, failAfter: 2},
		stream:        stream,
		log:           slog.Default(),
		clock:         clock.Time,
		subjectPrefix: "test.es",
		streamName:    "TEST",
	}

	_, err := store.Append(t.Context(), "order", "o-rb", 0, []es.Envelope{
		testEnvelope("created"), testEnvelope("item_added"), testEnvelope("item_added"),
	})
	require.ErrorIs(t, err, es.ErrStorageUnavailable)
	require.Equal(t, []uint64{2, 1}, stream.deleted, "published prefix removed, newest first")
}

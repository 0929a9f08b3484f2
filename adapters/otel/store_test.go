package otel

import (
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/streamfold/eskit/core/es"
)

func TestTracingStore_PassThrough(t *testing.T) {
	store := WithTracing(es.NewInMemoryStore())
	ctx := t.Context()

	res, err := store.Append(ctx, "order", "o-1", 0, []es.Envelope{
		{ID: gonanoid.Must(), Type: "created", Encoding: "json", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.Equal(t, es.Version(1), res.Version)

	events, err := store.Load(ctx, "order", "o-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	// trace context metadata is attached to the stored envelope map
	require.NotNil(t, events[0].Metadata)

	_, err = store.Append(ctx, "order", "o-1", 0, []es.Envelope{
		{ID: gonanoid.Must(), Type: "created", Encoding: "json", Data: []byte(`{}`)},
	})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	var count int
	for _, err := range store.Events(ctx, es.Query{AggregateType: "order"}) {
		require.NoError(t, err)
		count++
	}
	require.Equal(t, 1, count)
}

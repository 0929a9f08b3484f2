package es

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type (
	orderPlaced  struct{ Total int64 }
	orderShipped struct{}
)

func TestEventRegistry_Decode(t *testing.T) {
	r := NewRegistry()
	RegisterEvents(r, Event[orderPlaced](), Event[orderShipped]())

	ev, err := r.Decode(Envelope{
		Type:     getEventTypeOf(&orderPlaced{}),
		Encoding: "json",
		Data:     []byte(`{"Total":42}`),
	})
	require.NoError(t, err)
	require.Equal(t, &orderPlaced{Total: 42}, ev)

	// nil payload still yields a fresh zero-valued event
	ev, err = r.Decode(Envelope{Type: getEventTypeOf(&orderShipped{})})
	require.NoError(t, err)
	require.Equal(t, &orderShipped{}, ev)
}

func TestEventRegistry_DecodeErrors(t *testing.T) {
	r := NewRegistry()
	RegisterEvents(r, Event[orderPlaced]())

	placed := getEventTypeOf(&orderPlaced{})

	_, err := r.Decode(Envelope{Type: "unregistered"})
	require.ErrorIs(t, err, ErrSerialization)

	_, err = r.Decode(Envelope{Type: placed, Encoding: "json", Data: []byte(`{broken`)})
	require.ErrorIs(t, err, ErrSerialization)

	_, err = r.Decode(Envelope{Type: placed, Encoding: "no-such-codec", Data: []byte(`{}`)})
	require.ErrorIs(t, err, ErrSerialization)
}

func TestEventRegistry_Types(t *testing.T) {
	r := NewRegistry()
	RegisterEvents(r, Event[orderShipped](), Event[orderPlaced]())

	// registration order is preserved; re-registering does not duplicate
	RegisterEvents(r, Event[orderShipped]())

	require.Equal(t, []string{
		getEventTypeOf(&orderShipped{}),
		getEventTypeOf(&orderPlaced{}),
	}, r.Types())
}

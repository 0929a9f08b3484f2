// Package codec defines the serializer contract used for event payloads and
// snapshot state. Encodings are registered by name so that the encoding an
// envelope or snapshot was written with can be resolved again on read, even
// after the default changes.
package codec

import (
	"errors"
	"fmt"
)

var (
	ErrNotRegistered = errors.New("codec not registered")

	// Default is the codec used when none is configured explicitly.
	Default = JSON

	// Registry resolves codecs by their persisted encoding name.
	Registry = &codecRegistry{
		m: map[string]Codec{
			"json":    JSON,
			"msgpack": MsgPack,
		},
	}
)

// Codec marshals values to bytes and back.
type Codec interface {
	// Name is the stable identifier persisted alongside encoded data.
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type codecRegistry struct {
	m map[string]Codec
}

func (r *codecRegistry) Get(name string) (Codec, error) {
	c, ok := r.m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return c, nil
}

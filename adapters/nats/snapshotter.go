package nats

import (
	"github.com/streamfold/eskit/core/es"
)

// NewSnapshotter creates a jetstream key-value backed snapshotter. A missing
// key surfaces as es.ErrSnapshotNotFound, which the repository treats as
// "full replay".
func NewSnapshotter(cfg KvConfig) (*es.KeyValueSnapshotter, error) {
	kvs, err := NewKvStore(cfg)
	if err != nil {
		return nil, err
	}
	return es.NewKeyValueSnapshotter(kvs), nil
}

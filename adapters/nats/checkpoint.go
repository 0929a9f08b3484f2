package nats

import (
	"errors"

	"github.com/streamfold/eskit/core/es"
)

type CpStoreConfig struct {
	Connect Connector
	Bucket  string
	// Key identifies the consumer or projection owning this checkpoint.
	Key string
}

// NewCpStore creates a checkpoint store persisting to a jetstream key-value
// bucket, so consumers and projections resume across process restarts.
func NewCpStore(cfg CpStoreConfig) (*es.KeyValueCpStore, error) {
	if cfg.Key == "" {
		return nil, errors.New("key is required")
	}
	kvs, err := NewKvStore(KvConfig{
		Bucket:  cfg.Bucket,
		Connect: cfg.Connect,
	})
	if err != nil {
		return nil, err
	}
	return es.NewKeyValueCpStore(kvs, cfg.Key), nil
}

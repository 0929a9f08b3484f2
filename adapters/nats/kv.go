package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/streamfold/eskit/ports/kv"
)

const kvOpTimeout = 5 * time.Second

type KvConfig struct {
	Connect Connector
	Bucket  string
	// MaxBytes bounds the bucket size (default 16 MiB).
	MaxBytes int64
}

// KvStore implements kv.Store over a JetStream key-value bucket. The
// snapshotter and checkpoint store build on it.
type KvStore struct {
	kv jetstream.KeyValue
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, _, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 16 * 1024 * 1024
	}

	ctx, cancel := context.WithTimeout(context.Background(), kvOpTimeout)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: maxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
	}

	return &KvStore{kv: kv}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, kvOpTimeout)
	defer cancel()

	_, err := k.kv.Put(ctx, key, data)
	return err
}

func (k *KvStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, kvOpTimeout)
	defer cancel()

	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", kv.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v.Value(), nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, kvOpTimeout)
	defer cancel()
	return k.kv.Delete(ctx, key)
}

var _ kv.Store = (*KvStore)(nil)

package es

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/streamfold/eskit/ports/kv"
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CpStore tracks the last successfully processed global sequence for one
// consumer or projection, making delivery resumable across restarts.
type CpStore interface {
	Get() (lastSeq uint64, err error)
	Set(lastSeq uint64) error
}

type InMemoryCpStore struct {
	mu  sync.RWMutex
	v   uint64
	set bool
}

func NewInMemoryCpStore() *InMemoryCpStore {
	return &InMemoryCpStore{}
}

func (s *InMemoryCpStore) Get() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return 0, ErrCheckpointNotFound
	}
	return s.v, nil
}

func (s *InMemoryCpStore) Set(v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	s.set = true
	return nil
}

var _ CpStore = (*InMemoryCpStore)(nil)

// KeyValueCpStore persists a checkpoint as a decimal string in any kv.Store.
// The key identifies the consumer or projection owning the checkpoint.
type KeyValueCpStore struct {
	kv  kv.Store
	key string
}

func NewKeyValueCpStore(store kv.Store, key string) *KeyValueCpStore {
	return &KeyValueCpStore{kv: store, key: key}
}

func (s *KeyValueCpStore) Get() (uint64, error) {
	data, err := s.kv.Get(context.Background(), s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, ErrCheckpointNotFound
		}
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

func (s *KeyValueCpStore) Set(lastSeq uint64) error {
	return s.kv.Put(context.Background(), s.key, []byte(strconv.FormatUint(lastSeq, 10)))
}

var _ CpStore = (*KeyValueCpStore)(nil)

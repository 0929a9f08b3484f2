package es

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/streamfold/eskit/codec"
	"github.com/streamfold/eskit/id"
	"github.com/streamfold/eskit/ports/kv"
)

var (
	ErrSnapshotterUnconfigured = errors.New("no snapshotter configured")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
)

// Snapshot is a point-in-time serialization of an aggregate's state at a
// given version. Snapshots are a replay optimization only: one per aggregate
// is retained (the latest) and a damaged or missing snapshot merely falls
// back to full replay.
type Snapshot struct {
	SnapshotID string `json:"snapshot_id"`

	AggregateID   string  `json:"aggregate_id"`
	AggregateType string  `json:"aggregate_type"`
	Version       Version `json:"version"`

	// StreamSeq is the global store sequence of the last folded event.
	StreamSeq uint64 `json:"stream_seq"`

	TakenAt       time.Time `json:"taken_at"`
	SchemaVersion int       `json:"schema_version"`
	Encoding      string    `json:"encoding"`
	// Checksum is the hex BLAKE2b-256 digest of Data, verified on restore.
	Checksum string `json:"checksum"`
	Data     []byte `json:"data"`
}

// Verify checks Data against the stored checksum.
func (s *Snapshot) Verify() error {
	if s.Checksum == "" {
		return nil
	}
	sum := blake2b.Sum256(s.Data)
	if hex.EncodeToString(sum[:]) != s.Checksum {
		return fmt.Errorf("snapshot checksum mismatch: %s/%s version %d",
			s.AggregateType, s.AggregateID, s.Version)
	}
	return nil
}

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("agg_type", s.AggregateType),
		slog.String("agg_id", s.AggregateID),
		s.Version.SlogAttr(),
		slog.Uint64("seq", s.StreamSeq),
		slog.Time("taken_at", s.TakenAt),
		slog.Int("size", len(s.Data)),
	)
}

// Snapshottable lets an aggregate or projection control its own snapshot
// serialization. Types that do not implement it are marshalled with the
// configured codec.
type Snapshottable interface {
	Snapshot() (data []byte, err error)
	RestoreSnapshot(data []byte) error
}

// Snapshotter persists at most one snapshot per aggregate, overwriting on
// save. It has no opinion on cadence; the write side decides when to
// snapshot.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	LoadSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error)
}

// NewSnapshot captures agg's current state.
func NewSnapshot(agg Aggregate, c codec.Codec, takenAt time.Time, gen id.Generator) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if s, ok := any(agg).(Snapshottable); ok {
		data, err = s.Snapshot()
	} else {
		data, err = c.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot state: %w", err)
	}
	sum := blake2b.Sum256(data)
	return &Snapshot{
		SnapshotID:    gen.New(),
		AggregateID:   agg.GetID(),
		AggregateType: agg.GetAggType(),
		Version:       agg.GetVersion(),
		StreamSeq:     agg.GetSeq(),
		TakenAt:       takenAt,
		SchemaVersion: 1,
		Encoding:      c.Name(),
		Checksum:      hex.EncodeToString(sum[:]),
		Data:          data,
	}, nil
}

// LoadSnapshot fetches the latest snapshot for an aggregate.
func LoadSnapshot(ctx context.Context, snapshotter Snapshotter, aggType, aggID string) (*Snapshot, error) {
	if snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	return snapshotter.LoadSnapshot(ctx, aggType, aggID)
}

// ApplySnapshot loads the latest snapshot for agg and restores its state,
// version and sequence from it. A snapshot that fails checksum verification
// is reported as ErrSnapshotNotFound so callers fall back to full replay.
func ApplySnapshot(ctx context.Context, snapshotter Snapshotter, agg Aggregate) error {
	snapshot, err := LoadSnapshot(ctx, snapshotter, agg.GetAggType(), agg.GetID())
	if err != nil {
		return err
	}
	if err := snapshot.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotNotFound, err)
	}

	if s, ok := any(agg).(Snapshottable); ok {
		err = s.RestoreSnapshot(snapshot.Data)
	} else {
		var c codec.Codec
		c, err = codecFor(snapshot.Encoding)
		if err == nil {
			err = c.Unmarshal(snapshot.Data, agg)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	agg.setVersion(snapshot.Version)
	agg.setSeq(snapshot.StreamSeq)
	return nil
}

// === In-memory Snapshotter ===

type InMemorySnapshotter struct {
	mu        sync.Mutex
	log       *slog.Logger
	snapshots map[string]*Snapshot
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{
		log:       slog.Default().With(slog.String("snapshotter", "memory")),
		snapshots: map[string]*Snapshot{},
	}
}

func (i *InMemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.snapshots[snapshot.AggregateType+"-"+snapshot.AggregateID] = snapshot
	return nil
}

func (i *InMemorySnapshotter) LoadSnapshot(_ context.Context, aggType, aggID string) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.snapshots[aggType+"-"+aggID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, aggType, aggID)
	}
	return s, nil
}

var _ Snapshotter = (*InMemorySnapshotter)(nil)

// === Key-value backed Snapshotter ===

// KeyValueSnapshotter stores JSON-encoded snapshots in any kv.Store
// (e.g. a NATS JetStream bucket via adapters/nats, or kv.MemStore).
type KeyValueSnapshotter struct {
	kv kv.Store
}

func NewKeyValueSnapshotter(store kv.Store) *KeyValueSnapshotter {
	return &KeyValueSnapshotter{kv: store}
}

func snapshotKey(aggType, aggID string) string { return aggType + "." + aggID }

func (k *KeyValueSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return k.kv.Put(ctx, snapshotKey(snapshot.AggregateType, snapshot.AggregateID), data)
}

func (k *KeyValueSnapshotter) LoadSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error) {
	data, err := k.kv.Get(ctx, snapshotKey(aggType, aggID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, aggType, aggID)
		}
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

var _ Snapshotter = (*KeyValueSnapshotter)(nil)

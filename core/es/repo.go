package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/streamfold/eskit/clock"
	"github.com/streamfold/eskit/codec"
	"github.com/streamfold/eskit/core/sf"
	"github.com/streamfold/eskit/id"
)

// Repository rehydrates aggregates from snapshot + tail events and persists
// new events with optimistic concurrency.
type Repository interface {
	Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error
	Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error
	CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error)
}

type repository struct {
	log           *slog.Logger
	store         EventStore
	registry      *EventRegistry
	snapshotter   Snapshotter
	codec         codec.Codec
	clock         clock.Clock
	ids           id.Generator
	metrics       Metrics
	snapshotEvery uint64

	// dedupes concurrent snapshot fetches for the same aggregate; the
	// returned *Snapshot is read-only and safe to share
	snapshotGroup sf.Singleflight[Snapshot]
}

func NewRepository(
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := newRepoOptions(opts...)

	return &repository{
		log:           log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:         store,
		registry:      registry,
		snapshotter:   options.snapshotter,
		codec:         options.codec,
		clock:         options.clock,
		ids:           options.ids,
		metrics:       options.metrics,
		snapshotEvery: options.snapshotEvery,
	}
}

// Load rehydrates agg: restore the latest valid snapshot (when configured),
// then fold the tail events in strictly increasing version order. A version
// gap or duplicate during replay is ErrCorruptHistory.
func (r *repository) Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error {
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events")
	}

	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	loadOptions := repoLoadOptions{snapshot: true}
	for _, opt := range opts {
		opt.applyToLoadOptions(&loadOptions)
	}

	log := r.log.With(slog.Group("agg",
		slog.String("type", aggType),
		slog.String("id", aggID),
	))

	fromSnapshot := false
	if loadOptions.snapshot && r.snapshotter != nil {
		if err := r.applySnapshotShared(ctx, agg); err != nil {
			if !errors.Is(err, ErrSnapshotNotFound) {
				return fmt.Errorf("failed to apply snapshot: %w", err)
			}
		} else {
			fromSnapshot = true
			log.Debug("snapshot applied", slog.Uint64("seq", agg.GetSeq()), agg.GetVersion().SlogAttr())
		}
	}

	var (
		curVersion = agg.GetVersion()
		curSeq     = agg.GetSeq()
	)

	loaded, err := r.store.Load(
		ctx,
		aggType,
		aggID,
		WithStartAtVersion(curVersion+1),
		WithStartAtSeq(curSeq+1),
	)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) && fromSnapshot {
			// a snapshot without its stream is a storage-layer bug
			return corruptHistoryError(aggType, aggID, curVersion+1, 0)
		}
		return err
	}

	for _, e := range loaded {
		expect := agg.GetVersion() + 1
		if e.Version != expect {
			return corruptHistoryError(aggType, aggID, expect, e.Version)
		}

		evt, err := r.registry.Decode(e)
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}

		agg.setVersion(e.Version)
		agg.setSeq(e.Seq)
	}

	if agg.GetVersion() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrAggregateNotFound, aggType, aggID)
	}

	log.Debug("loaded", agg.GetVersion().SlogAttr(), slog.Int("num_events", len(loaded)))

	return nil
}

func (r *repository) applySnapshotShared(ctx context.Context, agg Aggregate) error {
	key := agg.GetAggType() + "-" + agg.GetID()
	snapshot, err := r.snapshotGroup.Do(key, func() (*Snapshot, error) {
		defer r.metrics.SnapshotLoadDuration(agg.GetAggType()).ObserveDuration()
		return LoadSnapshot(ctx, r.snapshotter, agg.GetAggType(), agg.GetID())
	})
	if err != nil {
		return err
	}
	if err := snapshot.Verify(); err != nil {
		r.log.Warn("discarding corrupt snapshot", snapshot.logAttrs(), slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrSnapshotNotFound, err)
	}
	return restoreSnapshot(agg, snapshot)
}

// Save appends the aggregate's uncommitted events under its pre-operation
// version. On success it advances the in-memory version/sequence, clears
// the uncommitted buffer and, when the version crosses the snapshot
// interval, writes a snapshot best-effort.
func (r *repository) Save(ctx context.Context, agg Aggregate, saveOpts ...SaveOption) error {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return nil
	}
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}

	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	saveOptions := repoSaveOptions{}
	for _, opt := range saveOpts {
		opt.applyToSaveOptions(&saveOptions)
	}

	expectVersion := agg.GetVersion()
	newEnvs := make([]Envelope, 0, len(uncommitted))
	v := expectVersion

	for _, ev := range uncommitted {
		data, err := r.codec.Marshal(ev)
		if err != nil {
			return serializationError(aggType, aggID, v+1, getEventTypeOf(ev), err)
		}

		v++
		newEnvs = append(newEnvs, Envelope{
			ID:            r.ids.New(),
			Type:          getEventTypeOf(ev),
			AggregateID:   aggID,
			AggregateType: aggType,
			Version:       v,
			Metadata:      saveOptions.metadata,
			Encoding:      r.codec.Name(),
			Data:          data,
		})
	}

	res, err := r.store.Append(ctx, aggType, aggID, expectVersion, newEnvs)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(aggType)
		}
		return fmt.Errorf("failed to save %s/%s: %w", aggType, aggID, err)
	}
	if res == nil {
		return errors.New("append returned nil result")
	}

	agg.setSeq(res.LastSeq)
	agg.setVersion(v)
	agg.ClearUncommitted()
	r.metrics.EventsAppended(aggType, len(newEnvs))

	if saveOptions.snapshot || r.crossedSnapshotInterval(expectVersion, v) {
		// best-effort: snapshots never fail the append that triggered
		// them, the next interval crossing retries
		if _, snapErr := r.CreateSnapshot(ctx, agg); snapErr != nil {
			r.metrics.SnapshotFailure(aggType)
			r.log.Warn("snapshot write failed",
				slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
				agg.GetVersion().SlogAttr(),
				slog.Any("error", snapErr),
			)
		}
	}

	r.log.Debug(
		"saved",
		slog.Group("agg",
			slog.String("id", aggID),
			slog.String("type", aggType),
			slog.Uint64("seq", agg.GetSeq()),
			agg.GetVersion().SlogAttr(),
		),
		slog.Int("num_events", len(newEnvs)),
	)

	return nil
}

func (r *repository) crossedSnapshotInterval(oldV, newV Version) bool {
	if r.snapshotEvery == 0 || r.snapshotter == nil {
		return false
	}
	return uint64(oldV)/r.snapshotEvery != uint64(newV)/r.snapshotEvery
}

func (r *repository) CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error) {
	if r.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	defer r.metrics.SnapshotSaveDuration(agg.GetAggType()).ObserveDuration()

	ss, err := NewSnapshot(agg, r.codec, r.clock.Now(), r.ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := r.snapshotter.SaveSnapshot(ctx, ss); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return ss, nil
}

var _ Repository = (*repository)(nil)

func restoreSnapshot(agg Aggregate, snapshot *Snapshot) error {
	var err error
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

// === TypedRepository ===

// TypedRepository is a generics-typed facade over Repository.
type TypedRepository[T Aggregate] interface {
	GetAggType() string
	New() T
	NewWithID(id string) T
	Load(ctx context.Context, a T, opts ...LoadOption) error
	GetOrCreate(ctx context.Context, aggID string, opts ...LoadOption) (T, error)
	GetByID(ctx context.Context, aggID string, opts ...LoadOption) (T, error)
	Save(ctx context.Context, agg T, opts ...SaveOption) error
	// Update runs the load-mutate-save cycle for aggID, retrying the whole
	// command with backoff when another writer wins the optimistic race.
	Update(ctx context.Context, aggID string, fn func(T) error, opts ...SaveOption) (T, error)
}

type typedRepo[T Aggregate] struct {
	r   Repository
	log *slog.Logger
}

func (t *typedRepo[T]) New() T { return t.NewWithID("") }

func (t *typedRepo[T]) NewWithID(aggID string) T {
	var a T
	if c, ok := any(a).(interface{ Create() T }); ok {
		a = c.Create()
	} else {
		rt := reflect.TypeOf((*T)(nil)).Elem()
		if rt.Kind() == reflect.Pointer {
			a = reflect.New(rt.Elem()).Interface().(T)
		} else {
			a = *new(T)
		}
	}
	a.SetID(aggID)
	return a
}

func (t *typedRepo[T]) Load(ctx context.Context, a T, opts ...LoadOption) error {
	return t.r.Load(ctx, a, opts...)
}

func (t *typedRepo[T]) GetOrCreate(ctx context.Context, aggID string, opts ...LoadOption) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.NewWithID(aggID)
	err = t.r.Load(ctx, a, opts...)
	if err != nil {
		if !errors.Is(err, ErrAggregateNotFound) {
			return a, err
		}
		if err = a.Create(aggID); err != nil {
			return a, err
		}
		if err = t.Save(ctx, a); err != nil {
			return a, err
		}
		t.log.Debug("created", slog.String("id", aggID))
	}
	return a, nil
}

func (t *typedRepo[T]) GetByID(ctx context.Context, aggID string, opts ...LoadOption) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.NewWithID(aggID)
	if err = t.r.Load(ctx, a, opts...); err != nil {
		return
	}
	return a, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T, opts ...SaveOption) error {
	return t.r.Save(ctx, agg, opts...)
}

func (t *typedRepo[T]) Update(ctx context.Context, aggID string, fn func(T) error, opts ...SaveOption) (T, error) {
	var out T
	err := retryConflicts(ctx, func() error {
		a, err := t.GetByID(ctx, aggID)
		if err != nil {
			return permanent(err)
		}
		if err := fn(a); err != nil {
			return permanent(err)
		}
		if err := t.Save(ctx, a, opts...); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				return err
			}
			return permanent(err)
		}
		out = a
		return nil
	})
	return out, err
}

func (t *typedRepo[T]) GetAggType() string {
	return t.New().GetAggType()
}

func NewTypedRepository[T Aggregate](log *slog.Logger, s EventStore, reg *EventRegistry, opts ...RepositoryOption) TypedRepository[T] {
	return NewTypedRepositoryFrom[T](log, NewRepository(log, s, reg, opts...))
}

func NewTypedRepositoryFrom[T Aggregate](log *slog.Logger, r Repository) TypedRepository[T] {
	return &typedRepo[T]{r: r, log: log.With(slog.String("repo", fmt.Sprintf("%T", *new(T))))}
}

package es

import (
	"github.com/streamfold/eskit/clock"
	"github.com/streamfold/eskit/codec"
	"github.com/streamfold/eskit/id"
)

type repoOptions struct {
	snapshotter   Snapshotter
	codec         codec.Codec
	clock         clock.Clock
	ids           id.Generator
	metrics       Metrics
	snapshotEvery uint64
}

type RepositoryOption interface{ applyToRepository(*repoOptions) }

func newRepoOptions(opts ...RepositoryOption) repoOptions {
	options := repoOptions{
		codec:   codec.Default,
		clock:   clock.Time,
		ids:     id.NanoID,
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	return options
}

func (o SnapshotterOption) applyToRepository(options *repoOptions) { options.snapshotter = o.v }
func (o CodecOption) applyToRepository(options *repoOptions)       { options.codec = o.v }
func (o ClockOption) applyToRepository(options *repoOptions)       { options.clock = o.v }
func (o IDOption) applyToRepository(options *repoOptions)          { options.ids = o.v }
func (o MetricsOption) applyToRepository(options *repoOptions)     { options.metrics = o.m }

// SnapshotEveryOption configures the automatic snapshot cadence: a snapshot
// is taken whenever a save moves the version across a multiple of n.
// Zero disables automatic snapshots.
type SnapshotEveryOption struct{ n uint64 }

func WithSnapshotEvery(n uint64) SnapshotEveryOption { return SnapshotEveryOption{n: n} }

func (o SnapshotEveryOption) applyToRepository(options *repoOptions) { options.snapshotEvery = o.n }

// === Save / Load options ===

type (
	repoSaveOptions struct {
		snapshot bool
		metadata map[string]string
	}
	repoLoadOptions struct{ snapshot bool }

	SaveOption interface{ applyToSaveOptions(*repoSaveOptions) }
	LoadOption interface{ applyToLoadOptions(*repoLoadOptions) }
)

// SnapshotOption forces (or suppresses) snapshot use for one Save/Load.
type SnapshotOption struct{ v bool }

func WithSnapshot(v bool) SnapshotOption { return SnapshotOption{v: v} }

func (o SnapshotOption) applyToSaveOptions(options *repoSaveOptions) { options.snapshot = o.v }
func (o SnapshotOption) applyToLoadOptions(options *repoLoadOptions) { options.snapshot = o.v }

// MetadataOption attaches free-form context (causation id, actor,
// correlation id) to every envelope of one save.
type MetadataOption struct{ md map[string]string }

func WithEventMetadata(md map[string]string) MetadataOption { return MetadataOption{md: md} }

func (o MetadataOption) applyToSaveOptions(options *repoSaveOptions) { options.metadata = o.md }

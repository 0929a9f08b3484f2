package es

import "github.com/streamfold/eskit/core/metrics"

// Metrics is the instrumentation surface of the event sourcing components.
// Implementations must be safe for concurrent use; adapters/prometheus
// provides a production implementation.
type Metrics interface {
	// Store
	StoreAppendDuration(aggType string) metrics.Timer
	StoreLoadDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	ConcurrencyConflict(aggType string)

	// Repository
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer

	// Snapshots
	SnapshotSaveDuration(aggType string) metrics.Timer
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotFailure(aggType string)

	// Consumers / projections
	ConsumerEventDuration(eventType string, live bool) metrics.Timer
	ConsumerEventProcessed(eventType string, live bool, success bool)
	ConsumerLag(consumer string, lag int64)
	ProjectionState(name string, state ProjectionState)
}

type nopMetrics struct{}

func (nopMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)               {}
func (nopMetrics) ConcurrencyConflict(string)               {}

func (nopMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SnapshotFailure(string)                    {}

func (nopMetrics) ConsumerEventDuration(string, bool) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) ConsumerEventProcessed(string, bool, bool)        {}
func (nopMetrics) ConsumerLag(string, int64)                        {}
func (nopMetrics) ProjectionState(string, ProjectionState)          {}

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamfold/eskit/core/es"
	"github.com/streamfold/eskit/core/metrics"
)

// esMetrics implements es.Metrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeLoadDuration    *prometheus.HistogramVec
	storeAppendDuration  *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	// Repository metrics
	repoLoadDuration *prometheus.HistogramVec
	repoSaveDuration *prometheus.HistogramVec

	// Snapshot metrics
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotFailures     *prometheus.CounterVec

	// Consumer / projection metrics
	consumerEventDuration *prometheus.HistogramVec
	consumerEvents        *prometheus.CounterVec
	consumerLag           *prometheus.GaugeVec
	projectionState       *prometheus.GaugeVec
}

// NewESMetrics creates a Prometheus implementation of es.Metrics and
// registers all collectors with reg.
func NewESMetrics(reg prometheus.Registerer) es.Metrics {
	m := &esMetrics{
		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eskit_store_load_duration_seconds",
			Help:    "Event store load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eskit_store_append_duration_seconds",
			Help:    "Event store append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eskit_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eskit_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eskit_repo_load_duration_seconds",
			Help:    "Repository load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eskit_repo_save_duration_seconds",
			Help:    "Repository save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eskit_snapshot_load_duration_seconds",
			Help:    "Snapshot load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eskit_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eskit_snapshot_failures_total",
			Help: "Total number of failed snapshot writes",
		}, []string{"aggregate_type"}),

		consumerEventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eskit_consumer_event_duration_seconds",
			Help:    "Event processing time in seconds",
			Buckets: defaultBuckets,
		}, []string{"event_type", "live"}),

		consumerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eskit_consumer_events_total",
			Help: "Total number of events processed",
		}, []string{"event_type", "live", "success"}),

		consumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eskit_consumer_lag",
			Help: "Consumer lag (sequences behind head)",
		}, []string{"consumer"}),

		projectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eskit_projection_state",
			Help: "Projection lifecycle state (1 for the active state)",
		}, []string{"projection", "state"}),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.snapshotFailures,
		m.consumerEventDuration,
		m.consumerEvents,
		m.consumerLag,
		m.projectionState,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotFailure(aggType string) {
	m.snapshotFailures.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) ConsumerEventDuration(eventType string, live bool) metrics.Timer {
	return newTimer(m.consumerEventDuration.WithLabelValues(eventType, boolToStr(live)))
}

func (m *esMetrics) ConsumerEventProcessed(eventType string, live bool, success bool) {
	m.consumerEvents.WithLabelValues(eventType, boolToStr(live), boolToStr(success)).Inc()
}

func (m *esMetrics) ConsumerLag(consumer string, lag int64) {
	m.consumerLag.WithLabelValues(consumer).Set(float64(lag))
}

func (m *esMetrics) ProjectionState(name string, state es.ProjectionState) {
	for _, s := range []es.ProjectionState{
		es.ProjectionBuilding,
		es.ProjectionLive,
		es.ProjectionRebuilding,
		es.ProjectionFailed,
	} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.projectionState.WithLabelValues(name, s.String()).Set(v)
	}
}

var _ es.Metrics = (*esMetrics)(nil)

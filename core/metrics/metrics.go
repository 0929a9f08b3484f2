// Package metrics defines narrow instrumentation interfaces so the event
// sourcing packages stay decoupled from any particular metrics backend.
package metrics

// Counter is a monotonically increasing value.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge is a value that can move in both directions.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

// Histogram samples observations into buckets.
type Histogram interface {
	Observe(value float64)
}

// Timer records the duration of one operation. Create it when the operation
// starts and call ObserveDuration when it completes:
//
//	defer m.StoreAppendDuration("order").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

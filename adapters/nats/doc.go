// Package nats provides JetStream-backed implementations of the event
// store, snapshotter and checkpoint store: one stream with a subject per
// aggregate, optimistic concurrency via per-subject publish expectations,
// and key-value buckets for snapshots and checkpoints.
package nats

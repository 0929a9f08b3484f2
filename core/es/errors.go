package es

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict signals a stale expected version on append.
	// Recoverable: reload the aggregate and retry the whole command.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrCorruptHistory signals a version gap or duplicate detected during
	// replay. Fatal, points at a storage-layer bug, never repaired silently.
	ErrCorruptHistory = errors.New("corrupt history")

	// ErrSerialization signals a payload that cannot be decoded with the
	// current schema of its declared event type. Fatal for that event only.
	ErrSerialization = errors.New("serialization failure")

	// ErrStorageUnavailable signals a transient I/O failure. The store does
	// not retry internally; callers retry with backoff (see RetryTransient).
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrAggregateNotFound = errors.New("aggregate not found")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrStoreNoEvents     = errors.New("no events to store")
)

// Error wrapping helpers. Every store error carries aggregate identity and
// version context for debuggability.

func conflictError(aggType, aggID string, expect, head Version) error {
	return fmt.Errorf("%w: %s/%s expected version %d, head is %d",
		ErrConcurrencyConflict, aggType, aggID, expect, head)
}

func corruptHistoryError(aggType, aggID string, expect, got Version) error {
	return fmt.Errorf("%w: %s/%s expected version %d during replay, got %d",
		ErrCorruptHistory, aggType, aggID, expect, got)
}

func serializationError(aggType, aggID string, v Version, eventType string, cause error) error {
	return fmt.Errorf("%w: %s/%s version %d event %q: %v",
		ErrSerialization, aggType, aggID, v, eventType, cause)
}

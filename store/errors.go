package store

import "errors"

var (
	// ErrNotRegistered indicates the caller's heartbeat vanished between
	// being written and being read back, usually because it was purged as stale.
	ErrNotRegistered = errors.New("worker not registered")

	// ErrInvalidPartition indicates a partition request outside [0, totalWorkers).
	ErrInvalidPartition = errors.New("invalid partition")

	// ErrConcurrentUpdate indicates the pending deltas of an item changed while
	// they were being folded. The fold is rolled back and retried next cycle.
	ErrConcurrentUpdate = errors.New("pending updates changed concurrently")
)

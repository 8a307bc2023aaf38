package store

import (
	"context"
	"time"

	"github.com/getpup/abacus"
)

// DefaultStaleAfter is how long a heartbeat stays live without a refresh
// before registries purge it.
const DefaultStaleAfter = 10 * time.Minute

// Registry is the heartbeat registry shared by all workers of an executable.
// Implementations must be safe for concurrent access from multiple workers.
//
// For one executable, the records returned by Live must occupy the contiguous
// index range [0, TotalWorkers) with no duplicate index.
type Registry interface {
	// Live registers or refreshes the heartbeat of id, purges stale heartbeats
	// and returns id's current position among the live workers.
	Live(ctx context.Context, id abacus.Identity) (abacus.HeartbeatRecord, error)

	// Die removes the heartbeat of id. Removing an unknown id is not an error.
	Die(ctx context.Context, id abacus.Identity) error

	// SanityCheck removes heartbeats of executable on hostname whose process
	// no longer exists, so a restarted daemon does not inherit ghost workers.
	SanityCheck(ctx context.Context, executable, hostname string) error
}

// CounterStore is the storage engine holding account counters and their
// pending updates.
type CounterStore interface {
	// CheckSchema verifies the schema version of the backing store.
	// Returns an error wrapping abacus.ErrSchemaIncompatible on mismatch.
	CheckSchema(ctx context.Context) error

	// UpdatedCounters returns the pending items owned by partition index out of
	// totalWorkers. An empty slice means there is no pending work.
	UpdatedCounters(ctx context.Context, totalWorkers, index int) ([]abacus.WorkItem, error)

	// ApplyUpdate folds all pending deltas of item into its counter.
	ApplyUpdate(ctx context.Context, item abacus.WorkItem) error

	// FillHistory snapshots the current counters into the usage history.
	// Repeated calls are safe.
	FillHistory(ctx context.Context) error
}

// Counter is the aggregated usage of an account on one storage endpoint.
type Counter struct {
	Files     int64
	Bytes     int64
	UpdatedAt time.Time
}

// Package abacus coordinates a pool of identical workers that fold pending
// account counter updates into account counters.
//
// Workers never talk to each other. Every cycle each worker refreshes its
// heartbeat in a shared registry, receives its position among the live
// workers of the same executable, and fetches only the updates whose key
// hashes into that position. A worker that crashes stops heartbeating and
// drops out of the registry; the survivors pick up its share on their next
// cycle.
package abacus

import (
	"context"

	"github.com/getpup/pupsourcing/es"
)

// Logger is the structured logger used throughout the module. It is the
// pupsourcing event store logger, so one logger serves both.
// Key-value pairs follow the log/slog convention. A nil Logger disables logging.
type Logger = es.Logger

// Daemon runs a set of workers until ctx is cancelled.
type Daemon interface {
	// Run performs the startup checks, starts the workers and blocks until
	// all of them have stopped.
	//
	// Run returns an error only if a startup precondition fails, such as
	// ErrSchemaIncompatible. It returns nil after a graceful stop.
	Run(ctx context.Context) error
}

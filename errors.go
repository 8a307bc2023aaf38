package abacus

import "errors"

var (
	// ErrRegistryUnavailable indicates the heartbeat registry could not be reached.
	// It is transient: workers log it and retry on the next cycle.
	ErrRegistryUnavailable = errors.New("heartbeat registry unavailable")

	// ErrStoreFailure indicates the counter store failed to fetch, apply or archive counters.
	// It is transient: the failing item or run is logged and the loop continues.
	ErrStoreFailure = errors.New("counter store failure")

	// ErrSchemaIncompatible indicates the database schema does not match the version
	// this daemon was built for. It is fatal at startup only.
	ErrSchemaIncompatible = errors.New("database schema incompatible")
)

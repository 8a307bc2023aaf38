package abacus

import (
	"fmt"
	"time"
)

// WorkItem identifies one outstanding counter update: the pending deltas
// recorded for an account on a storage endpoint (RSE).
// Items carry no ordering relative to each other.
type WorkItem struct {
	// Account is the account whose counter needs updating.
	Account string

	// RSEID identifies the storage endpoint the counter belongs to.
	RSEID string
}

// Key returns the partitioning key of the item.
func (w WorkItem) Key() string {
	return w.Account + ":" + w.RSEID
}

// String implements fmt.Stringer.
func (w WorkItem) String() string {
	return w.Account + "-" + w.RSEID
}

// Identity is the set of fields a worker writes to the heartbeat registry.
// The registry orders live identities of one executable to derive indices.
type Identity struct {
	// Executable is the daemon name shared by all cooperating workers.
	Executable string

	// Hostname is the host the worker runs on.
	Hostname string

	// PID is the operating system process id.
	PID int

	// ThreadID distinguishes workers inside one process (UUID).
	ThreadID string

	// ThreadName is a human readable worker name, informational only.
	ThreadName string
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	return fmt.Sprintf("%s@%s[%d/%s]", i.Executable, i.Hostname, i.PID, i.ThreadID)
}

// HeartbeatRecord is the registry's view of one live worker.
// The registry owns AssignedIndex and TotalWorkers; workers only write their identity.
type HeartbeatRecord struct {
	Identity

	// AssignedIndex is the worker's position among live workers, in [0, TotalWorkers).
	AssignedIndex int

	// TotalWorkers is the number of live workers for the executable.
	TotalWorkers int

	// LastSeen is the time of the last successful heartbeat.
	LastSeen time.Time
}

// WorkerState represents the lifecycle state of a worker loop.
type WorkerState string

const (
	// WorkerStateStarting is the initial state before the first registration.
	WorkerStateStarting WorkerState = "starting"

	// WorkerStateRegistering indicates the worker is refreshing its heartbeat.
	WorkerStateRegistering WorkerState = "registering"

	// WorkerStateFetching indicates the worker is requesting its partition of work.
	WorkerStateFetching WorkerState = "fetching"

	// WorkerStateProcessing indicates the worker is applying fetched items.
	WorkerStateProcessing WorkerState = "processing"

	// WorkerStateSleeping indicates the worker found no work and is backing off.
	WorkerStateSleeping WorkerState = "sleeping"

	// WorkerStateStopping indicates shutdown was observed and the worker is deregistering.
	WorkerStateStopping WorkerState = "stopping"

	// WorkerStateStopped is terminal.
	WorkerStateStopped WorkerState = "stopped"
)

// WorkerStates lists every state in lifecycle order.
var WorkerStates = []WorkerState{
	WorkerStateStarting,
	WorkerStateRegistering,
	WorkerStateFetching,
	WorkerStateProcessing,
	WorkerStateSleeping,
	WorkerStateStopping,
	WorkerStateStopped,
}

// Terminal reports whether no further transitions are possible.
func (s WorkerState) Terminal() bool {
	return s == WorkerStateStopped
}

package metrics

import "github.com/getpup/abacus"

// Collector wraps metrics and provides helper methods with pre-filled labels.
// A nil *Collector is valid and records nothing.
type Collector struct {
	executable string
}

// NewCollector creates a new Collector for the given executable.
func NewCollector(executable string) *Collector {
	return &Collector{executable: executable}
}

// ObserveHeartbeatLatency records a heartbeat latency observation.
func (c *Collector) ObserveHeartbeatLatency(seconds float64) {
	if c == nil {
		return
	}
	HeartbeatLatency.WithLabelValues(c.executable).Observe(seconds)
}

// IncRegistryErrors increments the registry error counter for operation (live, die, sanity_check).
func (c *Collector) IncRegistryErrors(operation string) {
	if c == nil {
		return
	}
	RegistryErrorsTotal.WithLabelValues(c.executable, operation).Inc()
}

// SetActiveWorkers sets the active workers gauge.
func (c *Collector) SetActiveWorkers(count int) {
	if c == nil {
		return
	}
	ActiveWorkers.WithLabelValues(c.executable).Set(float64(count))
}

// AddItemsFetched adds n to the fetched items counter.
func (c *Collector) AddItemsFetched(n int) {
	if c == nil {
		return
	}
	ItemsFetchedTotal.WithLabelValues(c.executable).Add(float64(n))
}

// IncItemsProcessed increments the processed items counter.
func (c *Collector) IncItemsProcessed() {
	if c == nil {
		return
	}
	ItemsProcessedTotal.WithLabelValues(c.executable).Inc()
}

// IncItemErrors increments the item error counter.
func (c *Collector) IncItemErrors() {
	if c == nil {
		return
	}
	ItemErrorsTotal.WithLabelValues(c.executable).Inc()
}

// IncFetchErrors increments the fetch error counter.
func (c *Collector) IncFetchErrors() {
	if c == nil {
		return
	}
	FetchErrorsTotal.WithLabelValues(c.executable).Inc()
}

// IncIdleCycles increments the idle cycle counter.
func (c *Collector) IncIdleCycles() {
	if c == nil {
		return
	}
	IdleCyclesTotal.WithLabelValues(c.executable).Inc()
}

// ObserveItemProcessingDuration records an item processing duration observation.
func (c *Collector) ObserveItemProcessingDuration(seconds float64) {
	if c == nil {
		return
	}
	ItemProcessingDuration.WithLabelValues(c.executable).Observe(seconds)
}

// SetWorkerState sets the worker state gauge. Sets value to 1 for the given state, 0 for others.
func (c *Collector) SetWorkerState(worker string, state abacus.WorkerState) {
	if c == nil {
		return
	}
	for _, s := range abacus.WorkerStates {
		value := 0.0
		if s == state {
			value = 1
		}
		WorkerState.WithLabelValues(c.executable, worker, string(s)).Set(value)
	}
}

// ObserveMaintenanceRun records one periodic task run of the given duration.
func (c *Collector) ObserveMaintenanceRun(task string, seconds float64, failed bool) {
	if c == nil {
		return
	}
	MaintenanceRunsTotal.WithLabelValues(c.executable, task).Inc()
	MaintenanceDuration.WithLabelValues(c.executable, task).Observe(seconds)
	if failed {
		MaintenanceErrorsTotal.WithLabelValues(c.executable, task).Inc()
	}
}

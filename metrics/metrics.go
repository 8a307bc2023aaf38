package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HeartbeatLatency tracks registry round-trip latency of Live calls.
var HeartbeatLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "abacus_heartbeat_latency_seconds",
		Help:    "Heartbeat round-trip latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"executable"},
)

// RegistryErrorsTotal tracks failed registry calls.
var RegistryErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "abacus_registry_errors_total",
		Help: "Total failed heartbeat registry calls",
	},
	[]string{"executable", "operation"},
)

// ActiveWorkers tracks the number of live workers last reported by the registry.
var ActiveWorkers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "abacus_active_workers",
		Help: "Live workers reported by the heartbeat registry",
	},
	[]string{"executable"},
)

// ItemsFetchedTotal tracks work items handed to workers.
var ItemsFetchedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "abacus_items_fetched_total",
		Help: "Total work items fetched",
	},
	[]string{"executable"},
)

// ItemsProcessedTotal tracks work items applied successfully.
var ItemsProcessedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "abacus_items_processed_total",
		Help: "Total work items processed",
	},
	[]string{"executable"},
)

// ItemErrorsTotal tracks work items whose processing failed or panicked.
var ItemErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "abacus_item_errors_total",
		Help: "Total work item failures",
	},
	[]string{"executable"},
)

// FetchErrorsTotal tracks failed work fetches.
var FetchErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "abacus_fetch_errors_total",
		Help: "Total failed work fetches",
	},
	[]string{"executable"},
)

// IdleCyclesTotal tracks cycles that ended in an idle sleep.
var IdleCyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "abacus_idle_cycles_total",
		Help: "Total worker cycles without work",
	},
	[]string{"executable"},
)

// ItemProcessingDuration tracks per-item processing latency.
var ItemProcessingDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "abacus_item_processing_duration_seconds",
		Help:    "Work item processing latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"executable"},
)

// WorkerState tracks worker state (value 1 for current state, 0 otherwise).
var WorkerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "abacus_worker_state",
		Help: "Worker state (1 for current state, 0 otherwise)",
	},
	[]string{"executable", "worker", "state"},
)

// MaintenanceRunsTotal tracks periodic task runs.
var MaintenanceRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "abacus_maintenance_runs_total",
		Help: "Total periodic task runs",
	},
	[]string{"executable", "task"},
)

// MaintenanceErrorsTotal tracks periodic task runs that failed or panicked.
var MaintenanceErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "abacus_maintenance_errors_total",
		Help: "Total failed periodic task runs",
	},
	[]string{"executable", "task"},
)

// MaintenanceDuration tracks periodic task run duration.
var MaintenanceDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "abacus_maintenance_duration_seconds",
		Help:    "Periodic task run duration",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"executable", "task"},
)

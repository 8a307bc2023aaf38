// Package daemon supervises the workers of one abacus executable and the
// optional maintenance task, all sharing one shutdown context.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/heartbeat"
	"github.com/getpup/abacus/metrics"
	"github.com/getpup/abacus/periodic"
	"github.com/getpup/abacus/store"
	"github.com/getpup/abacus/worker"
)

// DefaultExecutable is the executable name workers heartbeat under.
const DefaultExecutable = "abacus-account"

// Config holds configuration for the Daemon.
type Config struct {
	// Registry is the shared heartbeat registry (required).
	Registry store.Registry

	// Counters holds the counters and their pending updates (required).
	Counters store.CounterStore

	// Executable groups the workers that share partitions (default: "abacus-account").
	Executable string

	// Hostname and PID identify this process in the registry
	// (default: the running process).
	Hostname string
	PID      int

	// SingleShot runs one worker for exactly one pass and stops.
	SingleShot bool

	// WorkerCount is the number of workers started by this process (default: 1).
	// Forced to 1 in single-shot mode.
	WorkerCount int

	// EnableMaintenance runs the history fill task alongside the workers.
	// Ignored in single-shot mode.
	EnableMaintenance bool

	// IdleSleep is the minimum cycle length of a worker with no work (default: 10s).
	IdleSleep time.Duration

	// SleepQuantum bounds every interruptible wait (default: 1s).
	SleepQuantum time.Duration

	// MaintenanceInterval is the time between history fills (default: 1h).
	MaintenanceInterval time.Duration

	// MaintenanceSchedule is an optional cron expression replacing
	// MaintenanceInterval.
	MaintenanceSchedule string

	// JoinInterval is how often Run re-checks the workers while waiting for
	// them to stop (default: 3.14s).
	JoinInterval time.Duration

	// Logger is for observability (optional).
	Logger abacus.Logger

	// MetricsEnabled enables Prometheus metrics collection (default: true).
	// Set to false explicitly to disable metrics.
	MetricsEnabled *bool
}

// Daemon runs WorkerCount workers and the maintenance task until shutdown.
type Daemon struct {
	config      Config
	collector   *metrics.Collector
	maintenance *periodic.Runner
}

var _ abacus.Daemon = (*Daemon)(nil)

// New creates a new Daemon with the given configuration.
// Applies default values for all duration/int fields if zero.
func New(cfg Config) (*Daemon, error) {
	if cfg.Registry == nil {
		return nil, errors.New("daemon requires a heartbeat registry")
	}
	if cfg.Counters == nil {
		return nil, errors.New("daemon requires a counter store")
	}
	if cfg.WorkerCount < 0 {
		return nil, fmt.Errorf("invalid worker count %d", cfg.WorkerCount)
	}

	if cfg.Executable == "" {
		cfg.Executable = DefaultExecutable
	}
	if cfg.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname: %w", err)
		}
		cfg.Hostname = hostname
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	if cfg.WorkerCount == 0 || cfg.SingleShot {
		// Workers of one process register without a barrier, so a single
		// pass split across several of them can miss partitions.
		cfg.WorkerCount = 1
	}
	if cfg.IdleSleep == 0 {
		cfg.IdleSleep = 10 * time.Second
	}
	if cfg.SleepQuantum == 0 {
		cfg.SleepQuantum = time.Second
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = time.Hour
	}
	if cfg.JoinInterval == 0 {
		cfg.JoinInterval = 3140 * time.Millisecond
	}

	// Create metrics collector if enabled (default: true)
	var collector *metrics.Collector
	metricsEnabled := true
	if cfg.MetricsEnabled != nil {
		metricsEnabled = *cfg.MetricsEnabled
	}
	if metricsEnabled {
		collector = metrics.NewCollector(cfg.Executable)
	}

	d := &Daemon{config: cfg, collector: collector}

	if cfg.EnableMaintenance && !cfg.SingleShot {
		runner, err := periodic.New(periodic.Config{
			Name:         "fill_history",
			Task:         cfg.Counters.FillHistory,
			Interval:     cfg.MaintenanceInterval,
			Schedule:     cfg.MaintenanceSchedule,
			SleepQuantum: cfg.SleepQuantum,
			Logger:       cfg.Logger,
			Metrics:      collector,
		})
		if err != nil {
			return nil, err
		}
		d.maintenance = runner
	}

	return d, nil
}

// Run checks the store schema, starts the workers and the maintenance task,
// and blocks until all of them have stopped after ctx is cancelled, or
// after one pass in single-shot mode.
//
// Returns an error only when the startup check fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.config.Counters.CheckSchema(ctx); err != nil {
		if !errors.Is(err, abacus.ErrSchemaIncompatible) {
			err = fmt.Errorf("%w: %w", abacus.ErrSchemaIncompatible, err)
		}
		if d.config.Logger != nil {
			d.config.Logger.Error(ctx, "schema check failed", "error", err)
		}
		return fmt.Errorf("startup check failed: %w", err)
	}

	if err := d.config.Registry.SanityCheck(ctx, d.config.Executable, d.config.Hostname); err != nil {
		d.collector.IncRegistryErrors("sanity_check")
		if d.config.Logger != nil {
			d.config.Logger.Error(ctx, "heartbeat sanity check failed", "error", err)
		}
	}

	loops := d.newLoops()

	if d.config.Logger != nil {
		d.config.Logger.Info(ctx, "starting workers",
			"executable", d.config.Executable,
			"workers", len(loops),
			"once", d.config.SingleShot,
			"maintenance", d.maintenance != nil)
	}
	d.collector.SetActiveWorkers(len(loops))

	var g errgroup.Group
	for _, loop := range loops {
		g.Go(func() error {
			if d.config.SingleShot {
				loop.RunOnce(ctx)
			} else {
				loop.RunContinuously(ctx)
			}
			return nil
		})
	}
	if d.maintenance != nil {
		g.Go(func() error {
			d.maintenance.Run(ctx)
			return nil
		})
	}

	d.join(ctx, &g, loops)
	d.collector.SetActiveWorkers(0)

	if d.config.Logger != nil {
		d.config.Logger.Info(ctx, "all workers stopped", "executable", d.config.Executable)
	}
	return nil
}

func (d *Daemon) newLoops() []*worker.Loop {
	loops := make([]*worker.Loop, d.config.WorkerCount)
	for i := range loops {
		id := heartbeat.NewIdentity(d.config.Executable, d.config.Hostname, d.config.PID,
			fmt.Sprintf("worker-%d", i))

		loops[i] = worker.New(worker.Config{
			Heartbeat: heartbeat.New(heartbeat.Config{
				Registry: d.config.Registry,
				Identity: id,
				Logger:   d.config.Logger,
				Metrics:  d.collector,
			}),
			Store:        d.config.Counters,
			IdleSleep:    d.config.IdleSleep,
			SleepQuantum: d.config.SleepQuantum,
			Logger:       d.config.Logger,
			Metrics:      d.collector,
		})
	}
	return loops
}

// join waits for the group, logging the remaining workers every JoinInterval
// once shutdown has begun.
func (d *Daemon) join(ctx context.Context, g *errgroup.Group, loops []*worker.Loop) {
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	ticker := time.NewTicker(d.config.JoinInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if ctx.Err() == nil || d.config.Logger == nil {
				continue
			}
			d.config.Logger.Info(ctx, "waiting for workers to stop",
				"running", running(loops))
		}
	}
}

func running(loops []*worker.Loop) int {
	n := 0
	for _, loop := range loops {
		if loop.State() != abacus.WorkerStateStopped {
			n++
		}
	}
	return n
}

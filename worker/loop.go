// Package worker runs the register, fetch and process cycle of one worker.
//
// A Loop moves through the states
//
//	Starting → Registering → Fetching → Processing | Sleeping → Registering …
//
// and from any state to Stopping → Stopped once its context is cancelled.
// The heartbeat is removed on every exit path.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/heartbeat"
	"github.com/getpup/abacus/metrics"
	"github.com/getpup/abacus/partition"
	"github.com/getpup/abacus/shutdown"
	"github.com/getpup/abacus/store"
)

const tracerName = "github.com/getpup/abacus/worker"

// Config holds configuration for a worker Loop.
type Config struct {
	// Heartbeat registers the worker and reports its partition (required).
	Heartbeat *heartbeat.Client

	// Store provides pending items and applies them (required).
	Store store.CounterStore

	// IdleSleep is the minimum cycle length when there is no work (default: 10s).
	IdleSleep time.Duration

	// SleepQuantum bounds how long the worker waits without checking for
	// shutdown (default: 1s).
	SleepQuantum time.Duration

	// DeregisterTimeout bounds the final heartbeat removal (default: 5s).
	DeregisterTimeout time.Duration

	// Logger is for observability (optional).
	Logger abacus.Logger

	// Metrics records item and state metrics (optional).
	Metrics *metrics.Collector

	// Tracer wraps each item in a span (default: the global tracer provider).
	Tracer trace.Tracer
}

// Loop is one worker. A Loop runs once; create a new one to run again.
type Loop struct {
	config Config
	name   string
	state  atomic.Value
}

type cycleResult struct {
	start     time.Time
	idle      bool
	stopped   bool
	processed int
	failed    int
}

// New creates a new Loop with the given configuration.
func New(cfg Config) *Loop {
	if cfg.IdleSleep == 0 {
		cfg.IdleSleep = 10 * time.Second
	}
	if cfg.SleepQuantum == 0 {
		cfg.SleepQuantum = time.Second
	}
	if cfg.DeregisterTimeout == 0 {
		cfg.DeregisterTimeout = 5 * time.Second
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	l := &Loop{
		config: cfg,
		name:   cfg.Heartbeat.Identity().ThreadName,
	}
	l.state.Store(abacus.WorkerStateStarting)
	return l
}

// State returns the current state. Safe to call from any goroutine.
func (l *Loop) State() abacus.WorkerState {
	return l.state.Load().(abacus.WorkerState)
}

func (l *Loop) setState(s abacus.WorkerState) {
	l.state.Store(s)
	l.config.Metrics.SetWorkerState(l.name, s)
}

// RunOnce registers, performs exactly one fetch and process pass, and
// deregisters. It does not sleep when the pass finds no work.
func (l *Loop) RunOnce(ctx context.Context) {
	l.run(ctx, true)
}

// RunContinuously cycles until ctx is cancelled, then deregisters.
func (l *Loop) RunContinuously(ctx context.Context) {
	l.run(ctx, false)
}

func (l *Loop) run(ctx context.Context, once bool) {
	defer l.stop(ctx)

	if l.config.Logger != nil {
		l.config.Logger.Info(ctx, "starting worker", "worker", l.name, "once", once)
	}

	// Registration ahead of the first cycle lets peers count this worker
	// before it fetches.
	l.setState(abacus.WorkerStateRegistering)
	if _, err := l.config.Heartbeat.Live(ctx); err != nil && ctx.Err() == nil {
		if l.config.Logger != nil {
			l.config.Logger.Error(ctx, "initial registration failed", "worker", l.name, "error", err)
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		res := l.cycle(ctx)
		if once || res.stopped {
			return
		}
		if !res.idle {
			continue
		}

		l.setState(abacus.WorkerStateSleeping)
		l.config.Metrics.IncIdleCycles()
		remaining := l.config.IdleSleep - time.Since(res.start)
		if l.config.Logger != nil {
			l.config.Logger.Debug(ctx, "no work, sleeping", "worker", l.name, "duration", remaining)
		}
		if !shutdown.Sleep(ctx, remaining, l.config.SleepQuantum) {
			return
		}
	}
}

// cycle refreshes the heartbeat, fetches the worker's partition and applies it.
// Registry and fetch failures end the cycle as idle.
func (l *Loop) cycle(ctx context.Context) cycleResult {
	res := cycleResult{start: time.Now()}

	l.setState(abacus.WorkerStateRegistering)
	rec, err := l.config.Heartbeat.Live(ctx)
	if ctx.Err() != nil {
		res.stopped = true
		return res
	}
	if err != nil {
		res.idle = true
		return res
	}

	desc, err := partition.Assign(rec)
	if err != nil {
		if l.config.Logger != nil {
			l.config.Logger.Error(ctx, "invalid partition from registry", "worker", l.name, "error", err)
		}
		res.idle = true
		return res
	}

	l.setState(abacus.WorkerStateFetching)
	items, err := l.config.Store.UpdatedCounters(ctx, desc.Total, desc.Index)
	if ctx.Err() != nil {
		res.stopped = true
		return res
	}
	if err != nil {
		l.config.Metrics.IncFetchErrors()
		if l.config.Logger != nil {
			l.config.Logger.Error(ctx, "failed to fetch updated counters",
				"worker", l.name, "partition", desc.String(), "error", fmt.Errorf("%w: %w", abacus.ErrStoreFailure, err))
		}
		res.idle = true
		return res
	}

	l.config.Metrics.AddItemsFetched(len(items))
	if l.config.Logger != nil {
		l.config.Logger.Debug(ctx, "fetched updated counters",
			"worker", l.name, "partition", desc.String(), "size", len(items), "duration", time.Since(res.start))
	}
	if len(items) == 0 {
		res.idle = true
		return res
	}

	l.setState(abacus.WorkerStateProcessing)
	for i, item := range items {
		if ctx.Err() != nil {
			if l.config.Logger != nil {
				l.config.Logger.Info(ctx, "shutdown requested, leaving items for the next run",
					"worker", l.name, "partition", desc.String(), "remaining", len(items)-i)
			}
			res.stopped = true
			return res
		}

		if err := l.process(ctx, item, desc); err != nil {
			res.failed++
			continue
		}
		res.processed++
	}

	if l.config.Logger != nil {
		l.config.Logger.Info(ctx, "cycle finished",
			"worker", l.name, "partition", desc.String(),
			"processed", res.processed, "failed", res.failed, "duration", time.Since(res.start))
	}
	return res
}

// process applies one item under a context detached from cancellation so a
// shutdown never interrupts an update halfway.
func (l *Loop) process(ctx context.Context, item abacus.WorkItem, desc partition.Descriptor) error {
	itemCtx, span := l.config.Tracer.Start(context.WithoutCancel(ctx), "abacus.counter.update",
		trace.WithAttributes(
			attribute.String("abacus.account", item.Account),
			attribute.String("abacus.rse_id", item.RSEID),
			attribute.Int("abacus.partition.index", desc.Index),
			attribute.Int("abacus.partition.total", desc.Total),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	err := l.apply(itemCtx, item)
	l.config.Metrics.ObserveItemProcessingDuration(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.config.Metrics.IncItemErrors()
		if l.config.Logger != nil {
			l.config.Logger.Error(ctx, "failed to update account counter",
				"worker", l.name, "partition", desc.String(),
				"account", item.Account, "rse_id", item.RSEID, "error", err)
		}
		return err
	}

	span.SetStatus(codes.Ok, "")
	l.config.Metrics.IncItemsProcessed()
	if l.config.Logger != nil {
		l.config.Logger.Debug(ctx, "updated account counter",
			"worker", l.name, "partition", desc.String(), "account", item.Account, "rse_id", item.RSEID)
	}
	return nil
}

func (l *Loop) apply(ctx context.Context, item abacus.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic applying %s: %v", abacus.ErrStoreFailure, item, r)
		}
	}()

	if err := l.config.Store.ApplyUpdate(ctx, item); err != nil {
		return fmt.Errorf("%w: %w", abacus.ErrStoreFailure, err)
	}
	return nil
}

func (l *Loop) stop(ctx context.Context) {
	l.setState(abacus.WorkerStateStopping)

	dieCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.DeregisterTimeout)
	defer cancel()
	_ = l.config.Heartbeat.Die(dieCtx)

	l.setState(abacus.WorkerStateStopped)
	if l.config.Logger != nil {
		l.config.Logger.Info(ctx, "worker stopped", "worker", l.name)
	}
}

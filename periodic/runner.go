// Package periodic runs a maintenance task on a fixed interval or a cron
// schedule until shutdown.
//
// The task runs once immediately. Each following run starts one schedule
// step after the previous run started, or right after it finished if it
// overran. Runs never overlap, and no run starts after shutdown.
package periodic

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/metrics"
	"github.com/getpup/abacus/shutdown"
)

const tracerName = "github.com/getpup/abacus/periodic"

// cronParser supports standard 5-field cron and descriptors like "@hourly" or "@every 30m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Every is a schedule whose next run is d after the previous start.
type Every time.Duration

// Next implements cron.Schedule.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Task is one maintenance action.
type Task func(ctx context.Context) error

// Config holds configuration for a Runner.
type Config struct {
	// Name identifies the task in logs and metrics (required).
	Name string

	// Task is the action to run (required).
	Task Task

	// Interval between run starts (default: 1h). Ignored when Schedule is set.
	Interval time.Duration

	// Schedule is an optional cron expression replacing Interval.
	Schedule string

	// SleepQuantum bounds how long the runner waits without checking for
	// shutdown (default: 1s).
	SleepQuantum time.Duration

	// Logger is for observability (optional).
	Logger abacus.Logger

	// Metrics records run count, failures and duration (optional).
	Metrics *metrics.Collector

	// Tracer wraps each run in a span (default: the global tracer provider).
	Tracer trace.Tracer
}

// Runner runs one Task periodically.
type Runner struct {
	config   Config
	schedule cronlib.Schedule
	runs     atomic.Int64
}

// New creates a Runner. Returns an error if Schedule does not parse.
func New(cfg Config) (*Runner, error) {
	if cfg.Task == nil {
		return nil, fmt.Errorf("periodic task %q has no action", cfg.Name)
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.SleepQuantum == 0 {
		cfg.SleepQuantum = time.Second
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	var schedule cronlib.Schedule = Every(cfg.Interval)
	if cfg.Schedule != "" {
		s, err := ParseSchedule(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q for task %q: %w", cfg.Schedule, cfg.Name, err)
		}
		schedule = s
	}

	return &Runner{config: cfg, schedule: schedule}, nil
}

// Runs returns the number of runs started so far.
func (r *Runner) Runs() int64 {
	return r.runs.Load()
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	if r.config.Logger != nil {
		r.config.Logger.Info(ctx, "starting periodic task", "task", r.config.Name)
	}

	for ctx.Err() == nil {
		start := time.Now()
		r.runOnce(ctx)

		wait := time.Until(r.schedule.Next(start))
		if !shutdown.Sleep(ctx, wait, r.config.SleepQuantum) {
			break
		}
	}

	if r.config.Logger != nil {
		r.config.Logger.Info(ctx, "periodic task stopped", "task", r.config.Name, "runs", r.Runs())
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	r.runs.Add(1)

	ctx, span := r.config.Tracer.Start(ctx, "abacus.maintenance."+r.config.Name,
		trace.WithAttributes(attribute.String("abacus.task", r.config.Name)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	err := r.call(ctx)
	elapsed := time.Since(start)
	r.config.Metrics.ObserveMaintenanceRun(r.config.Name, elapsed.Seconds(), err != nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.config.Logger != nil {
			r.config.Logger.Error(ctx, "periodic task failed", "task", r.config.Name, "error", err, "duration", elapsed)
		}
		return
	}

	span.SetStatus(codes.Ok, "")
	if r.config.Logger != nil {
		r.config.Logger.Info(ctx, "periodic task finished", "task", r.config.Name, "duration", elapsed)
	}
}

func (r *Runner) call(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic in task %s: %v", abacus.ErrStoreFailure, r.config.Name, p)
		}
	}()
	return r.config.Task(ctx)
}

// Command abacus-account runs the account counter update daemon.
//
// Every worker heartbeats into the shared registry, takes its share of the
// pending counter updates and folds them into the account counters.
//
// Usage:
//
//	abacus-account --config /etc/abacus/abacus.yaml
//	abacus-account --dsn postgres://localhost/rucio --threads 4 --fill-history-table
//	abacus-account --dsn postgres://localhost/rucio --run-once
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getpup/abacus/config"
	"github.com/getpup/abacus/daemon"
	"github.com/getpup/abacus/logging"
	"github.com/getpup/abacus/metrics"
	"github.com/getpup/abacus/shutdown"
)

// metricsStartupGrace is how long run waits for the metrics listener to fail
// before starting the workers.
var metricsStartupGrace = 200 * time.Millisecond

type flags struct {
	configPath       string
	dialect          string
	dsn              string
	registry         string
	runOnce          bool
	threads          int
	fillHistoryTable bool
	sleepTime        time.Duration
	metricsAddr      string
	logLevel         string
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "abacus-account",
		Short:         "Fold pending account counter updates into the account counters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := bindFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, f)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	}

	return cmd
}

func bindFlags(cmd *cobra.Command) *flags {
	f := &flags{}

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "Path to the YAML configuration file")
	fs.StringVar(&f.dialect, "dialect", "", "Database dialect: postgres, mysql or sqlite")
	fs.StringVar(&f.dsn, "dsn", "", "Database connection string")
	fs.StringVar(&f.registry, "registry", "", "Heartbeat registry backend: sql, redis, nats or memory")
	fs.BoolVar(&f.runOnce, "run-once", false, "One iteration only")
	fs.IntVar(&f.threads, "threads", 1, "Concurrency control: number of workers")
	fs.BoolVar(&f.fillHistoryTable, "fill-history-table", false, "Fill the account usage history table periodically")
	fs.DurationVar(&f.sleepTime, "sleep-time", 10*time.Second, "Minimum cycle length of a worker with no work")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Address of the Prometheus metrics endpoint, e.g. :9090")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	return f
}

// loadConfig reads the configuration file, if any, and applies the flags
// the user set on top of it.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("dialect") {
		cfg.Database.Dialect = f.dialect
	}
	if changed("dsn") {
		cfg.Database.DSN = f.dsn
	}
	if changed("registry") {
		cfg.Registry.Backend = f.registry
	}
	if changed("run-once") {
		cfg.Worker.RunOnce = f.runOnce
	}
	if changed("threads") {
		cfg.Worker.Threads = f.threads
	}
	if changed("fill-history-table") {
		cfg.Maintenance.FillHistoryTable = f.fillHistoryTable
	}
	if changed("sleep-time") {
		cfg.Worker.SleepTime = f.sleepTime
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) *logging.SlogLogger {
	opts := &slog.HandlerOptions{Level: logging.ParseLevel(cfg.Level)}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return logging.NewSlog(slog.New(handler))
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Logging)

	coordinator := shutdown.New(ctx)
	stopSignals := coordinator.NotifyOn(os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	backends, err := openBackends(coordinator.Context(), cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	if cfg.Metrics.Addr != "" && *cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics.Addr)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error(ctx, "failed to stop metrics server", "error", err)
			}
		}()

		// Listen failures surface asynchronously.
		select {
		case <-time.After(metricsStartupGrace):
		case <-coordinator.Context().Done():
		}
		if err := server.Err(); err != nil {
			return fmt.Errorf("failed to start metrics server on %s: %w", server.Addr(), err)
		}
		logger.Info(ctx, "serving metrics", "addr", server.Addr())
	}

	dc := cfg.DaemonConfig()
	dc.Registry = backends.Registry
	dc.Counters = backends.Counters
	dc.Logger = logger.With("executable", dc.Executable)

	d, err := daemon.New(dc)
	if err != nil {
		return err
	}

	return d.Run(coordinator.Context())
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "abacus-account failed: %v\n", err)
		os.Exit(1)
	}
}

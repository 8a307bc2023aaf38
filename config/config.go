// Package config loads the abacus-account daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getpup/abacus/daemon"
	"github.com/getpup/abacus/periodic"
	"github.com/getpup/abacus/store"
	"github.com/getpup/abacus/store/sqlstore"
)

// Registry backends.
const (
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Registry    RegistryConfig    `yaml:"registry"`
	Worker      WorkerConfig      `yaml:"worker"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DatabaseConfig configures the SQL counter store.
type DatabaseConfig struct {
	Dialect string       `yaml:"dialect"` // "postgres", "mysql", "sqlite"
	DSN     string       `yaml:"dsn"`
	Tables  TablesConfig `yaml:"tables"`
}

// TablesConfig overrides individual table names. Empty names keep the default.
type TablesConfig struct {
	Heartbeats string `yaml:"heartbeats"`
	Counters   string `yaml:"counters"`
	Updates    string `yaml:"updates"`
	History    string `yaml:"history"`
	Schema     string `yaml:"schema"`
}

// RegistryConfig configures the heartbeat registry.
type RegistryConfig struct {
	Backend    string        `yaml:"backend"`     // "sql", "redis", "nats", "memory"
	StaleAfter time.Duration `yaml:"stale_after"` // e.g., "10m"
	Redis      RedisConfig   `yaml:"redis"`
	NATS       NATSConfig    `yaml:"nats"`
}

// RedisConfig configures the Redis heartbeat registry.
type RedisConfig struct {
	Addr     string `yaml:"addr"` // "localhost:6379"
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NATSConfig configures the NATS KV heartbeat registry.
type NATSConfig struct {
	URL    string `yaml:"url"` // "nats://localhost:4222"
	Bucket string `yaml:"bucket"`
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	Executable   string        `yaml:"executable"`
	Threads      int           `yaml:"threads"`
	SleepTime    time.Duration `yaml:"sleep_time"`    // e.g., "10s"
	SleepQuantum time.Duration `yaml:"sleep_quantum"` // e.g., "1s"
	RunOnce      bool          `yaml:"run_once"`
}

// MaintenanceConfig configures the history fill task.
type MaintenanceConfig struct {
	FillHistoryTable bool          `yaml:"fill_history_table"`
	Interval         time.Duration `yaml:"interval"` // e.g., "1h"
	Schedule         string        `yaml:"schedule"` // cron expression, overrides interval
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Addr    string `yaml:"addr"` // ":9090", empty disables the server
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text", "json"
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load loads configuration from a YAML file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Dialect == "" {
		cfg.Database.Dialect = string(sqlstore.Postgres)
	}

	defaults := sqlstore.DefaultTableConfig()
	t := &cfg.Database.Tables
	if t.Heartbeats == "" {
		t.Heartbeats = defaults.HeartbeatsTable
	}
	if t.Counters == "" {
		t.Counters = defaults.CountersTable
	}
	if t.Updates == "" {
		t.Updates = defaults.UpdatesTable
	}
	if t.History == "" {
		t.History = defaults.HistoryTable
	}
	if t.Schema == "" {
		t.Schema = defaults.SchemaTable
	}

	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = BackendSQL
	}
	if cfg.Registry.StaleAfter == 0 {
		cfg.Registry.StaleAfter = store.DefaultStaleAfter
	}
	if cfg.Registry.Redis.Prefix == "" {
		cfg.Registry.Redis.Prefix = "abacus"
	}
	if cfg.Registry.NATS.Bucket == "" {
		cfg.Registry.NATS.Bucket = "abacus-heartbeats"
	}

	if cfg.Worker.Executable == "" {
		cfg.Worker.Executable = daemon.DefaultExecutable
	}
	if cfg.Worker.Threads == 0 {
		cfg.Worker.Threads = 1
	}
	if cfg.Worker.SleepTime == 0 {
		cfg.Worker.SleepTime = 10 * time.Second
	}
	if cfg.Worker.SleepQuantum == 0 {
		cfg.Worker.SleepQuantum = time.Second
	}

	if cfg.Maintenance.Interval == 0 {
		cfg.Maintenance.Interval = time.Hour
	}

	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if _, err := sqlstore.ParseDialect(c.Database.Dialect); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if err := c.TableConfig().Validate(); err != nil {
		return err
	}

	switch c.Registry.Backend {
	case BackendSQL, BackendMemory:
	case BackendRedis:
		if c.Registry.Redis.Addr == "" {
			return errors.New("registry.redis.addr is required for the redis backend")
		}
	case BackendNATS:
		if c.Registry.NATS.URL == "" {
			return errors.New("registry.nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}
	if c.Registry.StaleAfter < 0 {
		return errors.New("registry.stale_after must not be negative")
	}

	if c.Worker.Threads < 1 {
		return fmt.Errorf("worker.threads must be at least 1, got %d", c.Worker.Threads)
	}
	if c.Worker.SleepTime < 0 || c.Worker.SleepQuantum < 0 {
		return errors.New("worker sleep durations must not be negative")
	}

	if c.Maintenance.Interval < 0 {
		return errors.New("maintenance.interval must not be negative")
	}
	if c.Maintenance.Schedule != "" {
		if _, err := periodic.ParseSchedule(c.Maintenance.Schedule); err != nil {
			return fmt.Errorf("invalid maintenance.schedule: %w", err)
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}

	return nil
}

// TableConfig returns the SQL table names.
func (c *Config) TableConfig() sqlstore.TableConfig {
	t := c.Database.Tables
	return sqlstore.TableConfig{
		HeartbeatsTable: t.Heartbeats,
		CountersTable:   t.Counters,
		UpdatesTable:    t.Updates,
		HistoryTable:    t.History,
		SchemaTable:     t.Schema,
	}
}

// DaemonConfig maps the worker and maintenance sections onto a daemon.Config.
// The caller sets Registry, Counters and Logger.
func (c *Config) DaemonConfig() daemon.Config {
	return daemon.Config{
		Executable:          c.Worker.Executable,
		SingleShot:          c.Worker.RunOnce,
		WorkerCount:         c.Worker.Threads,
		EnableMaintenance:   c.Maintenance.FillHistoryTable,
		IdleSleep:           c.Worker.SleepTime,
		SleepQuantum:        c.Worker.SleepQuantum,
		MaintenanceInterval: c.Maintenance.Interval,
		MaintenanceSchedule: c.Maintenance.Schedule,
		MetricsEnabled:      c.Metrics.Enabled,
	}
}

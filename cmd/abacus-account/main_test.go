package main

import (
	"context"
	"database/sql"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/config"
	"github.com/getpup/abacus/store/memory"
	"github.com/getpup/abacus/store/sqlstore"
)

func parseFlags(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	cmd := &cobra.Command{Use: "abacus-account-test"}
	f := bindFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))

	return loadConfig(cmd, f)
}

func migratedSQLite(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "abacus.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(sqlstore.MigrationUp(sqlstore.SQLite, sqlstore.DefaultTableConfig()))
	require.NoError(t, err)
	return path
}

func TestLoadConfig_FlagsOnly(t *testing.T) {
	cfg, err := parseFlags(t,
		"--dsn", "postgres://localhost/rucio",
		"--threads", "4",
		"--run-once",
		"--fill-history-table",
		"--sleep-time", "30s",
		"--log-level", "debug",
	)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/rucio", cfg.Database.DSN)
	assert.Equal(t, 4, cfg.Worker.Threads)
	assert.True(t, cfg.Worker.RunOnce)
	assert.True(t, cfg.Maintenance.FillHistoryTable)
	assert.Equal(t, 30*time.Second, cfg.Worker.SleepTime)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abacus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dialect: mysql
  dsn: "abacus@tcp(db:3306)/rucio"
worker:
  threads: 8
  sleep_time: 1m
`), 0o600))

	cfg, err := parseFlags(t, "--config", path, "--threads", "2")
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Dialect)
	assert.Equal(t, 2, cfg.Worker.Threads, "flag wins over file")
	assert.Equal(t, time.Minute, cfg.Worker.SleepTime, "unset flag keeps file value")
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := parseFlags(t)
	assert.Error(t, err, "dsn is required")

	_, err = parseFlags(t, "--dsn", "x", "--threads", "0")
	assert.Error(t, err)

	_, err = parseFlags(t, "--dsn", "x", "--registry", "zookeeper")
	assert.Error(t, err)
}

func TestOpenBackends_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Dialect = "sqlite"
	cfg.Database.DSN = migratedSQLite(t)

	b, err := openBackends(context.Background(), cfg)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &sqlstore.Registry{}, b.Registry)
	assert.IsType(t, &sqlstore.CounterStore{}, b.Counters)
	assert.NoError(t, b.Counters.CheckSchema(context.Background()))

	cfg.Registry.Backend = config.BackendMemory
	mb, err := openBackends(context.Background(), cfg)
	require.NoError(t, err)
	defer mb.Close()
	assert.IsType(t, &memory.Registry{}, mb.Registry)
}

func TestOpenBackends_RedisUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Dialect = "sqlite"
	cfg.Database.DSN = migratedSQLite(t)
	cfg.Registry.Backend = config.BackendRedis
	cfg.Registry.Redis.Addr = "127.0.0.1:1"

	_, err := openBackends(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRun_SingleShotAgainstSQLite(t *testing.T) {
	dsn := migratedSQLite(t)

	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()
	counters, err := sqlstore.NewCounterStore(sqlstore.Config{DB: db, Dialect: sqlstore.SQLite})
	require.NoError(t, err)

	item := abacus.WorkItem{Account: "root", RSEID: "rse-1"}
	require.NoError(t, counters.RecordUpdate(context.Background(), item, 5, 500))

	cfg := config.Default()
	cfg.Database.Dialect = "sqlite"
	cfg.Database.DSN = dsn
	cfg.Worker.RunOnce = true
	cfg.Logging.Level = "error"

	require.NoError(t, run(context.Background(), cfg))

	counter, ok, err := counters.Counter(context.Background(), item)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), counter.Files)
	assert.Equal(t, int64(500), counter.Bytes)
}

func TestRun_SchemaMismatchFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")

	cfg := config.Default()
	cfg.Database.Dialect = "sqlite"
	cfg.Database.DSN = path
	cfg.Worker.RunOnce = true
	cfg.Logging.Level = "error"

	err := run(context.Background(), cfg)
	assert.ErrorIs(t, err, abacus.ErrSchemaIncompatible)
}

func TestRun_MetricsListenFailureStopsStartup(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	dsn := migratedSQLite(t)
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()
	counters, err := sqlstore.NewCounterStore(sqlstore.Config{DB: db, Dialect: sqlstore.SQLite})
	require.NoError(t, err)

	item := abacus.WorkItem{Account: "root", RSEID: "rse-1"}
	require.NoError(t, counters.RecordUpdate(context.Background(), item, 1, 1))

	cfg := config.Default()
	cfg.Database.Dialect = "sqlite"
	cfg.Database.DSN = dsn
	cfg.Worker.RunOnce = true
	cfg.Metrics.Addr = occupied.Addr().String()
	cfg.Logging.Level = "error"

	err = run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start metrics server")

	_, ok, err := counters.Counter(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, ok, "no worker ran")
}

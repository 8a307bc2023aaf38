package migrations

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/store/sqlstore"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputFolder = filepath.Join(t.TempDir(), "nested", "migrations")
	cfg.OutputFilename = "test_migration.sql"
	return cfg
}

func readGenerated(t *testing.T, cfg Config) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(cfg.OutputFolder, cfg.OutputFilename))
	require.NoError(t, err)
	return string(content)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "migrations", cfg.OutputFolder)
	assert.True(t, strings.HasSuffix(cfg.OutputFilename, "_init_abacus.sql"))
	assert.Equal(t, "abacus", cfg.SchemaName)
	assert.Equal(t, sqlstore.DefaultTableConfig(), cfg.Tables)
	assert.False(t, cfg.Down)
}

func TestGeneratePostgres(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, GeneratePostgres(&cfg))

	sql := readGenerated(t, cfg)
	for _, want := range []string{
		"-- Database: PostgreSQL",
		"CREATE SCHEMA IF NOT EXISTS abacus;",
		"CREATE TABLE IF NOT EXISTS abacus.heartbeats",
		"CREATE TABLE IF NOT EXISTS abacus.account_counters",
		"CREATE TABLE IF NOT EXISTS abacus.updated_account_counters",
		"CREATE TABLE IF NOT EXISTS abacus.account_usage_history",
		"CREATE INDEX IF NOT EXISTS idx_heartbeats_last_seen",
		"BIGSERIAL PRIMARY KEY",
		"ON CONFLICT (version) DO NOTHING",
	} {
		assert.Contains(t, sql, want)
	}
}

func TestGenerateMySQL(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, GenerateMySQL(&cfg))

	sql := readGenerated(t, cfg)
	for _, want := range []string{
		"-- Database: MySQL/MariaDB",
		"CREATE DATABASE IF NOT EXISTS abacus",
		"CREATE TABLE IF NOT EXISTS abacus.heartbeats",
		"INDEX idx_updated_account_counters_pair",
		"AUTO_INCREMENT",
		"ENGINE=InnoDB",
		"INSERT IGNORE INTO abacus.abacus_schema",
	} {
		assert.Contains(t, sql, want)
	}
	assert.NotContains(t, sql, "CREATE SCHEMA")
}

func TestGenerateSQLite_UsesTablePrefixes(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, GenerateSQLite(&cfg))

	sql := readGenerated(t, cfg)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS abacus_heartbeats")
	assert.Contains(t, sql, "INSERT OR IGNORE INTO abacus_abacus_schema")
	assert.NotContains(t, sql, "abacus.heartbeats")
	assert.NotContains(t, sql, "CREATE SCHEMA")
}

func TestGenerate_UnqualifiedWithoutSchemaName(t *testing.T) {
	cfg := testConfig(t)
	cfg.SchemaName = ""

	sql, err := GenerateSQL(sqlstore.Postgres, &cfg)
	require.NoError(t, err)

	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS heartbeats")
	assert.NotContains(t, sql, "CREATE SCHEMA")
}

func TestGenerate_Down(t *testing.T) {
	cfg := testConfig(t)
	cfg.Down = true

	sql, err := GenerateSQL(sqlstore.Postgres, &cfg)
	require.NoError(t, err)

	assert.Contains(t, sql, "(down)")
	assert.Contains(t, sql, "DROP TABLE IF EXISTS abacus.heartbeats;")
	assert.NotContains(t, sql, "CREATE TABLE")
}

func TestGenerate_RejectsUnsafeNames(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"schema injection", func(c *Config) { c.SchemaName = "abacus; DROP TABLE x" }},
		{"qualified schema", func(c *Config) { c.SchemaName = "a.b" }},
		{"qualified table", func(c *Config) { c.Tables.CountersTable = "other.counters" }},
		{"empty table", func(c *Config) { c.Tables.HistoryTable = "" }},
		{"table injection", func(c *Config) { c.Tables.UpdatesTable = "updates--" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)

			err := GeneratePostgres(&cfg)
			require.Error(t, err)
			_, statErr := os.Stat(filepath.Join(cfg.OutputFolder, cfg.OutputFilename))
			assert.True(t, os.IsNotExist(statErr), "no file written for an invalid config")
		})
	}
}

func TestQualifiedTables(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "abacus.heartbeats", QualifiedTables(sqlstore.Postgres, cfg).HeartbeatsTable)
	assert.Equal(t, "abacus.heartbeats", QualifiedTables(sqlstore.MySQL, cfg).HeartbeatsTable)
	assert.Equal(t, "abacus_heartbeats", QualifiedTables(sqlstore.SQLite, cfg).HeartbeatsTable)

	cfg.SchemaName = ""
	assert.Equal(t, "heartbeats", QualifiedTables(sqlstore.Postgres, cfg).HeartbeatsTable)
}

func TestGeneratedSQLiteMigration_PassesSchemaCheck(t *testing.T) {
	cfg := testConfig(t)
	ddl, err := GenerateSQL(sqlstore.SQLite, &cfg)
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(ddl)
	require.NoError(t, err)

	counters, err := sqlstore.NewCounterStore(sqlstore.Config{
		DB:      db,
		Dialect: sqlstore.SQLite,
		Tables:  QualifiedTables(sqlstore.SQLite, cfg),
	})
	require.NoError(t, err)
	require.NoError(t, counters.CheckSchema(context.Background()))

	item := abacus.WorkItem{Account: "root", RSEID: "rse-1"}
	require.NoError(t, counters.RecordUpdate(context.Background(), item, 3, 300))
	require.NoError(t, counters.ApplyUpdate(context.Background(), item))

	counter, ok, err := counters.Counter(context.Background(), item)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), counter.Files)

	down := cfg
	down.Down = true
	ddl, err = GenerateSQL(sqlstore.SQLite, &down)
	require.NoError(t, err)
	_, err = db.Exec(ddl)
	require.NoError(t, err)
	assert.Error(t, counters.CheckSchema(context.Background()))
}

//go:build integration

package migrations_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/getpup/abacus/pkg/migrations"
	"github.com/getpup/abacus/store/sqlstore"
)

func applyAndCheck(t *testing.T, d sqlstore.Dialect, dsn string, cfg migrations.Config) {
	t.Helper()

	db, err := sql.Open(d.DriverName(), dsn)
	require.NoError(t, err)
	defer db.Close()

	up, err := migrations.GenerateSQL(d, &cfg)
	require.NoError(t, err)
	_, err = db.Exec(up)
	require.NoError(t, err, "migration must apply")

	// Applying twice is safe
	_, err = db.Exec(up)
	require.NoError(t, err)

	counters, err := sqlstore.NewCounterStore(sqlstore.Config{
		DB:      db,
		Dialect: d,
		Tables:  migrations.QualifiedTables(d, cfg),
	})
	require.NoError(t, err)
	require.NoError(t, counters.CheckSchema(context.Background()))

	down := cfg
	down.Down = true
	rollback, err := migrations.GenerateSQL(d, &down)
	require.NoError(t, err)
	_, err = db.Exec(rollback)
	require.NoError(t, err)
}

func TestIntegrationPostgres(t *testing.T) {
	// Skip if POSTGRES_URL not set
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping PostgreSQL integration test")
	}

	cfg := migrations.DefaultConfig()
	cfg.SchemaName = "abacus_migration_test"
	applyAndCheck(t, sqlstore.Postgres, dbURL, cfg)
}

func TestIntegrationMySQL(t *testing.T) {
	// Skip if MYSQL_URL not set
	dbURL := os.Getenv("MYSQL_URL")
	if dbURL == "" {
		t.Skip("MYSQL_URL not set, skipping MySQL integration test")
	}

	cfg := migrations.DefaultConfig()
	cfg.SchemaName = "abacus_migration_test"
	applyAndCheck(t, sqlstore.MySQL, dbURL+"?multiStatements=true", cfg)
}

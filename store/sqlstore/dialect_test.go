package sqlstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialect(t *testing.T) {
	tests := []struct {
		name    string
		want    Dialect
		wantErr bool
	}{
		{"postgres", Postgres, false},
		{"PostgreSQL", Postgres, false},
		{"mysql", MySQL, false},
		{"mariadb", MySQL, false},
		{"sqlite3", SQLite, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDialect(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDriverName(t *testing.T) {
	assert.Equal(t, "postgres", Postgres.DriverName())
	assert.Equal(t, "mysql", MySQL.DriverName())
	assert.Equal(t, "sqlite3", SQLite.DriverName())
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c = ?"

	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", Postgres.Rebind(q))
	assert.Equal(t, q, MySQL.Rebind(q))
	assert.Equal(t, q, SQLite.Rebind(q))
}

func TestUpsert(t *testing.T) {
	columns := []string{"account", "rse_id", "files"}
	keys := []string{"account", "rse_id"}
	updates := map[string]string{"files": qualify("abacus.account_counters", "files") + " + EXCLUDED(files)"}

	t.Run("postgres", func(t *testing.T) {
		q := Postgres.upsert("abacus.account_counters", columns, keys, updates)
		assert.Equal(t,
			"INSERT INTO abacus.account_counters (account, rse_id, files) VALUES (?, ?, ?) "+
				"ON CONFLICT (account, rse_id) DO UPDATE SET files = account_counters.files + excluded.files",
			q)
	})

	t.Run("mysql", func(t *testing.T) {
		q := MySQL.upsert("account_counters", columns, keys, updates)
		assert.True(t, strings.HasSuffix(q, "ON DUPLICATE KEY UPDATE files = account_counters.files + VALUES(files)"), q)
	})
}

func TestMigrationUp(t *testing.T) {
	config := DefaultTableConfig()

	t.Run("postgres", func(t *testing.T) {
		sql := MigrationUp(Postgres, config)
		for _, required := range []string{
			"CREATE TABLE IF NOT EXISTS heartbeats",
			"PRIMARY KEY (executable, hostname, pid, thread_id)",
			"CREATE TABLE IF NOT EXISTS account_counters",
			"id BIGSERIAL PRIMARY KEY",
			"CREATE INDEX IF NOT EXISTS idx_updated_account_counters_pair",
			"key_hash BIGINT NOT NULL",
			"CREATE TABLE IF NOT EXISTS account_usage_history",
			"INSERT INTO abacus_schema (version) VALUES (1) ON CONFLICT (version) DO NOTHING;",
		} {
			assert.Contains(t, sql, required)
		}
	})

	t.Run("mysql", func(t *testing.T) {
		sql := MigrationUp(MySQL, config)
		assert.Contains(t, sql, "id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY")
		assert.Contains(t, sql, "INDEX idx_heartbeats_last_seen (last_seen)")
		assert.Contains(t, sql, "ENGINE=InnoDB")
		assert.Contains(t, sql, "INSERT IGNORE INTO abacus_schema")
		assert.NotContains(t, sql, "CREATE INDEX")
	})

	t.Run("sqlite", func(t *testing.T) {
		sql := MigrationUp(SQLite, config)
		assert.Contains(t, sql, "id INTEGER PRIMARY KEY AUTOINCREMENT")
		assert.Contains(t, sql, "INSERT OR IGNORE INTO abacus_schema")
	})

	t.Run("qualified names index on base name", func(t *testing.T) {
		c := config
		c.HeartbeatsTable = "abacus.heartbeats"
		sql := MigrationUp(Postgres, c)
		assert.Contains(t, sql, "CREATE INDEX IF NOT EXISTS idx_heartbeats_last_seen\n    ON abacus.heartbeats (last_seen);")
	})
}

func TestMigrationDown(t *testing.T) {
	sql := MigrationDown(DefaultTableConfig())

	assert.Contains(t, sql, "DROP TABLE IF EXISTS heartbeats;")
	assert.Contains(t, sql, "DROP TABLE IF EXISTS updated_account_counters;")
	assert.Less(t, strings.Index(sql, "abacus_schema"), strings.Index(sql, "heartbeats"))
}

func TestTableConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultTableConfig().Validate())

	c := DefaultTableConfig()
	c.HistoryTable = "abacus.history"
	assert.NoError(t, c.Validate())

	c.HistoryTable = "1history"
	assert.Error(t, c.Validate())

	c.HistoryTable = "a.b.c"
	assert.Error(t, c.Validate())

	c.HistoryTable = ""
	assert.Error(t, c.Validate())
}

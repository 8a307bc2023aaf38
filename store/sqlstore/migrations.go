package sqlstore

import (
	"fmt"
	"regexp"
	"strings"
)

// SchemaVersion is the schema version this package reads and writes.
// CheckSchema rejects databases migrated to any other version.
const SchemaVersion = 1

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)?$`)

// TableConfig configures the table names used by the SQL store.
// Names may carry one schema or database qualifier (e.g. "abacus.heartbeats").
type TableConfig struct {
	// HeartbeatsTable holds one row per live worker.
	HeartbeatsTable string

	// CountersTable holds the aggregated counter per account and RSE.
	CountersTable string

	// UpdatesTable holds the pending counter deltas.
	UpdatesTable string

	// HistoryTable holds counter snapshots written by FillHistory.
	HistoryTable string

	// SchemaTable holds the schema version row.
	SchemaTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		HeartbeatsTable: "heartbeats",
		CountersTable:   "account_counters",
		UpdatesTable:    "updated_account_counters",
		HistoryTable:    "account_usage_history",
		SchemaTable:     "abacus_schema",
	}
}

// ValidateIdentifier ensures name is safe to interpolate into SQL.
func ValidateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// Validate checks every table name with ValidateIdentifier.
func (c TableConfig) Validate() error {
	fields := []struct{ value, name string }{
		{c.HeartbeatsTable, "HeartbeatsTable"},
		{c.CountersTable, "CountersTable"},
		{c.UpdatesTable, "UpdatesTable"},
		{c.HistoryTable, "HistoryTable"},
		{c.SchemaTable, "SchemaTable"},
	}
	for _, f := range fields {
		if err := ValidateIdentifier(f.value, f.name); err != nil {
			return err
		}
	}
	return nil
}

type ddlTypes struct {
	key        string
	autoID     string
	tableOpts  string
	insertVers string
}

func (d Dialect) ddlTypes() ddlTypes {
	switch d {
	case MySQL:
		return ddlTypes{
			key:        "VARCHAR(255)",
			autoID:     "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
			tableOpts:  " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",
			insertVers: "INSERT IGNORE INTO %s (version) VALUES (%d);",
		}
	case SQLite:
		return ddlTypes{
			key:        "TEXT",
			autoID:     "INTEGER PRIMARY KEY AUTOINCREMENT",
			insertVers: "INSERT OR IGNORE INTO %s (version) VALUES (%d);",
		}
	default:
		return ddlTypes{
			key:        "VARCHAR(255)",
			autoID:     "BIGSERIAL PRIMARY KEY",
			insertVers: "INSERT INTO %s (version) VALUES (%d) ON CONFLICT (version) DO NOTHING;",
		}
	}
}

// index renders a secondary index. MySQL has no CREATE INDEX IF NOT EXISTS,
// so its indexes are declared inline and index returns the inline clause.
func (d Dialect) index(table, suffix, columns string) (inline, stmt string) {
	name := fmt.Sprintf("idx_%s_%s", baseName(table), suffix)
	if d == MySQL {
		return fmt.Sprintf(",\n    INDEX %s (%s)", name, columns), ""
	}
	return "", fmt.Sprintf("\nCREATE INDEX IF NOT EXISTS %s\n    ON %s (%s);\n", name, table, columns)
}

// MigrationUp returns the SQL creating the tables of config for dialect.
// Timestamps are stored as unix milliseconds so every dialect compares them the same way.
func MigrationUp(d Dialect, config TableConfig) string {
	t := d.ddlTypes()
	var b strings.Builder

	hbInline, hbIndex := d.index(config.HeartbeatsTable, "last_seen", "last_seen")
	fmt.Fprintf(&b, `-- Heartbeats of live workers, one row per worker thread
CREATE TABLE IF NOT EXISTS %s (
    executable %s NOT NULL,
    hostname %s NOT NULL,
    pid INTEGER NOT NULL,
    thread_id %s NOT NULL,
    thread_name %s NOT NULL DEFAULT '',
    last_seen BIGINT NOT NULL,
    PRIMARY KEY (executable, hostname, pid, thread_id)%s
)%s;
%s`, config.HeartbeatsTable, t.key, t.key, t.key, t.key, hbInline, t.tableOpts, hbIndex)

	fmt.Fprintf(&b, `
-- Aggregated usage per account and RSE
CREATE TABLE IF NOT EXISTS %s (
    account %s NOT NULL,
    rse_id %s NOT NULL,
    files BIGINT NOT NULL DEFAULT 0,
    bytes BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (account, rse_id)
)%s;
`, config.CountersTable, t.key, t.key, t.tableOpts)

	upInline, upIndex := d.index(config.UpdatesTable, "pair", "account, rse_id, id")
	fmt.Fprintf(&b, `
-- Pending counter deltas, folded into the counters by the workers
CREATE TABLE IF NOT EXISTS %s (
    id %s,
    account %s NOT NULL,
    rse_id %s NOT NULL,
    files BIGINT NOT NULL,
    bytes BIGINT NOT NULL,
    key_hash BIGINT NOT NULL,
    created_at BIGINT NOT NULL%s
)%s;
%s`, config.UpdatesTable, t.autoID, t.key, t.key, upInline, t.tableOpts, upIndex)

	hiInline, hiIndex := d.index(config.HistoryTable, "pair", "account, rse_id, recorded_at")
	fmt.Fprintf(&b, `
-- Periodic snapshots of the counters
CREATE TABLE IF NOT EXISTS %s (
    account %s NOT NULL,
    rse_id %s NOT NULL,
    files BIGINT NOT NULL,
    bytes BIGINT NOT NULL,
    recorded_at BIGINT NOT NULL%s
)%s;
%s`, config.HistoryTable, t.key, t.key, hiInline, t.tableOpts, hiIndex)

	fmt.Fprintf(&b, `
-- Schema version checked at daemon startup
CREATE TABLE IF NOT EXISTS %s (
    version INTEGER PRIMARY KEY
)%s;

`, config.SchemaTable, t.tableOpts)
	fmt.Fprintf(&b, t.insertVers+"\n", config.SchemaTable, SchemaVersion)

	return b.String()
}

// MigrationDown returns the SQL dropping the tables of config.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;
DROP TABLE IF EXISTS %s;
DROP TABLE IF EXISTS %s;
DROP TABLE IF EXISTS %s;
DROP TABLE IF EXISTS %s;
`, config.SchemaTable, config.HistoryTable, config.UpdatesTable, config.CountersTable, config.HeartbeatsTable)
}

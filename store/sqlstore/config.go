// Package sqlstore implements store.Registry and store.CounterStore on top of
// database/sql for PostgreSQL, MySQL/MariaDB and SQLite.
//
// The caller opens the *sql.DB with the driver matching the Dialect and
// applies MigrationUp before use.
package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/getpup/abacus/store"
)

// Config configures a Registry or CounterStore.
type Config struct {
	// DB is the database connection
	DB *sql.DB

	// Dialect selects placeholder and upsert syntax
	// Default: Postgres
	Dialect Dialect

	// Tables overrides the table names
	// Default: DefaultTableConfig()
	Tables TableConfig

	// StaleAfter is how long a heartbeat stays live without a refresh
	// Default: store.DefaultStaleAfter
	StaleAfter time.Duration

	// Now replaces time.Now, for tests
	Now func() time.Time
}

func (c *Config) applyDefaults() error {
	if c.DB == nil {
		return fmt.Errorf("database connection is required")
	}
	if c.Dialect == "" {
		c.Dialect = Postgres
	}
	if c.Tables == (TableConfig{}) {
		c.Tables = DefaultTableConfig()
	}
	if err := c.Tables.Validate(); err != nil {
		return fmt.Errorf("invalid table configuration: %w", err)
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = store.DefaultStaleAfter
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

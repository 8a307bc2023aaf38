package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getpup/abacus/store/sqlstore"
)

// Config configures migration generation for the abacus tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SchemaName is the database schema name (PostgreSQL) or database name (MySQL).
	// For SQLite, table name prefixes are used instead (e.g., abacus_heartbeats).
	// Empty leaves table names unqualified.
	SchemaName string

	// Tables holds the unqualified table names
	Tables sqlstore.TableConfig

	// Down writes the rollback migration instead of the forward one
	Down bool
}

// DefaultConfig returns the default configuration for abacus migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_abacus.sql", timestamp),
		SchemaName:     "abacus",
		Tables:         sqlstore.DefaultTableConfig(),
	}
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if config.SchemaName != "" {
		if strings.Contains(config.SchemaName, ".") {
			return fmt.Errorf("SchemaName must not be qualified (got: %s)", config.SchemaName)
		}
		if err := sqlstore.ValidateIdentifier(config.SchemaName, "SchemaName"); err != nil {
			return err
		}
	}
	for _, name := range []string{
		config.Tables.HeartbeatsTable, config.Tables.CountersTable, config.Tables.UpdatesTable,
		config.Tables.HistoryTable, config.Tables.SchemaTable,
	} {
		if strings.Contains(name, ".") {
			return fmt.Errorf("table names must not be qualified, use SchemaName (got: %s)", name)
		}
	}
	return config.Tables.Validate()
}

// QualifiedTables returns the table names as the store must be configured to
// see the tables created by a migration generated from config.
func QualifiedTables(d sqlstore.Dialect, config Config) sqlstore.TableConfig {
	if config.SchemaName == "" {
		return config.Tables
	}

	qualify := func(name string) string {
		if d == sqlstore.SQLite {
			return config.SchemaName + "_" + name
		}
		return config.SchemaName + "." + name
	}

	return sqlstore.TableConfig{
		HeartbeatsTable: qualify(config.Tables.HeartbeatsTable),
		CountersTable:   qualify(config.Tables.CountersTable),
		UpdatesTable:    qualify(config.Tables.UpdatesTable),
		HistoryTable:    qualify(config.Tables.HistoryTable),
		SchemaTable:     qualify(config.Tables.SchemaTable),
	}
}

// GenerateSQL returns the migration for dialect without writing it.
func GenerateSQL(d sqlstore.Dialect, config *Config) (string, error) {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	tables := QualifiedTables(d, *config)
	var b strings.Builder

	direction := "up"
	if config.Down {
		direction = "down"
	}
	fmt.Fprintf(&b, "-- Abacus Account Counters Migration (%s)\n-- Generated: %s\n-- Database: %s\n-- Schema version: %d\n\n",
		direction, time.Now().Format(time.RFC3339), databaseName(d), sqlstore.SchemaVersion)

	if config.Down {
		b.WriteString(sqlstore.MigrationDown(tables))
		return b.String(), nil
	}

	if config.SchemaName != "" {
		switch d {
		case sqlstore.Postgres:
			fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n\n", config.SchemaName)
		case sqlstore.MySQL:
			fmt.Fprintf(&b, "CREATE DATABASE IF NOT EXISTS %s\n    DEFAULT CHARACTER SET utf8mb4\n    DEFAULT COLLATE utf8mb4_unicode_ci;\n\n", config.SchemaName)
		}
	}

	b.WriteString(sqlstore.MigrationUp(d, tables))
	return b.String(), nil
}

// Generate writes the migration for dialect to OutputFolder/OutputFilename.
func Generate(d sqlstore.Dialect, config *Config) error {
	sql, err := GenerateSQL(d, config)
	if err != nil {
		return err
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return Generate(sqlstore.Postgres, config)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return Generate(sqlstore.MySQL, config)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return Generate(sqlstore.SQLite, config)
}

func databaseName(d sqlstore.Dialect) string {
	switch d {
	case sqlstore.MySQL:
		return "MySQL/MariaDB"
	case sqlstore.SQLite:
		return "SQLite"
	default:
		return "PostgreSQL"
	}
}

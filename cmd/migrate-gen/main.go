// Command migrate-gen generates the SQL migration file for the abacus tables.
//
// Usage:
//
//	go run github.com/getpup/abacus/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/abacus/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/abacus/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/abacus/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/abacus/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize table names or write the rollback:
//
//	go run github.com/getpup/abacus/cmd/migrate-gen -schema rucio -history-table usage_history
//	go run github.com/getpup/abacus/cmd/migrate-gen -down -filename rollback.sql
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/abacus/pkg/migrations"
	"github.com/getpup/abacus/store/sqlstore"
)

func main() {
	defaults := migrations.DefaultConfig()

	var (
		adapter         = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder    = flag.String("output", defaults.OutputFolder, "Output folder for migration file")
		outputFilename  = flag.String("filename", "", "Output filename (default: timestamp-based)")
		schemaName      = flag.String("schema", defaults.SchemaName, "Schema name (PostgreSQL), database name (MySQL) or table prefix (SQLite); empty for none")
		heartbeatsTable = flag.String("heartbeats-table", defaults.Tables.HeartbeatsTable, "Name of heartbeats table")
		countersTable   = flag.String("counters-table", defaults.Tables.CountersTable, "Name of account counters table")
		updatesTable    = flag.String("updates-table", defaults.Tables.UpdatesTable, "Name of pending counter updates table")
		historyTable    = flag.String("history-table", defaults.Tables.HistoryTable, "Name of account usage history table")
		schemaTable     = flag.String("schema-table", defaults.Tables.SchemaTable, "Name of schema version table")
		down            = flag.Bool("down", false, "Generate the rollback migration")
	)

	flag.Parse()

	dialect, err := sqlstore.ParseDialect(*adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	config := defaults
	config.OutputFolder = *outputFolder
	config.SchemaName = *schemaName
	config.Down = *down
	config.Tables = sqlstore.TableConfig{
		HeartbeatsTable: *heartbeatsTable,
		CountersTable:   *countersTable,
		UpdatesTable:    *updatesTable,
		HistoryTable:    *historyTable,
		SchemaTable:     *schemaTable,
	}

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if err := migrations.Generate(dialect, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", dialect, config.OutputFolder, config.OutputFilename)
}

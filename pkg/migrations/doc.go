// Package migrations writes the SQL migration files for the abacus tables
// (heartbeats, counters, pending updates, usage history and the schema
// version) for PostgreSQL, MySQL/MariaDB and SQLite.
//
// The DDL itself comes from sqlstore.MigrationUp, so a generated file always
// matches the schema the SQL store checks at startup.
package migrations

package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour used for placeholders, upserts and DDL.
type Dialect string

const (
	// Postgres targets PostgreSQL through github.com/lib/pq.
	Postgres Dialect = "postgres"

	// MySQL targets MySQL/MariaDB through github.com/go-sql-driver/mysql.
	MySQL Dialect = "mysql"

	// SQLite targets SQLite through github.com/mattn/go-sqlite3.
	SQLite Dialect = "sqlite"
)

// ParseDialect maps an adapter name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q (supported: postgres, mysql, sqlite)", name)
	}
}

// DriverName returns the database/sql driver name registered by the dialect's driver package.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite3"
	default:
		return string(d)
	}
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// upsert returns an INSERT statement that updates the listed columns when a
// row with the same key columns already exists.
// Each update is a column assignment expression using excluded(col) for the
// incoming value.
func (d Dialect) upsert(table string, columns, keys []string, updates map[string]string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)

	assignments := make([]string, 0, len(updates))
	for _, col := range columns {
		expr, ok := updates[col]
		if !ok {
			continue
		}
		assignments = append(assignments, col+" = "+d.excluded(expr))
	}

	if d == MySQL {
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(assignments, ", ")
	}
	return insert + " ON CONFLICT (" + strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(assignments, ", ")
}

// excluded expands the EXCLUDED(col) marker into the dialect's reference to
// the incoming row.
func (d Dialect) excluded(expr string) string {
	for {
		start := strings.Index(expr, "EXCLUDED(")
		if start < 0 {
			return expr
		}
		end := strings.Index(expr[start:], ")")
		col := expr[start+len("EXCLUDED(") : start+end]
		var ref string
		if d == MySQL {
			ref = "VALUES(" + col + ")"
		} else {
			ref = "excluded." + col
		}
		expr = expr[:start] + ref + expr[start+end+1:]
	}
}

// bigintParam is a placeholder usable in a SELECT list feeding a BIGINT
// column. PostgreSQL cannot infer the parameter type there.
func (d Dialect) bigintParam() string {
	if d == Postgres {
		return "CAST(? AS BIGINT)"
	}
	return "?"
}

// qualify references col through the unqualified name of table, which every
// dialect accepts inside an upsert's update clause.
func qualify(table, col string) string {
	return baseName(table) + "." + col
}

// baseName strips a schema or database qualifier from table.
func baseName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

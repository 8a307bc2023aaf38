package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/store"
)

// Registry is a SQL implementation of store.Registry.
type Registry struct {
	db     *sql.DB
	config Config

	upsertQuery string
	purgeQuery  string
	listQuery   string
	deleteQuery string
	hostQuery   string
	reapQuery   string
}

var _ store.Registry = (*Registry)(nil)

// NewRegistry creates a SQL heartbeat registry.
func NewRegistry(config Config) (*Registry, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	d := config.Dialect
	t := config.Tables.HeartbeatsTable

	return &Registry{
		db:     config.DB,
		config: config,
		upsertQuery: d.Rebind(d.upsert(t,
			[]string{"executable", "hostname", "pid", "thread_id", "thread_name", "last_seen"},
			[]string{"executable", "hostname", "pid", "thread_id"},
			map[string]string{
				"thread_name": "EXCLUDED(thread_name)",
				"last_seen":   "EXCLUDED(last_seen)",
			},
		)),
		purgeQuery: d.Rebind(fmt.Sprintf(
			"DELETE FROM %s WHERE last_seen < ?", t)),
		listQuery: d.Rebind(fmt.Sprintf(
			"SELECT hostname, pid, thread_id, thread_name FROM %s WHERE executable = ? ORDER BY hostname, pid, thread_id", t)),
		deleteQuery: d.Rebind(fmt.Sprintf(
			"DELETE FROM %s WHERE executable = ? AND hostname = ? AND pid = ? AND thread_id = ?", t)),
		hostQuery: d.Rebind(fmt.Sprintf(
			"SELECT DISTINCT pid FROM %s WHERE executable = ? AND hostname = ?", t)),
		reapQuery: d.Rebind(fmt.Sprintf(
			"DELETE FROM %s WHERE executable = ? AND hostname = ? AND pid = ?", t)),
	}, nil
}

// Live implements store.Registry.
// The upsert, the stale purge and the listing run in one transaction.
func (r *Registry) Live(ctx context.Context, id abacus.Identity) (abacus.HeartbeatRecord, error) {
	now := r.config.Now()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return abacus.HeartbeatRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.upsertQuery,
		id.Executable, id.Hostname, id.PID, id.ThreadID, id.ThreadName, millis(now))
	if err != nil {
		return abacus.HeartbeatRecord{}, fmt.Errorf("failed to upsert heartbeat: %w", err)
	}

	_, err = tx.ExecContext(ctx, r.purgeQuery, millis(now.Add(-r.config.StaleAfter)))
	if err != nil {
		return abacus.HeartbeatRecord{}, fmt.Errorf("failed to purge stale heartbeats: %w", err)
	}

	rows, err := tx.QueryContext(ctx, r.listQuery, id.Executable)
	if err != nil {
		return abacus.HeartbeatRecord{}, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	defer rows.Close()

	var live []abacus.Identity
	for rows.Next() {
		other := abacus.Identity{Executable: id.Executable}
		if err := rows.Scan(&other.Hostname, &other.PID, &other.ThreadID, &other.ThreadName); err != nil {
			return abacus.HeartbeatRecord{}, fmt.Errorf("failed to scan heartbeat: %w", err)
		}
		live = append(live, other)
	}
	if err := rows.Err(); err != nil {
		return abacus.HeartbeatRecord{}, fmt.Errorf("failed to iterate heartbeats: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return abacus.HeartbeatRecord{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	index, total, err := store.AssignIndex(id, live)
	if err != nil {
		return abacus.HeartbeatRecord{}, err
	}

	return abacus.HeartbeatRecord{
		Identity:      id,
		AssignedIndex: index,
		TotalWorkers:  total,
		LastSeen:      now,
	}, nil
}

// Die implements store.Registry.
func (r *Registry) Die(ctx context.Context, id abacus.Identity) error {
	_, err := r.db.ExecContext(ctx, r.deleteQuery, id.Executable, id.Hostname, id.PID, id.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to delete heartbeat: %w", err)
	}
	return nil
}

// SanityCheck implements store.Registry.
func (r *Registry) SanityCheck(ctx context.Context, executable, hostname string) error {
	rows, err := r.db.QueryContext(ctx, r.hostQuery, executable, hostname)
	if err != nil {
		return fmt.Errorf("failed to list heartbeats of host: %w", err)
	}

	var pids []int
	for rows.Next() {
		var pid int
		if err := rows.Scan(&pid); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan pid: %w", err)
		}
		pids = append(pids, pid)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return fmt.Errorf("failed to iterate heartbeats of host: %w", err)
	}

	for _, pid := range pids {
		if store.ProcessAlive(pid) {
			continue
		}
		if _, err := r.db.ExecContext(ctx, r.reapQuery, executable, hostname, pid); err != nil {
			return fmt.Errorf("failed to remove heartbeats of dead process %d: %w", pid, err)
		}
	}
	return nil
}

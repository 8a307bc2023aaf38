package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/partition"
	"github.com/getpup/abacus/store"
)

// CounterStore is a SQL implementation of store.CounterStore.
//
// Pending updates are delta rows in the updates table. Applying an item sums
// its deltas up to the highest id seen, deletes exactly those rows and adds
// the sums to the counter row, all in one transaction. Deltas inserted while
// an apply is running keep higher ids and are picked up by the next cycle.
type CounterStore struct {
	db     *sql.DB
	config Config

	schemaQuery  string
	pendingQuery string
	sumQuery     string
	consumeQuery string
	counterQuery string
	readQuery    string
	historyQuery string
	recordQuery  string
}

var _ store.CounterStore = (*CounterStore)(nil)

// NewCounterStore creates a SQL counter store.
func NewCounterStore(config Config) (*CounterStore, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	d := config.Dialect
	t := config.Tables

	return &CounterStore{
		db:     config.DB,
		config: config,
		schemaQuery: fmt.Sprintf(
			"SELECT MAX(version) FROM %s", t.SchemaTable),
		pendingQuery: d.Rebind(fmt.Sprintf(
			"SELECT DISTINCT account, rse_id FROM %s WHERE key_hash %% ? = ?", t.UpdatesTable)),
		sumQuery: d.Rebind(fmt.Sprintf(
			"SELECT COUNT(*), COALESCE(SUM(files), 0), COALESCE(SUM(bytes), 0), COALESCE(MAX(id), 0) FROM %s WHERE account = ? AND rse_id = ?",
			t.UpdatesTable)),
		consumeQuery: d.Rebind(fmt.Sprintf(
			"DELETE FROM %s WHERE account = ? AND rse_id = ? AND id <= ?", t.UpdatesTable)),
		counterQuery: d.Rebind(d.upsert(t.CountersTable,
			[]string{"account", "rse_id", "files", "bytes", "updated_at"},
			[]string{"account", "rse_id"},
			map[string]string{
				"files":      qualify(t.CountersTable, "files") + " + EXCLUDED(files)",
				"bytes":      qualify(t.CountersTable, "bytes") + " + EXCLUDED(bytes)",
				"updated_at": "EXCLUDED(updated_at)",
			},
		)),
		readQuery: d.Rebind(fmt.Sprintf(
			"SELECT files, bytes, updated_at FROM %s WHERE account = ? AND rse_id = ?", t.CountersTable)),
		historyQuery: d.Rebind(fmt.Sprintf(
			"INSERT INTO %s (account, rse_id, files, bytes, recorded_at) SELECT account, rse_id, files, bytes, %s FROM %s",
			t.HistoryTable, d.bigintParam(), t.CountersTable)),
		recordQuery: d.Rebind(fmt.Sprintf(
			"INSERT INTO %s (account, rse_id, files, bytes, key_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)", t.UpdatesTable)),
	}, nil
}

// CheckSchema implements store.CounterStore.
// A missing schema table counts as incompatible.
func (s *CounterStore) CheckSchema(ctx context.Context) error {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.schemaQuery).Scan(&version); err != nil {
		return fmt.Errorf("%w: failed to read schema version: %v", abacus.ErrSchemaIncompatible, err)
	}
	if !version.Valid {
		return fmt.Errorf("%w: schema version not set", abacus.ErrSchemaIncompatible)
	}
	if version.Int64 != SchemaVersion {
		return fmt.Errorf("%w: database is at version %d, expected %d", abacus.ErrSchemaIncompatible, version.Int64, SchemaVersion)
	}
	return nil
}

// UpdatedCounters implements store.CounterStore.
// The partition is selected in SQL on the key_hash column written by
// RecordUpdate. Items are returned sorted by account, then RSE.
func (s *CounterStore) UpdatedCounters(ctx context.Context, totalWorkers, index int) ([]abacus.WorkItem, error) {
	if err := store.ValidatePartition(totalWorkers, index); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.pendingQuery, int64(totalWorkers), int64(index))
	if err != nil {
		return nil, fmt.Errorf("failed to query updated counters: %w", err)
	}
	defer rows.Close()

	var items []abacus.WorkItem
	for rows.Next() {
		var item abacus.WorkItem
		if err := rows.Scan(&item.Account, &item.RSEID); err != nil {
			return nil, fmt.Errorf("failed to scan updated counter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate updated counters: %w", err)
	}

	store.SortItems(items)
	return items, nil
}

// ApplyUpdate implements store.CounterStore.
func (s *CounterStore) ApplyUpdate(ctx context.Context, item abacus.WorkItem) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		count        int
		files, bytes int64
		maxID        int64
	)
	err = tx.QueryRowContext(ctx, s.sumQuery, item.Account, item.RSEID).Scan(&count, &files, &bytes, &maxID)
	if err != nil {
		return fmt.Errorf("failed to sum pending updates of %s: %w", item, err)
	}
	if count == 0 {
		return nil
	}

	res, err := tx.ExecContext(ctx, s.consumeQuery, item.Account, item.RSEID, maxID)
	if err != nil {
		return fmt.Errorf("failed to delete pending updates of %s: %w", item, err)
	}
	// Another worker that owned item during a rebalance may have folded the
	// same rows first.
	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count consumed updates of %s: %w", item, err)
	}
	if deleted != int64(count) {
		return fmt.Errorf("%w: %s (summed %d, consumed %d)", store.ErrConcurrentUpdate, item, count, deleted)
	}

	now := millis(s.config.Now())
	if _, err := tx.ExecContext(ctx, s.counterQuery, item.Account, item.RSEID, files, bytes, now); err != nil {
		return fmt.Errorf("failed to update counter %s: %w", item, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FillHistory implements store.CounterStore.
func (s *CounterStore) FillHistory(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.historyQuery, millis(s.config.Now())); err != nil {
		return fmt.Errorf("failed to fill usage history: %w", err)
	}
	return nil
}

// RecordUpdate inserts a pending delta for item, tagged with the partition
// hash of its key.
func (s *CounterStore) RecordUpdate(ctx context.Context, item abacus.WorkItem, files, bytes int64) error {
	keyHash := int64(partition.Hash(item.Key()))
	_, err := s.db.ExecContext(ctx, s.recordQuery, item.Account, item.RSEID, files, bytes, keyHash, millis(s.config.Now()))
	if err != nil {
		return fmt.Errorf("failed to record update of %s: %w", item, err)
	}
	return nil
}

// Counter returns the counter of item.
// The boolean is false if no update has been applied for item yet.
func (s *CounterStore) Counter(ctx context.Context, item abacus.WorkItem) (store.Counter, bool, error) {
	var (
		c         store.Counter
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, s.readQuery, item.Account, item.RSEID).Scan(&c.Files, &c.Bytes, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Counter{}, false, nil
	}
	if err != nil {
		return store.Counter{}, false, fmt.Errorf("failed to read counter %s: %w", item, err)
	}
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return c, true, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

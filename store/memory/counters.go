package memory

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/partition"
	"github.com/getpup/abacus/store"
)

// HistoryEntry is one snapshot written by FillHistory.
type HistoryEntry struct {
	Item       abacus.WorkItem
	Counter    store.Counter
	RecordedAt time.Time
}

type delta struct {
	files int64
	bytes int64
}

// CounterStore is an in-memory implementation of store.CounterStore for
// testing. It is safe for concurrent use.
type CounterStore struct {
	mu       sync.RWMutex
	pending  map[abacus.WorkItem][]delta
	counters map[abacus.WorkItem]store.Counter
	history  []HistoryEntry
	now      func() time.Time
}

var _ store.CounterStore = (*CounterStore)(nil)

// NewCounterStore creates an empty counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{
		pending:  make(map[abacus.WorkItem][]delta),
		counters: make(map[abacus.WorkItem]store.Counter),
		now:      time.Now,
	}
}

// RecordUpdate records a pending delta for item, the way an external
// mutation (a file being added or deleted) would.
func (s *CounterStore) RecordUpdate(item abacus.WorkItem, files, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[item] = append(s.pending[item], delta{files: files, bytes: bytes})
}

// CheckSchema implements store.CounterStore. The in-memory schema always matches.
func (s *CounterStore) CheckSchema(ctx context.Context) error {
	return nil
}

// UpdatedCounters implements store.CounterStore.
// Items are returned sorted by account, then RSE.
func (s *CounterStore) UpdatedCounters(ctx context.Context, totalWorkers, index int) ([]abacus.WorkItem, error) {
	if err := store.ValidatePartition(totalWorkers, index); err != nil {
		return nil, err
	}

	s.mu.RLock()
	items := make([]abacus.WorkItem, 0, len(s.pending))
	for item := range s.pending {
		items = append(items, item)
	}
	s.mu.RUnlock()

	store.SortItems(items)

	return partition.Filter(items, partition.Descriptor{Index: index, Total: totalWorkers}), nil
}

// ApplyUpdate implements store.CounterStore.
func (s *CounterStore) ApplyUpdate(ctx context.Context, item abacus.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deltas, ok := s.pending[item]
	if !ok {
		return nil
	}

	counter := s.counters[item]
	for _, d := range deltas {
		counter.Files += d.files
		counter.Bytes += d.bytes
	}
	counter.UpdatedAt = s.now()

	s.counters[item] = counter
	delete(s.pending, item)
	return nil
}

// FillHistory implements store.CounterStore.
func (s *CounterStore) FillHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for item, c := range s.counters {
		s.history = append(s.history, HistoryEntry{Item: item, Counter: c, RecordedAt: now})
	}
	return nil
}

// Counter returns the current counter of item.
func (s *CounterStore) Counter(item abacus.WorkItem) (store.Counter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counters[item]
	return c, ok
}

// PendingCount returns the number of items with pending updates.
func (s *CounterStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// History returns a copy of the history snapshots.
func (s *CounterStore) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

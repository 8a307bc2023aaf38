package store

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/abacus"
)

// MockRegistry is a configurable mock implementation of Registry for use in
// tests. It allows setting up return values, tracking calls and injecting
// errors for testing error paths.
type MockRegistry struct {
	mu sync.RWMutex

	// LiveFunc is called by Live if set.
	LiveFunc func(ctx context.Context, id abacus.Identity) (abacus.HeartbeatRecord, error)

	// DieFunc is called by Die if set.
	DieFunc func(ctx context.Context, id abacus.Identity) error

	// SanityCheckFunc is called by SanityCheck if set.
	SanityCheckFunc func(ctx context.Context, executable, hostname string) error

	// Call tracking
	LiveCalls        []LiveCall
	DieCalls         []DieCall
	SanityCheckCalls []SanityCheckCall
}

// Call tracking structs
type LiveCall struct {
	Identity abacus.Identity
}

type DieCall struct {
	Identity abacus.Identity
}

type SanityCheckCall struct {
	Executable string
	Hostname   string
}

var _ Registry = (*MockRegistry)(nil)

// NewMockRegistry creates a new mock registry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{}
}

// Live implements Registry. Without LiveFunc it reports a single live worker.
func (m *MockRegistry) Live(ctx context.Context, id abacus.Identity) (abacus.HeartbeatRecord, error) {
	m.mu.Lock()
	m.LiveCalls = append(m.LiveCalls, LiveCall{Identity: id})
	m.mu.Unlock()

	if m.LiveFunc != nil {
		return m.LiveFunc(ctx, id)
	}

	return abacus.HeartbeatRecord{
		Identity:      id,
		AssignedIndex: 0,
		TotalWorkers:  1,
		LastSeen:      time.Now(),
	}, nil
}

// Die implements Registry.
func (m *MockRegistry) Die(ctx context.Context, id abacus.Identity) error {
	m.mu.Lock()
	m.DieCalls = append(m.DieCalls, DieCall{Identity: id})
	m.mu.Unlock()

	if m.DieFunc != nil {
		return m.DieFunc(ctx, id)
	}

	return nil
}

// SanityCheck implements Registry.
func (m *MockRegistry) SanityCheck(ctx context.Context, executable, hostname string) error {
	m.mu.Lock()
	m.SanityCheckCalls = append(m.SanityCheckCalls, SanityCheckCall{
		Executable: executable,
		Hostname:   hostname,
	})
	m.mu.Unlock()

	if m.SanityCheckFunc != nil {
		return m.SanityCheckFunc(ctx, executable, hostname)
	}

	return nil
}

// LiveCount returns the number of Live calls so far.
func (m *MockRegistry) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.LiveCalls)
}

// DieCount returns the number of Die calls so far.
func (m *MockRegistry) DieCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.DieCalls)
}

// MockCounterStore is a configurable mock implementation of CounterStore for
// use in tests.
type MockCounterStore struct {
	mu sync.RWMutex

	// CheckSchemaFunc is called by CheckSchema if set.
	CheckSchemaFunc func(ctx context.Context) error

	// UpdatedCountersFunc is called by UpdatedCounters if set.
	UpdatedCountersFunc func(ctx context.Context, totalWorkers, index int) ([]abacus.WorkItem, error)

	// ApplyUpdateFunc is called by ApplyUpdate if set.
	ApplyUpdateFunc func(ctx context.Context, item abacus.WorkItem) error

	// FillHistoryFunc is called by FillHistory if set.
	FillHistoryFunc func(ctx context.Context) error

	// Call tracking
	CheckSchemaCalls     int
	UpdatedCountersCalls []UpdatedCountersCall
	ApplyUpdateCalls     []ApplyUpdateCall
	FillHistoryCalls     int
}

type UpdatedCountersCall struct {
	TotalWorkers int
	Index        int
}

type ApplyUpdateCall struct {
	Item abacus.WorkItem
}

var _ CounterStore = (*MockCounterStore)(nil)

// NewMockCounterStore creates a new mock counter store.
func NewMockCounterStore() *MockCounterStore {
	return &MockCounterStore{}
}

// CheckSchema implements CounterStore.
func (m *MockCounterStore) CheckSchema(ctx context.Context) error {
	m.mu.Lock()
	m.CheckSchemaCalls++
	m.mu.Unlock()

	if m.CheckSchemaFunc != nil {
		return m.CheckSchemaFunc(ctx)
	}

	return nil
}

// UpdatedCounters implements CounterStore. Without UpdatedCountersFunc it reports no work.
func (m *MockCounterStore) UpdatedCounters(ctx context.Context, totalWorkers, index int) ([]abacus.WorkItem, error) {
	m.mu.Lock()
	m.UpdatedCountersCalls = append(m.UpdatedCountersCalls, UpdatedCountersCall{
		TotalWorkers: totalWorkers,
		Index:        index,
	})
	m.mu.Unlock()

	if m.UpdatedCountersFunc != nil {
		return m.UpdatedCountersFunc(ctx, totalWorkers, index)
	}

	return nil, nil
}

// ApplyUpdate implements CounterStore.
func (m *MockCounterStore) ApplyUpdate(ctx context.Context, item abacus.WorkItem) error {
	m.mu.Lock()
	m.ApplyUpdateCalls = append(m.ApplyUpdateCalls, ApplyUpdateCall{Item: item})
	m.mu.Unlock()

	if m.ApplyUpdateFunc != nil {
		return m.ApplyUpdateFunc(ctx, item)
	}

	return nil
}

// FillHistory implements CounterStore.
func (m *MockCounterStore) FillHistory(ctx context.Context) error {
	m.mu.Lock()
	m.FillHistoryCalls++
	m.mu.Unlock()

	if m.FillHistoryFunc != nil {
		return m.FillHistoryFunc(ctx)
	}

	return nil
}

// FetchCount returns the number of UpdatedCounters calls so far.
func (m *MockCounterStore) FetchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.UpdatedCountersCalls)
}

// AppliedItems returns the items passed to ApplyUpdate, in call order.
func (m *MockCounterStore) AppliedItems() []abacus.WorkItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]abacus.WorkItem, len(m.ApplyUpdateCalls))
	for i, c := range m.ApplyUpdateCalls {
		items[i] = c.Item
	}
	return items
}

// FillHistoryCount returns the number of FillHistory calls so far.
func (m *MockCounterStore) FillHistoryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FillHistoryCalls
}

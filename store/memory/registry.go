package memory

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/store"
)

type heartbeatKey struct {
	executable string
	hostname   string
	pid        int
	threadID   string
}

func keyOf(id abacus.Identity) heartbeatKey {
	return heartbeatKey{
		executable: id.Executable,
		hostname:   id.Hostname,
		pid:        id.PID,
		threadID:   id.ThreadID,
	}
}

type heartbeat struct {
	identity abacus.Identity
	lastSeen time.Time
}

// Registry is an in-memory implementation of store.Registry for testing and
// single-process deployments. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	heartbeats map[heartbeatKey]heartbeat
	staleAfter time.Duration
	now        func() time.Time
}

var _ store.Registry = (*Registry)(nil)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStaleAfter sets how long a heartbeat stays live without a refresh.
func WithStaleAfter(d time.Duration) RegistryOption {
	return func(r *Registry) { r.staleAfter = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		heartbeats: make(map[heartbeatKey]heartbeat),
		staleAfter: store.DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Live implements store.Registry.
func (r *Registry) Live(ctx context.Context, id abacus.Identity) (abacus.HeartbeatRecord, error) {
	if err := ctx.Err(); err != nil {
		return abacus.HeartbeatRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.heartbeats[keyOf(id)] = heartbeat{identity: id, lastSeen: now}

	cutoff := now.Add(-r.staleAfter)
	var live []abacus.Identity
	for k, hb := range r.heartbeats {
		if hb.lastSeen.Before(cutoff) {
			delete(r.heartbeats, k)
			continue
		}
		if k.executable == id.Executable {
			live = append(live, hb.identity)
		}
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
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.heartbeats, keyOf(id))
	return nil
}

// SanityCheck implements store.Registry.
func (r *Registry) SanityCheck(ctx context.Context, executable, hostname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.heartbeats {
		if k.executable == executable && k.hostname == hostname && !store.ProcessAlive(k.pid) {
			delete(r.heartbeats, k)
		}
	}
	return nil
}

// Heartbeats returns the identities currently registered for executable,
// including stale ones not yet purged.
func (r *Registry) Heartbeats(executable string) []abacus.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []abacus.Identity
	for k, hb := range r.heartbeats {
		if k.executable == executable {
			ids = append(ids, hb.identity)
		}
	}
	return ids
}

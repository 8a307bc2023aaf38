// Package redis implements store.Registry on Redis.
//
// Each executable owns one sorted set whose members are worker identities
// scored by their last heartbeat in unix milliseconds. Stale members are
// trimmed by score on every Live call.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	reg := redis.NewRegistry(client, redis.WithPrefix("abacus"))
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/store"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "abacus"

var _ store.Registry = (*Registry)(nil)

// Option configures the Registry.
type Option func(*Registry)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *Registry) { r.prefix = prefix }
}

// WithStaleAfter sets how long a heartbeat stays live without a refresh.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) { r.staleAfter = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is a Redis implementation of store.Registry.
// The caller owns the Redis client lifecycle.
type Registry struct {
	client     goredis.Cmdable
	prefix     string
	staleAfter time.Duration
	now        func() time.Time
}

// NewRegistry creates a Redis-backed heartbeat registry.
func NewRegistry(client goredis.Cmdable, opts ...Option) *Registry {
	r := &Registry{
		client:     client,
		prefix:     DefaultPrefix,
		staleAfter: store.DefaultStaleAfter,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) key(executable string) string {
	return r.prefix + ":heartbeats:" + executable
}

func member(id abacus.Identity) string {
	return id.Hostname + "|" + strconv.Itoa(id.PID) + "|" + id.ThreadID
}

// parseMember splits from the right so hostnames may contain the separator.
func parseMember(executable, m string) (abacus.Identity, error) {
	last := strings.LastIndexByte(m, '|')
	if last < 0 {
		return abacus.Identity{}, fmt.Errorf("malformed heartbeat member %q", m)
	}
	mid := strings.LastIndexByte(m[:last], '|')
	if mid < 0 {
		return abacus.Identity{}, fmt.Errorf("malformed heartbeat member %q", m)
	}
	pid, err := strconv.Atoi(m[mid+1 : last])
	if err != nil {
		return abacus.Identity{}, fmt.Errorf("malformed pid in heartbeat member %q: %w", m, err)
	}
	return abacus.Identity{
		Executable: executable,
		Hostname:   m[:mid],
		PID:        pid,
		ThreadID:   m[last+1:],
	}, nil
}

// Live implements store.Registry.
func (r *Registry) Live(ctx context.Context, id abacus.Identity) (abacus.HeartbeatRecord, error) {
	now := r.now()
	key := r.key(id.Executable)
	cutoff := now.Add(-r.staleAfter).UnixMilli()

	var members *goredis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, key, goredis.Z{Score: float64(now.UnixMilli()), Member: member(id)})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, 2*r.staleAfter)
		members = pipe.ZRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return abacus.HeartbeatRecord{}, fmt.Errorf("failed to refresh heartbeat: %w", err)
	}

	live := make([]abacus.Identity, 0, len(members.Val()))
	for _, m := range members.Val() {
		other, err := parseMember(id.Executable, m)
		if err != nil {
			continue
		}
		live = append(live, other)
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
	if err := r.client.ZRem(ctx, r.key(id.Executable), member(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove heartbeat: %w", err)
	}
	return nil
}

// SanityCheck implements store.Registry.
func (r *Registry) SanityCheck(ctx context.Context, executable, hostname string) error {
	key := r.key(executable)

	members, err := r.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list heartbeats: %w", err)
	}

	var dead []interface{}
	for _, m := range members {
		id, err := parseMember(executable, m)
		if err != nil || id.Hostname != hostname {
			continue
		}
		if !store.ProcessAlive(id.PID) {
			dead = append(dead, m)
		}
	}
	if len(dead) == 0 {
		return nil
	}

	if err := r.client.ZRem(ctx, key, dead...).Err(); err != nil {
		return fmt.Errorf("failed to remove heartbeats of dead processes: %w", err)
	}
	return nil
}

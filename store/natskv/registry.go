// Package natskv implements store.Registry on a NATS JetStream key-value bucket.
//
// Each worker owns one key holding its last heartbeat time. The bucket TTL
// removes keys of crashed workers; Live additionally drops keys whose stored
// time is older than the stale threshold so the cutoff does not depend on
// the bucket configuration alone.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/store"
)

// DefaultBucket is the bucket name used by EnsureBucket callers that do not choose one.
const DefaultBucket = "abacus-heartbeats"

const keyPrefix = "hb"

var _ store.Registry = (*Registry)(nil)

// Option configures the Registry.
type Option func(*Registry)

// WithStaleAfter sets how long a heartbeat stays live without a refresh.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) { r.staleAfter = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is a NATS KV implementation of store.Registry.
type Registry struct {
	kv         jetstream.KeyValue
	staleAfter time.Duration
	now        func() time.Time
}

// NewRegistry creates a registry on an existing bucket.
// Use EnsureBucket to create the bucket with a matching TTL.
func NewRegistry(kv jetstream.KeyValue, opts ...Option) *Registry {
	r := &Registry{
		kv:         kv,
		staleAfter: store.DefaultStaleAfter,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// EnsureBucket creates or opens the heartbeat bucket with the given TTL.
// Concurrent creation by several daemons is retried with exponential backoff.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	cfg := jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     ttl,
	}

	const maxRetries = 5
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w", bucket, maxRetries, lastErr)
}

// encode makes arbitrary strings safe for KV key tokens.
func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decode(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	return string(b), err
}

func executablePrefix(executable string) string {
	return keyPrefix + "." + encode(executable) + "."
}

func hostPrefix(executable, hostname string) string {
	return executablePrefix(executable) + encode(hostname) + "."
}

// keyFor renders hb.<executable>.<hostname>.<pid>.<thread id>.
func keyFor(id abacus.Identity) string {
	return hostPrefix(id.Executable, id.Hostname) + strconv.Itoa(id.PID) + "." + id.ThreadID
}

func parseKey(executable, key string) (abacus.Identity, error) {
	parts := strings.Split(strings.TrimPrefix(key, executablePrefix(executable)), ".")
	if len(parts) != 3 {
		return abacus.Identity{}, fmt.Errorf("malformed heartbeat key %q", key)
	}
	hostname, err := decode(parts[0])
	if err != nil {
		return abacus.Identity{}, fmt.Errorf("malformed hostname in heartbeat key %q: %w", key, err)
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return abacus.Identity{}, fmt.Errorf("malformed pid in heartbeat key %q: %w", key, err)
	}
	return abacus.Identity{
		Executable: executable,
		Hostname:   hostname,
		PID:        pid,
		ThreadID:   parts[2],
	}, nil
}

// keys lists the bucket keys starting with prefix.
func (r *Registry) keys(ctx context.Context, prefix string) ([]string, error) {
	all, err := r.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list heartbeat keys: %w", err)
	}

	matched := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

// Live implements store.Registry.
func (r *Registry) Live(ctx context.Context, id abacus.Identity) (abacus.HeartbeatRecord, error) {
	now := r.now()

	if _, err := r.kv.Put(ctx, keyFor(id), []byte(now.UTC().Format(time.RFC3339Nano))); err != nil {
		return abacus.HeartbeatRecord{}, fmt.Errorf("failed to publish heartbeat: %w", err)
	}

	keys, err := r.keys(ctx, executablePrefix(id.Executable))
	if err != nil {
		return abacus.HeartbeatRecord{}, err
	}

	cutoff := now.Add(-r.staleAfter)
	live := make([]abacus.Identity, 0, len(keys))
	for _, k := range keys {
		other, err := parseKey(id.Executable, k)
		if err != nil {
			continue
		}

		entry, err := r.kv.Get(ctx, k)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return abacus.HeartbeatRecord{}, fmt.Errorf("failed to read heartbeat %s: %w", k, err)
		}
		seen, err := time.Parse(time.RFC3339Nano, string(entry.Value()))
		if err != nil || seen.Before(cutoff) {
			if err := r.kv.Delete(ctx, k); err != nil {
				return abacus.HeartbeatRecord{}, fmt.Errorf("failed to purge stale heartbeat %s: %w", k, err)
			}
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
	if err := r.kv.Delete(ctx, keyFor(id)); err != nil {
		return fmt.Errorf("failed to delete heartbeat: %w", err)
	}
	return nil
}

// SanityCheck implements store.Registry.
func (r *Registry) SanityCheck(ctx context.Context, executable, hostname string) error {
	keys, err := r.keys(ctx, hostPrefix(executable, hostname))
	if err != nil {
		return err
	}

	for _, k := range keys {
		id, err := parseKey(executable, k)
		if err != nil || store.ProcessAlive(id.PID) {
			continue
		}
		if err := r.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("failed to remove heartbeat of dead process %d: %w", id.PID, err)
		}
	}
	return nil
}

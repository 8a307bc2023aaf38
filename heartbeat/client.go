// Package heartbeat registers a worker in the shared heartbeat registry and
// reports its position among the live workers of its executable.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/abacus"
	"github.com/getpup/abacus/metrics"
	"github.com/getpup/abacus/store"
)

// Config holds configuration for the heartbeat Client.
type Config struct {
	// Registry is the shared heartbeat registry (required).
	Registry store.Registry

	// Identity is the worker identity written to the registry (required).
	Identity abacus.Identity

	// Logger is for observability (optional).
	Logger abacus.Logger

	// Metrics records heartbeat latency and registry errors (optional).
	Metrics *metrics.Collector
}

// Client refreshes and removes the heartbeat of a single worker.
// Live may be called any number of times; Die takes effect once.
type Client struct {
	config Config

	dieOnce sync.Once
	dieErr  error
}

// New creates a new heartbeat Client with the given configuration.
func New(cfg Config) *Client {
	return &Client{config: cfg}
}

// NewIdentity builds a worker identity with a fresh thread id.
// Empty hostname and zero pid are filled from the running process.
func NewIdentity(executable, hostname string, pid int, threadName string) abacus.Identity {
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}
	if pid == 0 {
		pid = os.Getpid()
	}

	return abacus.Identity{
		Executable: executable,
		Hostname:   hostname,
		PID:        pid,
		ThreadID:   uuid.NewString(),
		ThreadName: threadName,
	}
}

// Identity returns the identity this client heartbeats for.
func (c *Client) Identity() abacus.Identity {
	return c.config.Identity
}

// Live registers or refreshes the heartbeat and returns the worker's current
// position. Errors wrap abacus.ErrRegistryUnavailable.
func (c *Client) Live(ctx context.Context) (abacus.HeartbeatRecord, error) {
	start := time.Now()
	rec, err := c.config.Registry.Live(ctx, c.config.Identity)
	c.config.Metrics.ObserveHeartbeatLatency(time.Since(start).Seconds())

	if err != nil {
		c.config.Metrics.IncRegistryErrors("live")
		if c.config.Logger != nil {
			c.config.Logger.Error(ctx, "heartbeat failed", "worker", c.config.Identity.ThreadName, "error", err)
		}
		return abacus.HeartbeatRecord{}, fmt.Errorf("%w: %w", abacus.ErrRegistryUnavailable, err)
	}

	c.config.Metrics.SetActiveWorkers(rec.TotalWorkers)
	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "heartbeat sent",
			"worker", c.config.Identity.ThreadName,
			"index", rec.AssignedIndex,
			"total", rec.TotalWorkers)
	}

	return rec, nil
}

// Die removes the heartbeat. Only the first call reaches the registry;
// later calls return the first call's result.
func (c *Client) Die(ctx context.Context) error {
	c.dieOnce.Do(func() {
		if err := c.config.Registry.Die(ctx, c.config.Identity); err != nil {
			c.config.Metrics.IncRegistryErrors("die")
			if c.config.Logger != nil {
				c.config.Logger.Error(ctx, "deregistration failed", "worker", c.config.Identity.ThreadName, "error", err)
			}
			c.dieErr = fmt.Errorf("%w: %w", abacus.ErrRegistryUnavailable, err)
			return
		}

		if c.config.Logger != nil {
			c.config.Logger.Info(ctx, "worker deregistered", "worker", c.config.Identity.ThreadName)
		}
	})
	return c.dieErr
}

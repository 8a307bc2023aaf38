// Package shutdown provides the single cancellation source shared by all
// workers and the periodic runner of a daemon.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"
)

// Coordinator wraps a cancellable context. Once stopped it stays stopped.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Coordinator that is also stopped when parent is done.
func New(parent context.Context) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{ctx: ctx, cancel: cancel}
}

// Stop requests shutdown. Safe to call repeatedly and concurrently.
func (c *Coordinator) Stop() {
	c.cancel()
}

// Stopped reports whether shutdown has been requested.
func (c *Coordinator) Stopped() bool {
	return c.ctx.Err() != nil
}

// Done is closed when shutdown is requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context returns the context cancelled on shutdown.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// NotifyOn stops the coordinator when any of signals is received.
// The returned function unregisters the handler.
func (c *Coordinator) NotifyOn(signals ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			c.Stop()
		case <-c.ctx.Done():
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

// Sleep waits for d in increments of at most quantum.
// It returns false as soon as ctx is done, true if the full duration elapsed.
func Sleep(ctx context.Context, d, quantum time.Duration) bool {
	if quantum <= 0 {
		quantum = d
	}

	for d > 0 {
		step := quantum
		if step > d {
			step = d
		}

		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		d -= step
	}

	return ctx.Err() == nil
}

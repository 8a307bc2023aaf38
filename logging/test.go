package logging

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/getpup/abacus"
)

// TestLogger writes through t.Logf and keeps every message for assertions.
type TestLogger struct {
	t *testing.T

	mu      sync.Mutex
	entries []Entry
}

// Entry is one captured log record.
type Entry struct {
	Level   string
	Message string
	KeyVals []interface{}
}

var _ abacus.Logger = (*TestLogger)(nil)

// NewTest creates a TestLogger bound to t.
func NewTest(t *testing.T) *TestLogger {
	return &TestLogger{t: t}
}

// Debug implements abacus.Logger.
func (l *TestLogger) Debug(_ context.Context, msg string, keyvals ...interface{}) {
	l.record("DEBUG", msg, keyvals)
}

// Info implements abacus.Logger.
func (l *TestLogger) Info(_ context.Context, msg string, keyvals ...interface{}) {
	l.record("INFO", msg, keyvals)
}

// Error implements abacus.Logger.
func (l *TestLogger) Error(_ context.Context, msg string, keyvals ...interface{}) {
	l.record("ERROR", msg, keyvals)
}

// Entries returns a copy of the captured records.
func (l *TestLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Count returns how many records were logged at level with message msg.
func (l *TestLogger) Count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if e.Level == level && e.Message == msg {
			n++
		}
	}
	return n
}

func (l *TestLogger) record(level, msg string, keyvals []interface{}) {
	l.mu.Lock()
	l.entries = append(l.entries, Entry{Level: level, Message: msg, KeyVals: keyvals})
	l.mu.Unlock()

	l.t.Helper()
	l.t.Logf("%s: %s %s", level, msg, fmt.Sprint(keyvals...))
}

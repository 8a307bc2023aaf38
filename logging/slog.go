// Package logging provides abacus.Logger implementations.
package logging

import (
	"context"
	"log/slog"

	"github.com/getpup/abacus"
)

// SlogLogger implements abacus.Logger on top of log/slog.
type SlogLogger struct {
	logger *slog.Logger
}

var _ abacus.Logger = (*SlogLogger)(nil)

// NewSlog wraps the given slog.Logger. A nil logger falls back to slog.Default().
func NewSlog(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Debug implements abacus.Logger.
func (l *SlogLogger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	l.logger.DebugContext(ctx, msg, keyvals...)
}

// Info implements abacus.Logger.
func (l *SlogLogger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	l.logger.InfoContext(ctx, msg, keyvals...)
}

// Error implements abacus.Logger.
func (l *SlogLogger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	l.logger.ErrorContext(ctx, msg, keyvals...)
}

// With returns a logger that adds keyvals to every record.
func (l *SlogLogger) With(keyvals ...interface{}) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(keyvals...)}
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to Info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

package tilego

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with consistent field names for array and
// fragment operations. Components below the facade take a plain
// *slog.Logger; this wrapper exists for callers configuring the facade.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. If handler is nil, a
// text handler to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithArray tags entries with the array URI.
func (l *Logger) WithArray(uri string) *Logger {
	return &Logger{Logger: l.Logger.With("array", uri)}
}

// WithFragment tags entries with a fragment name.
func (l *Logger) WithFragment(name string) *Logger {
	return &Logger{Logger: l.Logger.With("fragment", name)}
}

// LogLoad logs a fragment metadata load.
func (l *Logger) LogLoad(ctx context.Context, fragment string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "fragment load failed", "fragment", fragment, "error", err)
	} else {
		l.DebugContext(ctx, "fragment loaded", "fragment", fragment)
	}
}

// LogCommit logs a fragment commit.
func (l *Logger) LogCommit(ctx context.Context, fragment string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "fragment commit failed", "fragment", fragment, "error", err)
	} else {
		l.InfoContext(ctx, "fragment committed", "fragment", fragment)
	}
}

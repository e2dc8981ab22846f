// Package logger provides structured logging utilities.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	reqctx "github.com/ricesearch/rankeval/internal/pkg/context"
)

// Logger wraps slog.Logger with engine-specific context helpers.
type Logger struct {
	*slog.Logger
}

// New creates a new logger writing to stderr with the specified level and
// format. Stdout is left to command output.
func New(level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRank returns a logger tagged with the process rank of a distributed run.
func (l *Logger) WithRank(rank, worldSize int) *Logger {
	return &Logger{
		Logger: l.With("rank", rank, "world_size", worldSize),
	}
}

// WithMetric returns a logger with metric context.
func (l *Logger) WithMetric(name string) *Logger {
	return &Logger{
		Logger: l.With("metric", name),
	}
}

// WithContext returns a logger tagged with the request ID carried by ctx,
// or l itself when there is none.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	id := reqctx.GetRequestID(ctx)
	if id == "" {
		return l
	}
	return &Logger{
		Logger: l.With("request_id", id),
	}
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.With("error", err.Error()),
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the default logger.
func Default() *Logger {
	return New("info", "text")
}

// Discard returns a logger that drops everything. Used by tests and by
// library callers that do not pass a logger.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

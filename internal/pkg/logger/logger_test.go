package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	reqctx "github.com/ricesearch/rankeval/internal/pkg/context"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug text", "debug", "text"},
		{"info json", "info", "json"},
		{"warn text", "warn", "text"},
		{"error json", "error", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level, tt.format)
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			if logger.Logger == nil {
				t.Fatal("New() returned logger with nil slog.Logger")
			}
		})
	}
}

func TestLogger_WithRank(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	logger.WithRank(2, 4).Info("synchronized")

	output := buf.String()
	if !strings.Contains(output, `"rank":2`) {
		t.Errorf("output should contain rank, got: %s", output)
	}
	if !strings.Contains(output, `"world_size":4`) {
		t.Errorf("output should contain world_size, got: %s", output)
	}
}

func TestLogger_WithMetric(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	logger.WithMetric("mrr").Info("computed")

	if !strings.Contains(buf.String(), "metric=mrr") {
		t.Errorf("output should contain metric=mrr, got: %s", buf.String())
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	if logger.WithContext(context.Background()) != logger {
		t.Error("WithContext() without a request ID should return the same logger")
	}

	ctx := reqctx.WithRequestID(context.Background(), "req-1")
	logger.WithContext(ctx).Info("evaluated")

	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Errorf("output should contain request_id=req-1, got: %s", buf.String())
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	logger.WithError(context.DeadlineExceeded).Warn("gather failed")

	if !strings.Contains(buf.String(), "context deadline exceeded") {
		t.Errorf("output should contain error, got: %s", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("info message should be filtered at warn level, got: %s", output)
	}
	if !strings.Contains(output, "shown") {
		t.Errorf("warn message should be written, got: %s", output)
	}
}

func TestDefaultAndDiscard(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
	d := Discard()
	if d == nil {
		t.Fatal("Discard() returned nil")
	}
	d.Error("nothing should happen")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

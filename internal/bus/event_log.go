package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ricesearch/rankeval/internal/pkg/errors"
)

// LoggedEvent is one line of an event log.
type LoggedEvent struct {
	Event     Event     `json:"event"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// EventLogger appends published events to a JSON lines file, so the gather
// rounds of a distributed run can be inspected and replayed afterwards.
type EventLogger struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// maxLineSize bounds one logged event; a contribution carries a whole
// shard of samples.
const maxLineSize = 64 << 20

// NewEventLogger opens path for appending. An empty path returns a disabled
// logger whose Log is a no-op.
func NewEventLogger(path string) (*EventLogger, error) {
	l := &EventLogger{path: path}
	if path == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "creating event log directory", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, fmt.Sprintf("opening event log %s", path), err)
	}

	l.file = file
	l.encoder = json.NewEncoder(file)
	return l, nil
}

// Enabled reports whether events are written.
func (l *EventLogger) Enabled() bool {
	return l.path != ""
}

// Path returns the log file path.
func (l *EventLogger) Path() string {
	return l.path
}

// Log appends one event.
func (l *EventLogger) Log(topic string, event Event) error {
	if !l.Enabled() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New(errors.CodeUnavailable, "event log is closed")
	}

	if err := l.encoder.Encode(LoggedEvent{Event: event, Topic: topic, Timestamp: time.Now()}); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	// a stalled run is usually killed, so every line must reach the disk
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	return nil
}

// ReadEvents reads the events of an event log written after since, oldest
// first. limit > 0 caps the result. Malformed lines are skipped.
func ReadEvents(path string, since time.Time, limit int) ([]LoggedEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ValidationError(fmt.Sprintf("event log %s does not exist", path))
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineSize)

	var events []LoggedEvent
	for scanner.Scan() {
		var e LoggedEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if !e.Timestamp.After(since) {
			continue
		}
		events = append(events, e)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event log: %w", err)
	}
	return events, nil
}

// Replay publishes the logged events to b in their original order.
func Replay(ctx context.Context, b Bus, events []LoggedEvent) error {
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Publish(ctx, e.Topic, e.Event); err != nil {
			return fmt.Errorf("failed to replay event %s: %w", e.Event.ID, err)
		}
	}
	return nil
}

// Close closes the log file. Closing twice is a no-op.
func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.encoder = nil
	if err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	return nil
}

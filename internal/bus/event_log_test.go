package bus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
)

func TestEventLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "runs", "events.jsonl")

	t.Run("disabled", func(t *testing.T) {
		l, err := NewEventLogger("")
		if err != nil {
			t.Fatalf("NewEventLogger() error = %v", err)
		}
		defer l.Close()

		if l.Enabled() {
			t.Error("expected logger to be disabled")
		}
		if err := l.Log(TopicGather, Event{ID: "ignored"}); err != nil {
			t.Errorf("Log() error = %v", err)
		}
	})

	t.Run("log and read", func(t *testing.T) {
		l, err := NewEventLogger(logPath)
		if err != nil {
			t.Fatalf("NewEventLogger() error = %v", err)
		}

		for _, id := range []string{"e1", "e2", "e3"} {
			if err := l.Log(TopicGather, Event{ID: id, Source: "0", Payload: map[string]any{"round": "mrr/1"}}); err != nil {
				t.Fatalf("Log() error = %v", err)
			}
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if err := l.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
		if err := l.Log(TopicGather, Event{ID: "late"}); err == nil {
			t.Error("expected Log() after Close() to fail")
		}

		events, err := ReadEvents(logPath, time.Time{}, 0)
		if err != nil {
			t.Fatalf("ReadEvents() error = %v", err)
		}
		if len(events) != 3 || events[0].Event.ID != "e1" || events[2].Event.ID != "e3" {
			t.Fatalf("ReadEvents() = %+v, want e1..e3 in order", events)
		}
		if events[0].Topic != TopicGather {
			t.Errorf("Topic = %q, want %q", events[0].Topic, TopicGather)
		}

		limited, err := ReadEvents(logPath, time.Time{}, 2)
		if err != nil || len(limited) != 2 {
			t.Errorf("ReadEvents(limit 2) = %d events, %v", len(limited), err)
		}

		later, err := ReadEvents(logPath, time.Now().Add(time.Hour), 0)
		if err != nil || len(later) != 0 {
			t.Errorf("ReadEvents(future) = %d events, %v", len(later), err)
		}
	})

	t.Run("malformed lines skipped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.jsonl")
		content := "not json\n" + `{"event":{"id":"ok"},"topic":"rankeval.gather","timestamp":"2026-01-02T03:04:05Z"}` + "\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		events, err := ReadEvents(path, time.Time{}, 0)
		if err != nil {
			t.Fatalf("ReadEvents() error = %v", err)
		}
		if len(events) != 1 || events[0].Event.ID != "ok" {
			t.Errorf("ReadEvents() = %+v, want the one valid line", events)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadEvents(filepath.Join(t.TempDir(), "none.jsonl"), time.Time{}, 0)
		if !apperrors.IsValidation(err) {
			t.Errorf("ReadEvents() error = %v, want validation error", err)
		}
	})
}

func TestLoggedBus(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	events, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger() error = %v", err)
	}

	b := NewLoggedBus(NewMemoryBus(nil), events, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	if err := b.Subscribe(context.Background(), TopicGather, func(ctx context.Context, e Event) error {
		wg.Done()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, id := range []string{"a", "b"} {
		if err := b.Publish(context.Background(), TopicGather, Event{ID: id}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	waitOrFail(t, &wg, time.Second)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	logged, err := ReadEvents(logPath, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("logged %d events, want 2", len(logged))
	}

	// replaying into a fresh bus delivers the same events in order
	replayBus := NewMemoryBus(nil)
	defer replayBus.Close()

	var mu sync.Mutex
	var seen []string
	wg.Add(2)
	if err := replayBus.Subscribe(context.Background(), TopicGather, func(ctx context.Context, e Event) error {
		mu.Lock()
		seen = append(seen, e.ID)
		mu.Unlock()
		wg.Done()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := Replay(context.Background(), replayBus, logged); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	waitOrFail(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("replayed %v, want 2 events", seen)
	}
}

func TestReplay_Canceled(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Replay(ctx, b, []LoggedEvent{{Topic: TopicGather}}); err != context.Canceled {
		t.Errorf("Replay() error = %v, want context.Canceled", err)
	}
}

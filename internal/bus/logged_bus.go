package bus

import (
	"context"

	"github.com/ricesearch/rankeval/internal/pkg/logger"
)

// LoggedBus writes every published event to an EventLogger before handing
// it to the inner bus.
type LoggedBus struct {
	inner  Bus
	events *EventLogger
	log    *logger.Logger
}

// NewLoggedBus wraps inner. Close closes both the bus and the event log.
func NewLoggedBus(inner Bus, events *EventLogger, log *logger.Logger) *LoggedBus {
	if log == nil {
		log = logger.Discard()
	}
	return &LoggedBus{
		inner:  inner,
		events: events,
		log:    log,
	}
}

// Publish logs the event, then publishes it. A failed log write does not
// stop the run.
func (b *LoggedBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.events.Log(topic, event); err != nil {
		b.log.Warn("Failed to write event log", "topic", topic, "error", err)
	}
	return b.inner.Publish(ctx, topic, event)
}

// Subscribe delegates to the inner bus.
func (b *LoggedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the event log and the inner bus.
func (b *LoggedBus) Close() error {
	if err := b.events.Close(); err != nil {
		b.log.Warn("Failed to close event log", "error", err)
	}
	return b.inner.Close()
}

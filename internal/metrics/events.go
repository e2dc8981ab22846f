package metrics

import (
	"context"
	"strconv"

	"github.com/ricesearch/rankeval/internal/bus"
)

// EventSubscriber counts gather contributions flowing over the event bus.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
	}
}

// SubscribeToEvents subscribes to the gather topic.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	return es.bus.Subscribe(ctx, bus.TopicGather, es.handleGather)
}

// handleGather reads the contributing rank from the event source.
func (es *EventSubscriber) handleGather(ctx context.Context, event bus.Event) error {
	rank, err := strconv.Atoi(event.Source)
	if err != nil {
		return nil // not published by a gatherer
	}
	es.metrics.RecordGatherContribution(rank)
	return nil
}

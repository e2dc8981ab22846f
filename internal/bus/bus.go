// Package bus provides event bus implementations used to exchange metric
// state between the ranks of a distributed run.
package bus

import (
	"context"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "gather.contribution").
	Type string `json:"type"`

	// Source is the rank or service that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created.
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links related events, e.g. all contributions of a round.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data. After a round trip through an
	// external broker it is the generic JSON decoding of the original value.
	Payload any `json:"payload"`
}

// TopicGather carries per-rank state contributions for all-gather rounds.
const TopicGather = "rankeval.gather"

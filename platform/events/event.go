// Package events carries lead lifecycle notifications from the orchestrator
// to its side effects (agent emails, dashboard stream, sweeps) without those
// packages importing each other.
package events

import (
	"context"
	"time"
)

// Event is anything published on the bus. Names are dotted, e.g. "lead.created".
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent is embedded by every lead and call event.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// Handler reacts to one published event. A returned error is logged by the
// bus and never reaches the publisher of an async Publish.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc lets a closure subscribe.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans events out to the handlers subscribed to their name.
type Bus interface {
	// Publish returns immediately; handlers run in the background.
	Publish(ctx context.Context, event Event)
	// PublishSync runs the handlers before returning and joins their errors.
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}

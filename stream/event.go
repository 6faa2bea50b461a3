// Package stream provides a real-time event broker for render job events.
// It bridges the extension hooks to connected clients (the HTTP API serves
// them as Server-Sent Events) via topic-based pub/sub. Slow subscribers
// lose events; publishing never blocks.
package stream

import (
	"encoding/json"
	"time"

	"github.com/xraph/renderq/event"
)

// EventType identifies the kind of event. Job events reuse the transition
// type names (render.queued, render.started, ...).
type EventType string

const (
	EventProgress            EventType = EventType(event.TypeProgress)
	EventWebhookRegistered   EventType = "webhook.registered"
	EventWebhookUnregistered EventType = "webhook.unregistered"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// ID is the id of the underlying event, usable as an SSE id.
	ID string `json:"id,omitempty"`

	// Type identifies the event.
	Type EventType `json:"type"`

	// Timestamp is when the event happened.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// Render returns the event as an SSE frame body: the JSON envelope.
func (e *Event) Render() ([]byte, error) {
	return json.Marshal(e)
}

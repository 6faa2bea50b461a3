package webhook

import (
	"encoding/json"
	"time"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/job"
)

// Payload is the body of a delivery. Field order is fixed, so the encoding
// of an event is canonical and byte-stable across retries.
type Payload struct {
	ID        string     `json:"id"`
	Type      event.Type `json:"type"`
	JobID     string     `json:"job_id"`
	FromState job.State  `json:"from_state,omitempty"`
	ToState   job.State  `json:"to_state"`
	Attempt   int        `json:"attempt"`
	Error     string     `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// NewPayload builds the delivery body for a transition.
func NewPayload(t event.Transition) Payload {
	return Payload{
		ID:        t.ID.String(),
		Type:      t.Type(),
		JobID:     t.JobID.String(),
		FromState: t.From,
		ToState:   t.To,
		Attempt:   t.Attempt,
		Error:     t.Error,
		Timestamp: t.At.UTC().Format(time.RFC3339Nano),
	}
}

// Encode returns the canonical JSON body.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

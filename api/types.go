package api

import (
	"encoding/json"
	"time"

	"github.com/xraph/renderq/cron"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/engine"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/metrics"
	"github.com/xraph/renderq/webhook"
)

// ── Jobs ────────────────────────────────────────────

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	Kind        string          `json:"kind"`
	Priority    string          `json:"priority"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts"`
	// Timeout is a Go duration string such as "90s".
	Timeout string     `json:"timeout"`
	RunAt   *time.Time `json:"run_at"`
}

// ListJobsRequest holds the query of GET /v1/jobs.
type ListJobsRequest struct {
	State  string `form:"state"`
	Limit  int    `form:"limit" binding:"omitempty,min=0,max=500"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// JobResponse is a job with its payload inlined as JSON. Payloads that are
// not JSON are sent as a base64 string.
type JobResponse struct {
	*job.Job
	Payload json.RawMessage `json:"payload"`
}

// NewJobResponse wraps j for the wire.
func NewJobResponse(j *job.Job) *JobResponse {
	return &JobResponse{Job: j, Payload: rawPayload(j.Payload)}
}

// ── Dead letter queue ───────────────────────────────

// ListDLQRequest holds the query of GET /v1/dlq.
type ListDLQRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=0,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// DLQEntryResponse is a dead-letter entry with its payload inlined.
type DLQEntryResponse struct {
	*dlq.Entry
	Payload json.RawMessage `json:"payload"`
}

// NewDLQEntryResponse wraps e for the wire.
func NewDLQEntryResponse(e *dlq.Entry) *DLQEntryResponse {
	return &DLQEntryResponse{Entry: e, Payload: rawPayload(e.Payload)}
}

// PurgeDLQRequest is the body of POST /v1/dlq/purge. Exactly one of Before
// and OlderThan must be set.
type PurgeDLQRequest struct {
	Before *time.Time `json:"before"`
	// OlderThan is a Go duration string measured back from now.
	OlderThan string `json:"older_than"`
}

// PurgeDLQResponse reports how many entries were removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// ── Webhooks ────────────────────────────────────────

// RegisterWebhookRequest is the body of POST /v1/webhooks.
type RegisterWebhookRequest struct {
	URL     string            `json:"url" binding:"required"`
	Secret  string            `json:"secret"`
	Events  []string          `json:"events"`
	Headers map[string]string `json:"headers"`
}

// WebhookResponse is a subscription with its delivery statistics.
type WebhookResponse struct {
	*webhook.Subscription
	Stats *webhook.Stats `json:"stats,omitempty"`
}

// ── Queue and stats ─────────────────────────────────

// QueueResponse reports whether dispatch is paused.
type QueueResponse struct {
	Paused bool `json:"paused"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse = engine.Stats

// MetricsResponse is the body of GET /v1/metrics.
type MetricsResponse = metrics.Snapshot

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ── Schedules ───────────────────────────────────────

// ScheduleResponse is a cron entry with its payload inlined.
type ScheduleResponse struct {
	cron.Entry
	Payload json.RawMessage `json:"payload"`
}

// NewScheduleResponse converts a cron entry.
func NewScheduleResponse(e cron.Entry) ScheduleResponse {
	return ScheduleResponse{Entry: e, Payload: rawPayload(e.Payload)}
}

func rawPayload(p []byte) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(p) {
		return json.RawMessage(p)
	}
	raw, _ := json.Marshal(p) //nolint:errchkjson // []byte always marshals
	return raw
}

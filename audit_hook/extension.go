package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.JobTransitioned     = (*Extension)(nil)
	_ ext.SubscriptionChanged = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges job and webhook events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnJobTransition implements ext.JobTransitioned.
func (e *Extension) OnJobTransition(ctx context.Context, t event.Transition) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	switch t.To {
	case job.StateFailed, job.StateCancelled:
		severity, outcome = SeverityWarning, OutcomeFailure
	case job.StateDeadLettered:
		severity, outcome = SeverityCritical, OutcomeFailure
	case job.StateQueued:
		if t.From == job.StateFailed {
			severity = SeverityWarning
		}
	}

	meta := map[string]any{
		"kind":         t.JobKind,
		"priority":     t.Priority.String(),
		"from_state":   string(t.From),
		"to_state":     string(t.To),
		"attempt":      t.Attempt,
		"max_attempts": t.MaxAttempts,
	}
	if t.To.IsTerminal() {
		meta["latency_ms"] = t.Latency().Milliseconds()
	}

	var reason string
	if t.To != job.StateCompleted {
		reason = t.Error
	}
	return e.record(ctx, &AuditEvent{
		Action:     string(t.Type()),
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: t.JobID.String(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
		Timestamp:  t.At,
	})
}

// OnSubscriptionChange implements ext.SubscriptionChanged.
func (e *Extension) OnSubscriptionChange(ctx context.Context, c event.SubscriptionChange) error {
	action := ActionWebhookRegistered
	if c.Action == event.SubscriptionUnregistered {
		action = ActionWebhookRemoved
	}
	return e.record(ctx, &AuditEvent{
		Action:     action,
		Resource:   ResourceSubscription,
		Category:   CategoryWebhook,
		ResourceID: c.SubscriptionID.String(),
		Metadata:   map[string]any{"url": c.URL},
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Timestamp:  c.At,
	})
}

// record hands evt to the recorder. Recorder errors are logged, never
// returned, so auditing cannot fail a transition.
func (e *Extension) record(ctx context.Context, evt *AuditEvent) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}
	if evt.Reason != "" {
		evt.Metadata["error"] = evt.Reason
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}

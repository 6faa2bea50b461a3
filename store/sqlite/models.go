package sqlite

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/webhook"
)

// Timestamps are stored as UTC unix nanoseconds so that range queries
// compare integers.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNullNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := toNanos(*t)
	return &n
}

func fromNullNanos(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}

// ── Job model ─────────────────────────────────────────────────────

const jobColumns = `id, kind, payload, state, priority, seq, attempt, max_attempts,
	progress, stage, last_error, worker_id, timeout, next_eligible_at,
	started_at, completed_at, heartbeat_at, created_at, updated_at`

type jobModel struct {
	ID             string `db:"id"`
	Kind           string `db:"kind"`
	Payload        []byte `db:"payload"`
	State          string `db:"state"`
	Priority       int    `db:"priority"`
	Seq            int64  `db:"seq"`
	Attempt        int    `db:"attempt"`
	MaxAttempts    int    `db:"max_attempts"`
	Progress       int    `db:"progress"`
	Stage          string `db:"stage"`
	LastError      string `db:"last_error"`
	WorkerID       string `db:"worker_id"`
	Timeout        int64  `db:"timeout"`
	NextEligibleAt int64  `db:"next_eligible_at"`
	StartedAt      *int64 `db:"started_at"`
	CompletedAt    *int64 `db:"completed_at"`
	HeartbeatAt    *int64 `db:"heartbeat_at"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	payload := j.Payload
	if payload == nil {
		payload = []byte{}
	}
	return &jobModel{
		ID:             j.ID.String(),
		Kind:           j.Kind,
		Payload:        payload,
		State:          string(j.State),
		Priority:       int(j.Priority),
		Seq:            j.Seq,
		Attempt:        j.Attempt,
		MaxAttempts:    j.MaxAttempts,
		Progress:       j.Progress,
		Stage:          j.Stage,
		LastError:      j.LastError,
		WorkerID:       j.WorkerID.String(),
		Timeout:        j.Timeout.Nanoseconds(),
		NextEligibleAt: toNanos(j.NextEligibleAt),
		StartedAt:      toNullNanos(j.StartedAt),
		CompletedAt:    toNullNanos(j.CompletedAt),
		HeartbeatAt:    toNullNanos(j.HeartbeatAt),
		CreatedAt:      toNanos(j.CreatedAt),
		UpdatedAt:      toNanos(j.UpdatedAt),
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "renderq/sqlite: parse job id %q", m.ID)
	}

	j := &job.Job{
		Entity: renderq.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:             jobID,
		Kind:           m.Kind,
		Payload:        m.Payload,
		State:          job.State(m.State),
		Priority:       job.Priority(m.Priority),
		Seq:            m.Seq,
		Attempt:        m.Attempt,
		MaxAttempts:    m.MaxAttempts,
		Progress:       m.Progress,
		Stage:          m.Stage,
		LastError:      m.LastError,
		Timeout:        time.Duration(m.Timeout),
		NextEligibleAt: fromNanos(m.NextEligibleAt),
		StartedAt:      fromNullNanos(m.StartedAt),
		CompletedAt:    fromNullNanos(m.CompletedAt),
		HeartbeatAt:    fromNullNanos(m.HeartbeatAt),
	}

	if m.WorkerID != "" {
		if workerID, wErr := id.ParseWorkerID(m.WorkerID); wErr == nil {
			j.WorkerID = workerID
		}
	}
	return j, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqModel struct {
	ID          string `db:"id"`
	JobID       string `db:"job_id"`
	Kind        string `db:"kind"`
	Priority    int    `db:"priority"`
	Payload     []byte `db:"payload"`
	Error       string `db:"error"`
	Attempt     int    `db:"attempt"`
	MaxAttempts int    `db:"max_attempts"`
	FailedAt    int64  `db:"failed_at"`
	ReplayedAt  *int64 `db:"replayed_at"`
	CreatedAt   int64  `db:"created_at"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}
	return &dlqModel{
		ID:          e.ID.String(),
		JobID:       e.JobID.String(),
		Kind:        e.Kind,
		Priority:    int(e.Priority),
		Payload:     payload,
		Error:       e.Error,
		Attempt:     e.Attempt,
		MaxAttempts: e.MaxAttempts,
		FailedAt:    toNanos(e.FailedAt),
		ReplayedAt:  toNullNanos(e.ReplayedAt),
		CreatedAt:   toNanos(e.CreatedAt),
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "renderq/sqlite: parse dlq id %q", m.ID)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, errors.Wrapf(err, "renderq/sqlite: parse dlq job id %q", m.JobID)
	}
	return &dlq.Entry{
		ID:          entryID,
		JobID:       jobID,
		Kind:        m.Kind,
		Priority:    job.Priority(m.Priority),
		Payload:     m.Payload,
		Error:       m.Error,
		Attempt:     m.Attempt,
		MaxAttempts: m.MaxAttempts,
		FailedAt:    fromNanos(m.FailedAt),
		ReplayedAt:  fromNullNanos(m.ReplayedAt),
		CreatedAt:   fromNanos(m.CreatedAt),
	}, nil
}

// ── Subscription model ────────────────────────────────────────────

const subscriptionColumns = `id, url, secret, events, headers, active, circuit_state,
	failure_count, cooldown, open_until, last_attempt_at, created_at, updated_at`

type subscriptionModel struct {
	ID            string `db:"id"`
	URL           string `db:"url"`
	Secret        string `db:"secret"`
	Events        string `db:"events"`
	Headers       string `db:"headers"`
	Active        bool   `db:"active"`
	CircuitState  string `db:"circuit_state"`
	FailureCount  int    `db:"failure_count"`
	Cooldown      int64  `db:"cooldown"`
	OpenUntil     *int64 `db:"open_until"`
	LastAttemptAt *int64 `db:"last_attempt_at"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

func toSubscriptionModel(s *webhook.Subscription) (*subscriptionModel, error) {
	events := s.Events
	if events == nil {
		events = []event.Type{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: marshal events")
	}
	headers := s.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: marshal headers")
	}
	return &subscriptionModel{
		ID:            s.ID.String(),
		URL:           s.URL,
		Secret:        s.Secret,
		Events:        string(eventsJSON),
		Headers:       string(headersJSON),
		Active:        s.Active,
		CircuitState:  string(s.CircuitState),
		FailureCount:  s.FailureCount,
		Cooldown:      s.Cooldown.Nanoseconds(),
		OpenUntil:     toNullNanos(s.OpenUntil),
		LastAttemptAt: toNullNanos(s.LastAttemptAt),
		CreatedAt:     toNanos(s.CreatedAt),
		UpdatedAt:     toNanos(s.UpdatedAt),
	}, nil
}

func fromSubscriptionModel(m *subscriptionModel) (*webhook.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "renderq/sqlite: parse subscription id %q", m.ID)
	}
	s := &webhook.Subscription{
		Entity: renderq.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:            subID,
		URL:           m.URL,
		Secret:        m.Secret,
		Active:        m.Active,
		CircuitState:  webhook.CircuitState(m.CircuitState),
		FailureCount:  m.FailureCount,
		Cooldown:      time.Duration(m.Cooldown),
		OpenUntil:     fromNullNanos(m.OpenUntil),
		LastAttemptAt: fromNullNanos(m.LastAttemptAt),
	}
	if err := json.Unmarshal([]byte(m.Events), &s.Events); err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: unmarshal events")
	}
	if len(s.Events) == 0 {
		s.Events = nil
	}
	if err := json.Unmarshal([]byte(m.Headers), &s.Headers); err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: unmarshal headers")
	}
	if len(s.Headers) == 0 {
		s.Headers = nil
	}
	return s, nil
}

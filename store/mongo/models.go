package mongo

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/webhook"
)

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

type jobModel struct {
	ID             string `bson:"_id"`
	Rev            int64  `bson:"rev"`
	Kind           string `bson:"kind"`
	Payload        []byte `bson:"payload"`
	State          string `bson:"state"`
	Priority       int    `bson:"priority"`
	Seq            int64  `bson:"seq"`
	Attempt        int    `bson:"attempt"`
	MaxAttempts    int    `bson:"max_attempts"`
	Progress       int    `bson:"progress"`
	Stage          string `bson:"stage"`
	LastError      string `bson:"last_error"`
	WorkerID       string `bson:"worker_id"`
	Timeout        int64  `bson:"timeout"`
	NextEligibleAt int64  `bson:"next_eligible_at"`
	StartedAt      *int64 `bson:"started_at"`
	CompletedAt    *int64 `bson:"completed_at"`
	HeartbeatAt    *int64 `bson:"heartbeat_at"`
	CreatedAt      int64  `bson:"created_at"`
	UpdatedAt      int64  `bson:"updated_at"`
}

func toJobModel(j *job.Job, rev int64) *jobModel {
	payload := j.Payload
	if payload == nil {
		payload = []byte{}
	}
	m := &jobModel{
		ID:             j.ID.String(),
		Rev:            rev,
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
		Timeout:        j.Timeout.Nanoseconds(),
		NextEligibleAt: toNanos(j.NextEligibleAt),
		StartedAt:      toNullNanos(j.StartedAt),
		CompletedAt:    toNullNanos(j.CompletedAt),
		HeartbeatAt:    toNullNanos(j.HeartbeatAt),
		CreatedAt:      toNanos(j.CreatedAt),
		UpdatedAt:      toNanos(j.UpdatedAt),
	}
	if !j.WorkerID.IsNil() {
		m.WorkerID = j.WorkerID.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "renderq/mongo: parse job id %q", m.ID)
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
	if j.Payload == nil {
		j.Payload = []byte{}
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
	ID          string `bson:"_id"`
	JobID       string `bson:"job_id"`
	Kind        string `bson:"kind"`
	Priority    int    `bson:"priority"`
	Payload     []byte `bson:"payload"`
	Error       string `bson:"error"`
	Attempt     int    `bson:"attempt"`
	MaxAttempts int    `bson:"max_attempts"`
	FailedAt    int64  `bson:"failed_at"`
	ReplayedAt  *int64 `bson:"replayed_at"`
	CreatedAt   int64  `bson:"created_at"`
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
		return nil, errors.Wrapf(err, "renderq/mongo: parse dlq id %q", m.ID)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, errors.Wrapf(err, "renderq/mongo: parse dlq job id %q", m.JobID)
	}
	e := &dlq.Entry{
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
	}
	if e.Payload == nil {
		e.Payload = []byte{}
	}
	return e, nil
}

// ── Subscription model ────────────────────────────────────────────

type subscriptionModel struct {
	ID            string            `bson:"_id"`
	URL           string            `bson:"url"`
	Secret        string            `bson:"secret"`
	Events        []string          `bson:"events"`
	Headers       map[string]string `bson:"headers"`
	Active        bool              `bson:"active"`
	CircuitState  string            `bson:"circuit_state"`
	FailureCount  int               `bson:"failure_count"`
	Cooldown      int64             `bson:"cooldown"`
	OpenUntil     *int64            `bson:"open_until"`
	LastAttemptAt *int64            `bson:"last_attempt_at"`
	CreatedAt     int64             `bson:"created_at"`
	UpdatedAt     int64             `bson:"updated_at"`
}

func toSubscriptionModel(s *webhook.Subscription) *subscriptionModel {
	events := make([]string, 0, len(s.Events))
	for _, t := range s.Events {
		events = append(events, string(t))
	}
	return &subscriptionModel{
		ID:            s.ID.String(),
		URL:           s.URL,
		Secret:        s.Secret,
		Events:        events,
		Headers:       s.Headers,
		Active:        s.Active,
		CircuitState:  string(s.CircuitState),
		FailureCount:  s.FailureCount,
		Cooldown:      s.Cooldown.Nanoseconds(),
		OpenUntil:     toNullNanos(s.OpenUntil),
		LastAttemptAt: toNullNanos(s.LastAttemptAt),
		CreatedAt:     toNanos(s.CreatedAt),
		UpdatedAt:     toNanos(s.UpdatedAt),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*webhook.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "renderq/mongo: parse subscription id %q", m.ID)
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
	for _, t := range m.Events {
		s.Events = append(s.Events, event.Type(t))
	}
	if len(m.Headers) > 0 {
		s.Headers = m.Headers
	}
	return s, nil
}

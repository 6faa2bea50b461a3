package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/metrics"
	"github.com/xraph/renderq/stream"
)

// Stats is a point-in-time view of the queue read from the store and the
// worker pool.
type Stats struct {
	Jobs        map[job.State]int64 `json:"jobs"`
	DeadLetters int64               `json:"dead_letters"`
	Workers     int                 `json:"workers"`
	Busy        int                 `json:"busy"`
	Paused      bool                `json:"paused"`
	Stream      stream.BrokerStats  `json:"stream"`
}

// Enqueue JSON-encodes payload and submits it.
func Enqueue[T any](ctx context.Context, eng *Engine, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal render payload")
	}
	return eng.Submit(ctx, data, opts...)
}

// Submit creates a queued job and wakes an idle slot. Unset attempt budget
// and timeout take the configured defaults.
func (eng *Engine) Submit(ctx context.Context, payload []byte, opts ...job.Option) (*job.Job, error) {
	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if !o.Priority.Valid() {
		return nil, errors.Wrapf(renderq.ErrInvalidPriority, "%d", int(o.Priority))
	}
	if o.MaxAttempts < 0 || o.Timeout < 0 {
		return nil, errors.Wrap(renderq.ErrInvalidConfig, "max attempts and timeout must not be negative")
	}
	if _, ok := eng.registry.Lookup(o.Kind); !ok {
		return nil, errors.Wrapf(renderq.ErrNoExecutor, "kind %q", o.Kind)
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = eng.config.DefaultMaxAttempts
	}
	if o.Timeout == 0 {
		o.Timeout = eng.config.DefaultTimeout
	}
	if payload == nil {
		payload = []byte{}
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:         renderq.NewEntity(),
		ID:             id.NewJobID(),
		Kind:           o.Kind,
		Payload:        payload,
		State:          job.StateQueued,
		Priority:       o.Priority,
		MaxAttempts:    o.MaxAttempts,
		Timeout:        o.Timeout,
		NextEligibleAt: now,
	}
	if !o.RunAt.IsZero() {
		j.NextEligibleAt = o.RunAt.UTC()
	}

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobTransition(ctx, event.NewTransition("", j))
	eng.dispatcher.Wake()

	eng.logger.Debug("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", j.Kind),
		slog.String("priority", j.Priority.String()),
		slog.Int("max_attempts", j.MaxAttempts),
	)
	return j.Clone(), nil
}

// Cancel moves a queued or active job to cancelled. A running task is
// signalled and its slot reclaimed after the grace period. It returns an
// error matching renderq.ErrJobNotFound for unknown ids and
// renderq.ErrConflict when the job is already terminal.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.CancelJob(ctx, jobID)
	if err != nil {
		return err
	}

	// Requeued jobs have StartedAt cleared, so a set StartedAt means the
	// job was active when cancelled.
	from := job.StateQueued
	if j.StartedAt != nil {
		from = job.StateActive
		eng.pool.Abort(j.ID)
	}
	eng.extensions.EmitJobTransition(ctx, event.NewTransition(from, j))

	eng.logger.Info("job cancelled",
		slog.String("job_id", j.ID.String()),
		slog.String("from", string(from)),
		slog.Int("attempt", j.Attempt),
	)
	return nil
}

// Status returns the current state of a job.
func (eng *Engine) Status(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// List returns jobs in state, in dispatch order.
func (eng *Engine) List(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	if !state.Valid() {
		return nil, errors.Wrapf(renderq.ErrInvalidConfig, "unknown state %q", state)
	}
	return eng.store.ListJobsByState(ctx, state, opts)
}

// Metrics returns the collector's current snapshot. Counts are best-effort
// and reset on restart.
func (eng *Engine) Metrics() metrics.Snapshot {
	return eng.collector.Snapshot()
}

// Stats reads per-state counts and the dead-letter backlog from the store.
func (eng *Engine) Stats(ctx context.Context) (Stats, error) {
	counts, err := eng.store.CountJobs(ctx)
	if err != nil {
		return Stats{}, err
	}
	dead, err := eng.store.CountDLQ(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Jobs:        counts,
		DeadLetters: dead,
		Workers:     eng.pool.Capacity(),
		Busy:        eng.pool.ActiveCount(),
		Paused:      eng.dispatcher.Paused(),
		Stream:      eng.broker.Stats(),
	}, nil
}

// Pause stops dispatching. Queued jobs stay queued and active jobs run to
// completion.
func (eng *Engine) Pause() {
	eng.dispatcher.Pause()
	eng.logger.Info("dispatch paused")
}

// Resume restarts dispatching.
func (eng *Engine) Resume() {
	eng.dispatcher.Resume()
	eng.logger.Info("dispatch resumed")
}

// ── Dead letter queue ──────────────────────────────

// DeadLetters lists dead-letter entries, most recent failure first.
func (eng *Engine) DeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return eng.store.ListDLQ(ctx, opts)
}

// DeadLetter returns one dead-letter entry.
func (eng *Engine) DeadLetter(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return eng.store.GetDLQ(ctx, entryID)
}

// Replay submits a new job from a dead-letter entry. The dead-lettered job
// itself stays terminal.
func (eng *Engine) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	return eng.dlqService.Replay(ctx, entryID)
}

// Purge removes dead-letter entries that failed before the cut-off.
func (eng *Engine) Purge(ctx context.Context, before time.Time) (int64, error) {
	return eng.store.PurgeDLQ(ctx, before)
}

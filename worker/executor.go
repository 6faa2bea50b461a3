package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/middleware"
	"github.com/xraph/renderq/retry"
)

// Executor runs a single attempt through middleware and the registered task
// executor, then drives the job through the state machine: completion,
// retry scheduling, dead-lettering and the lifecycle events for each step.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	policy     *retry.Policy
	mw         middleware.Middleware
	logger     *slog.Logger

	progressInterval time.Duration
	onRetry          func()
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	policy *retry.Policy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if policy == nil {
		policy = retry.NewPolicy(nil)
	}
	return &Executor{
		registry:         registry,
		extensions:       extensions,
		store:            store,
		dlqService:       dlqService,
		policy:           policy,
		mw:               middleware.Chain(mws...),
		logger:           logger,
		progressInterval: time.Second,
	}
}

// SetProgressInterval throttles progress persistence and events. Reports of
// 100% and stage changes always pass.
func (e *Executor) SetProgressInterval(d time.Duration) { e.progressInterval = d }

// OnRetry registers a callback fired after a retry has been scheduled. The
// pool uses it to wake the dispatcher.
func (e *Executor) OnRetry(fn func()) { e.onRetry = fn }

// Started publishes the dispatch of j, which the dispatcher has already
// moved to active.
func (e *Executor) Started(ctx context.Context, j *job.Job) {
	e.extensions.EmitJobTransition(ctx, event.NewTransition(job.StateQueued, j))
}

// Run executes one attempt of j and returns the task's error. It does not
// touch job state.
func (e *Executor) Run(ctx context.Context, j *job.Job) error {
	executor, ok := e.registry.Lookup(j.Kind)
	if !ok {
		return errors.Wrapf(renderq.ErrNoExecutor, "kind %q", j.Kind)
	}

	progress := e.progressFunc(ctx, j)
	terminal := func(ctx context.Context) error {
		return executor.Execute(ctx, j.Payload, progress)
	}
	return e.mw(ctx, j, terminal)
}

// Finish applies the outcome of an attempt. A nil taskErr completes the
// job; anything else fails it and consults the retry policy. If the job has
// moved on in the meantime (cancelled, reaped) the outcome is discarded.
func (e *Executor) Finish(ctx context.Context, j *job.Job, taskErr error) {
	if taskErr != nil {
		e.Fail(ctx, j, taskErr)
		return
	}

	done, err := e.store.UpdateJobState(ctx, j.ID, job.Transition{
		From:    job.StateActive,
		To:      job.StateCompleted,
		Attempt: j.Attempt,
	})
	if err != nil {
		e.logDiscarded(j, "completion", err)
		return
	}
	e.extensions.EmitJobTransition(ctx, event.NewTransition(job.StateActive, done))
}

// Fail moves an active attempt to failed with cause, then either requeues
// it after a backoff delay or dead-letters it.
func (e *Executor) Fail(ctx context.Context, j *job.Job, cause error) {
	failed, err := e.store.UpdateJobState(ctx, j.ID, job.Transition{
		From:    job.StateActive,
		To:      job.StateFailed,
		Error:   cause.Error(),
		Attempt: j.Attempt,
	})
	if err != nil {
		e.logDiscarded(j, "failure", err)
		return
	}
	e.extensions.EmitJobTransition(ctx, event.NewTransition(job.StateActive, failed))

	decision := e.policy.Decide(failed, time.Now())
	t := decision.Transition()
	t.Attempt = failed.Attempt
	next, err := e.store.UpdateJobState(ctx, failed.ID, t)
	if err != nil {
		// Nothing else moves a failed job, so this is a store fault. The
		// job stays failed and is visible to operators.
		e.logger.Error("failed to apply retry decision",
			slog.String("job_id", failed.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.extensions.EmitJobTransition(ctx, event.NewTransition(job.StateFailed, next))

	if decision.Retry {
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", next.ID.String()),
			slog.Int("attempt", next.Attempt),
			slog.Int("max_attempts", next.MaxAttempts),
			slog.Duration("delay", decision.Delay),
			slog.String("error", cause.Error()),
		)
		if e.onRetry != nil {
			e.onRetry()
		}
		return
	}

	if e.dlqService != nil {
		if err := e.dlqService.Push(ctx, next, cause); err != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", next.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	e.logger.Warn("job dead-lettered after exhausting attempts",
		slog.String("job_id", next.ID.String()),
		slog.String("kind", next.Kind),
		slog.Int("attempts", next.Attempt),
		slog.String("error", cause.Error()),
	)
}

// Cancel moves an active attempt to cancelled with reason. It reports
// whether this call made the transition.
func (e *Executor) Cancel(ctx context.Context, j *job.Job, reason string) bool {
	t := job.CancelFrom(job.StateActive)
	t.Error = reason
	t.Attempt = j.Attempt
	cancelled, err := e.store.UpdateJobState(ctx, j.ID, t)
	if err != nil {
		e.logDiscarded(j, "cancel", err)
		return false
	}
	e.extensions.EmitJobTransition(ctx, event.NewTransition(job.StateActive, cancelled))
	return true
}

// progressFunc builds the callback handed to the task executor. Reports are
// clamped, decreases dropped and the rest throttled to one store write and
// one event per progress interval.
func (e *Executor) progressFunc(ctx context.Context, j *job.Job) job.ProgressFunc {
	ctx = context.WithoutCancel(ctx)

	var (
		mu        sync.Mutex
		lastAt    time.Time
		lastPct   = -1
		lastStage string
	)

	return func(percent int, stage string) {
		percent = job.ClampProgress(percent)

		mu.Lock()
		now := time.Now()
		stageChanged := stage != "" && stage != lastStage
		switch {
		case percent < lastPct:
			mu.Unlock()
			return
		case percent == lastPct && !stageChanged:
			mu.Unlock()
			return
		case percent < 100 && !stageChanged && now.Sub(lastAt) < e.progressInterval:
			mu.Unlock()
			return
		}
		lastAt, lastPct = now, percent
		if stage != "" {
			lastStage = stage
		}
		mu.Unlock()

		updated, err := e.store.UpdateJobProgress(ctx, j.ID, j.Attempt, percent, stage)
		if err != nil {
			e.logger.Debug("progress report dropped",
				slog.String("job_id", j.ID.String()),
				slog.Int("percent", percent),
				slog.String("error", err.Error()),
			)
			return
		}
		e.extensions.EmitJobProgress(ctx, event.NewProgress(updated))
	}
}

func (e *Executor) logDiscarded(j *job.Job, what string, err error) {
	if renderq.IsConflict(err) {
		e.logger.Debug("attempt outcome discarded, job moved on",
			slog.String("job_id", j.ID.String()),
			slog.String("outcome", what),
			slog.Int("attempt", j.Attempt),
			slog.String("reason", err.Error()),
		)
		return
	}
	e.logger.Error("failed to record attempt outcome",
		slog.String("job_id", j.ID.String()),
		slog.String("outcome", what),
		slog.String("error", err.Error()),
	)
}

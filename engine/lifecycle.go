package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/store"
	"github.com/xraph/renderq/webhook"
)

// ──────────────────────────────────────────────────
// Sinks
// ──────────────────────────────────────────────────

// sinkGroup starts the webhook dispatcher and the lifecycle extensions, and
// stops them concurrently once the pool has drained.
type sinkGroup struct {
	webhooks   *webhook.Dispatcher
	extensions []lifecycle
}

func (g *sinkGroup) Start(ctx context.Context) error {
	if err := g.webhooks.Start(ctx); err != nil {
		return err
	}
	for i, e := range g.extensions {
		if err := e.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = g.extensions[j].Stop(ctx)
			}
			_ = g.webhooks.Stop(ctx)
			return err
		}
	}
	return nil
}

func (g *sinkGroup) Stop(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.webhooks.Stop(ctx) })
	for _, e := range g.extensions {
		eg.Go(func() error { return e.Stop(ctx) })
	}
	return eg.Wait()
}

// ──────────────────────────────────────────────────
// Janitor
// ──────────────────────────────────────────────────

// janitor purges terminal jobs and dead-letter entries past their
// retention.
type janitor struct {
	store  store.Store
	logger *slog.Logger

	interval           time.Duration
	completedRetention time.Duration
	deadRetention      time.Duration
	now                func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newJanitor(s store.Store, config renderq.Config, logger *slog.Logger) *janitor {
	return &janitor{
		store:              s,
		logger:             logger,
		interval:           config.CleanupInterval,
		completedRetention: config.CompletedRetention,
		deadRetention:      config.DeadRetention,
		now:                time.Now,
	}
}

func (j *janitor) Start(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.interval <= 0 || j.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.loop(ctx)
	return nil
}

func (j *janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel = nil
	j.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *janitor) loop(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// sweep runs one purge pass. Zero retentions keep data forever.
func (j *janitor) sweep(ctx context.Context) {
	now := j.now().UTC()

	if j.completedRetention > 0 {
		j.purgeJobs(ctx, []job.State{job.StateCompleted, job.StateCancelled}, now.Add(-j.completedRetention))
	}
	if j.deadRetention <= 0 {
		return
	}
	cutoff := now.Add(-j.deadRetention)
	j.purgeJobs(ctx, []job.State{job.StateDeadLettered}, cutoff)

	n, err := j.store.PurgeDLQ(ctx, cutoff)
	if err != nil {
		j.logger.Error("dlq purge failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		j.logger.Info("dlq entries purged", slog.Int64("count", n))
	}
}

func (j *janitor) purgeJobs(ctx context.Context, states []job.State, before time.Time) {
	n, err := j.store.PurgeJobs(ctx, states, before)
	if err != nil {
		j.logger.Error("job purge failed",
			slog.Any("states", states),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		j.logger.Info("terminal jobs purged",
			slog.Any("states", states),
			slog.Int64("count", n),
			slog.Time("before", before),
		)
	}
}

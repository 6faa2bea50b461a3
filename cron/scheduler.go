package cron

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/job"
)

// SubmitFunc submits one job. engine.Engine.Submit satisfies it.
type SubmitFunc func(ctx context.Context, payload []byte, opts ...job.Option) (*job.Job, error)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression. Invalid expressions match
// renderq.ErrInvalidConfig.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(renderq.ErrInvalidConfig, "cron schedule %q: %v", expr, err)
	}
	return sched, nil
}

type scheduled struct {
	entry    Entry
	schedule cronlib.Schedule
}

// Scheduler fires entries on a tick loop.
type Scheduler struct {
	submit SubmitFunc
	logger *slog.Logger
	now    func() time.Time

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*scheduled

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(submit SubmitFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		submit:       submit,
		logger:       slog.Default(),
		now:          time.Now,
		tickInterval: time.Second,
		entries:      make(map[string]*scheduled),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers an entry. Its first run is the next occurrence after now.
func (s *Scheduler) Add(e Entry) error {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return errors.Wrap(renderq.ErrInvalidConfig, "cron entry name is required")
	}
	if !e.Priority.Valid() {
		return errors.Wrapf(renderq.ErrInvalidPriority, "cron entry %q", e.Name)
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Name]; ok {
		return errors.Wrapf(renderq.ErrConflict, "cron entry %q already exists", e.Name)
	}
	e.NextRunAt = sched.Next(s.now().UTC())
	e.Payload = slices.Clone(e.Payload)
	s.entries[e.Name] = &scheduled{entry: e, schedule: sched}

	s.logger.Info("cron entry added",
		slog.String("cron_name", e.Name),
		slog.String("schedule", e.Schedule),
		slog.Time("next_run_at", e.NextRunAt),
	)
	return nil
}

// Remove deletes an entry and reports whether it existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	delete(s.entries, name)
	return ok
}

// Entries returns a snapshot of all entries ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, sc := range s.entries {
		out = append(out, sc.entry)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.tickLoop(s.stopCh)
	s.logger.Info("cron scheduler started",
		slog.Int("entries", len(s.entries)),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop ends the tick loop and waits for an in-flight tick.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return nil
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("cron scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tickLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every entry due at the current time and returns how many
// submissions succeeded.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now().UTC()

	s.mu.Lock()
	var due []Entry
	for _, sc := range s.entries {
		if !sc.entry.NextRunAt.After(now) {
			due = append(due, sc.entry)
			sc.entry.NextRunAt = sc.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	fired := 0
	for i := range due {
		if s.fire(ctx, &due[i], now) {
			fired++
		}
	}
	return fired
}

// fire submits one job for e and records the outcome on the live entry.
func (s *Scheduler) fire(ctx context.Context, e *Entry, now time.Time) bool {
	j, err := s.submit(ctx, e.Payload, e.options()...)

	s.mu.Lock()
	if sc, ok := s.entries[e.Name]; ok {
		sc.entry.LastRunAt = &now
		sc.entry.Runs++
		if err != nil {
			sc.entry.LastError = err.Error()
		} else {
			sc.entry.LastError = ""
			sc.entry.LastJobID = j.ID
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("cron submit failed",
			slog.String("cron_name", e.Name),
			slog.String("error", err.Error()),
		)
		return false
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("kind", e.Kind),
		slog.String("job_id", j.ID.String()),
	)
	return true
}

package renderq

import (
	"context"
	"log/slog"
	"time"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// Storer is the minimal store interface held by the Orchestrator.
// It covers lifecycle operations only. The composite store.Store is used by
// the subsystem layers that would otherwise create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// component is an internal interface for subsystems with a lifecycle.
type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Orchestrator is the central coordinator for render jobs.
//
// Create one with New() and functional options, then hand it to
// engine.Build, which wires the dispatcher, worker pool, webhook dispatcher
// and metrics collector into it.
type Orchestrator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	components []component

	started bool
}

// New creates a new Orchestrator with the given options.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }

// Store returns the orchestrator's store.
func (o *Orchestrator) Store() Storer { return o.store }

// Config returns a copy of the orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.config }

// AddComponent registers a subsystem started by Start, in order, and
// stopped by Stop in reverse order (called by the engine package).
func (o *Orchestrator) AddComponent(c component) { o.components = append(o.components, c) }

// SetExtensions sets the extension emitter (called by the engine package).
func (o *Orchestrator) SetExtensions(e extensionEmitter) { o.extensions = e }

// Start starts every registered component.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.store == nil {
		return ErrNoStore
	}
	for i, c := range o.components {
		if err := c.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = o.components[j].Stop(ctx)
			}
			return err
		}
	}
	o.started = true
	return nil
}

// Stop gracefully shuts the components down, emits the shutdown hook and
// closes the store.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.started {
		for i := len(o.components) - 1; i >= 0; i-- {
			if err := o.components[i].Stop(ctx); err != nil {
				o.logger.Error("component stop error", slog.String("error", err.Error()))
			}
		}
		o.started = false
	}
	if o.extensions != nil {
		o.extensions.EmitShutdown(ctx)
	}
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) error {
		o.config = c
		return nil
	}
}

// WithConcurrency sets the number of worker slots.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) error {
		o.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets the idle re-check interval of the dispatcher.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.PollInterval = d
		return nil
	}
}

// WithMaxAttempts sets the default attempt budget for new jobs.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) error {
		o.config.DefaultMaxAttempts = n
		return nil
	}
}

// WithRetryBackoff sets the retry backoff base, cap and jitter fraction.
func WithRetryBackoff(base, limit time.Duration, jitter float64) Option {
	return func(o *Orchestrator) error {
		o.config.RetryBaseDelay = base
		o.config.RetryMaxDelay = limit
		o.config.RetryJitter = jitter
		return nil
	}
}

// WithCancelGracePeriod sets how long a cancelled task may keep its slot.
func WithCancelGracePeriod(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.CancelGracePeriod = d
		return nil
	}
}

// WithHardTimeout caps slot occupancy per attempt.
func WithHardTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.HardTimeout = d
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; in practice it is a store.Store.
func WithStore(s Storer) Option {
	return func(o *Orchestrator) error {
		o.store = s
		return nil
	}
}

package engine

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/backoff"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/metrics"
	mw "github.com/xraph/renderq/middleware"
	"github.com/xraph/renderq/observability"
	"github.com/xraph/renderq/queue"
	"github.com/xraph/renderq/retry"
	"github.com/xraph/renderq/store"
	"github.com/xraph/renderq/stream"
	"github.com/xraph/renderq/webhook"
	"github.com/xraph/renderq/worker"
)

// instrumentationName is the OTel scope used for tracers and meters built
// from injected providers.
const instrumentationName = "github.com/xraph/renderq"

// Engine wraps an Orchestrator with typed subsystem access.
// Use Build() to create one from an Orchestrator.
type Engine struct {
	o          *renderq.Orchestrator
	config     renderq.Config
	store      store.Store
	extensions *ext.Registry
	registry   *job.Registry
	dlqService *dlq.Service
	bo         backoff.Strategy
	mws        []mw.Middleware
	logger     *slog.Logger

	dispatcher *queue.Dispatcher
	pool       *worker.Pool
	webhooks   *webhook.Dispatcher
	collector  *metrics.Collector
	broker     *stream.Broker

	// Queue subsystem.
	queueConfigs []queue.Config

	// Webhook subsystem.
	webhookConfig webhook.Config
	webhookOpts   []webhook.Option

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExecutor registers a task executor for kind. An empty kind sets the
// default executor used by jobs whose kind has no dedicated one.
func WithExecutor(kind string, e job.TaskExecutor) Option {
	return func(eng *Engine) {
		eng.registry.Register(kind, e)
	}
}

// WithExtension registers an extension with the engine. Extensions that
// also implement Start and Stop are started before the worker pool and
// stopped after it.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine. If not set,
// a bounded exponential strategy is built from the orchestrator's retry
// settings.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers per-priority rate limiting and concurrency
// caps. Tiers not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithWebhookConfig replaces the webhook delivery configuration.
func WithWebhookConfig(c webhook.Config) Option {
	return func(eng *Engine) {
		eng.webhookConfig = c
	}
}

// WithDoer sets the HTTP transport used for webhook deliveries.
func WithDoer(d webhook.Doer) Option {
	return func(eng *Engine) {
		eng.webhookOpts = append(eng.webhookOpts, webhook.WithDoer(d))
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// lifecycle is implemented by extensions that run background work.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Build creates an Engine from an Orchestrator.
// The Orchestrator's store must implement store.Store.
func Build(o *renderq.Orchestrator, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	config := o.Config()

	if o.Store() == nil {
		return nil, renderq.ErrNoStore
	}

	// Type-assert the store to get the composite interface.
	s, ok := o.Store().(store.Store)
	if !ok {
		return nil, errors.New("renderq: store does not implement store.Store")
	}

	eng := &Engine{
		o:             o,
		config:        config,
		store:         s,
		extensions:    ext.NewRegistry(logger),
		registry:      job.NewRegistry(),
		logger:        logger,
		webhookConfig: webhook.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if err := eng.webhookConfig.Validate(); err != nil {
		return nil, err
	}

	// Extensions registered through options that need a lifecycle.
	var sinks []lifecycle
	for _, e := range eng.extensions.Extensions() {
		if l, ok := e.(lifecycle); ok {
			sinks = append(sinks, l)
		}
	}

	if eng.bo == nil {
		bo, err := config.Backoff()
		if err != nil {
			return nil, err
		}
		eng.bo = bo
	}

	// Built-in sinks: metrics collector, stream broker, webhook dispatcher.
	eng.collector = metrics.New()
	eng.extensions.Register(eng.collector)

	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	webhookOpts := append([]webhook.Option{
		webhook.WithConfig(eng.webhookConfig),
		webhook.WithLogger(logger),
	}, eng.webhookOpts...)
	eng.webhooks = webhook.NewDispatcher(s, webhookOpts...)
	eng.extensions.Register(eng.webhooks)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and the observability extension (custom
	// provider or global).
	var (
		metricsMw mw.Middleware
		obsExt    *observability.MetricsExtension
	)
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName)
		metricsMw = mw.MetricsWithMeter(meter)
		obsExt = observability.NewMetricsExtensionWithMeter(meter, observability.WithCollector(eng.collector))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension(observability.WithCollector(eng.collector))
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Dispatcher, with tier limits if any were configured.
	dispatcherOpts := []queue.Option{
		queue.WithPollInterval(config.PollInterval),
		queue.WithLogger(logger),
	}
	if len(eng.queueConfigs) > 0 {
		dispatcherOpts = append(dispatcherOpts, queue.WithManager(queue.NewManager(eng.queueConfigs...)))
	}
	eng.dispatcher = queue.NewDispatcher(s, dispatcherOpts...)

	// Replay re-submits through the engine so that defaults and events apply.
	eng.dlqService = dlq.NewService(s, eng.Submit)

	executor := worker.NewExecutor(eng.registry, eng.extensions, s, eng.dlqService, retry.NewPolicy(eng.bo), logger, allMws...)
	executor.SetProgressInterval(config.ProgressInterval)

	eng.pool = worker.NewPool(s, eng.dispatcher, executor, logger,
		worker.WithConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithCancelGracePeriod(config.CancelGracePeriod),
		worker.WithHardTimeout(config.HardTimeout),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
	)

	// Wire back into the Orchestrator. Components stop in reverse order, so
	// the pool drains before the janitor and the sinks go away.
	o.AddComponent(&sinkGroup{webhooks: eng.webhooks, extensions: sinks})
	o.AddComponent(newJanitor(s, config, logger))
	o.AddComponent(eng.pool)
	o.SetExtensions(eng.extensions)

	return eng, nil
}

// Start seeds the metrics collector from the store and starts every
// subsystem: sinks first, then the janitor, then the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	counts, err := eng.store.CountJobs(ctx)
	if err != nil {
		return errors.Wrap(err, "renderq: seed metrics")
	}
	eng.collector.Seed(counts)
	return eng.o.Start(ctx)
}

// Stop gracefully shuts down the engine and closes the store. Without a
// deadline on ctx the configured ShutdownTimeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	return eng.o.Stop(ctx)
}

// Orchestrator returns the underlying Orchestrator.
func (eng *Engine) Orchestrator() *renderq.Orchestrator { return eng.o }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task executor registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// DLQService returns the engine's DLQ service.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Dispatcher returns the priority dispatcher.
func (eng *Engine) Dispatcher() *queue.Dispatcher { return eng.dispatcher }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// WebhookDispatcher returns the webhook dispatcher.
func (eng *Engine) WebhookDispatcher() *webhook.Dispatcher { return eng.webhooks }

// Collector returns the metrics collector.
func (eng *Engine) Collector() *metrics.Collector { return eng.collector }

// Stream returns the live event broker.
func (eng *Engine) Stream() *stream.Broker { return eng.broker }

// Register registers a typed task definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/metrics"
)

// meterName is the instrumentation scope name for renderq metrics.
const meterName = "github.com/xraph/renderq"

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.JobTransitioned     = (*MetricsExtension)(nil)
	_ ext.JobProgressed       = (*MetricsExtension)(nil)
	_ ext.SubscriptionChanged = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OpenTelemetry.
//
// Instruments:
//   - renderq.job.transitions (Int64Counter): committed transitions, with
//     attributes: event, to_state, priority, kind
//   - renderq.job.latency (Float64Histogram): submission-to-completion
//     time in seconds, with attributes: priority, kind
//   - renderq.job.progress (Int64Counter): progress reports
//   - renderq.webhook.subscriptions (Int64UpDownCounter): registered
//     webhook subscriptions
//   - renderq.jobs (Int64ObservableGauge): jobs per state, only when a
//     collector is attached
type MetricsExtension struct {
	transitions   metric.Int64Counter
	latency       metric.Float64Histogram
	progress      metric.Int64Counter
	subscriptions metric.Int64UpDownCounter
}

// Option configures a MetricsExtension.
type Option func(*options)

type options struct {
	collector *metrics.Collector
}

// WithCollector exports the collector's per-state counts as the
// renderq.jobs gauge.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension(opts ...Option) *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName), opts...)
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. This variant allows injecting a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter, opts ...Option) *MetricsExtension {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// On error the OTel API returns noop instruments.
	m := &MetricsExtension{}
	m.transitions, _ = meter.Int64Counter(
		"renderq.job.transitions",
		metric.WithDescription("Committed render job state transitions"),
		metric.WithUnit("{transition}"),
	)
	m.latency, _ = meter.Float64Histogram(
		"renderq.job.latency",
		metric.WithDescription("Time from submission to completion in seconds"),
		metric.WithUnit("s"),
	)
	m.progress, _ = meter.Int64Counter(
		"renderq.job.progress",
		metric.WithDescription("Progress reports of active render jobs"),
		metric.WithUnit("{report}"),
	)
	m.subscriptions, _ = meter.Int64UpDownCounter(
		"renderq.webhook.subscriptions",
		metric.WithDescription("Registered webhook subscriptions"),
		metric.WithUnit("{subscription}"),
	)

	if o.collector != nil {
		c := o.collector
		_, _ = meter.Int64ObservableGauge(
			"renderq.jobs",
			metric.WithDescription("Render jobs per state"),
			metric.WithUnit("{job}"),
			metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
				snap := c.Snapshot()
				for _, state := range job.States {
					obs.Observe(snap.Counts[state], metric.WithAttributes(attribute.String("state", string(state))))
				}
				return nil
			}),
		)
	}
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobTransition implements ext.JobTransitioned.
func (m *MetricsExtension) OnJobTransition(ctx context.Context, t event.Transition) error {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(t.Type())),
		attribute.String("to_state", string(t.To)),
		attribute.String("priority", t.Priority.String()),
		attribute.String("kind", t.JobKind),
	))
	if t.To == job.StateCompleted {
		m.latency.Record(ctx, t.Latency().Seconds(), metric.WithAttributes(
			attribute.String("priority", t.Priority.String()),
			attribute.String("kind", t.JobKind),
		))
	}
	return nil
}

// OnJobProgress implements ext.JobProgressed.
func (m *MetricsExtension) OnJobProgress(ctx context.Context, _ event.Progress) error {
	m.progress.Add(ctx, 1)
	return nil
}

// ── Webhook registry hooks ──────────────────────────

// OnSubscriptionChange implements ext.SubscriptionChanged.
func (m *MetricsExtension) OnSubscriptionChange(ctx context.Context, c event.SubscriptionChange) error {
	switch c.Action {
	case event.SubscriptionRegistered:
		m.subscriptions.Add(ctx, 1)
	case event.SubscriptionUnregistered:
		m.subscriptions.Add(ctx, -1)
	}
	return nil
}

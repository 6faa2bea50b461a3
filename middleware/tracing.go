package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/renderq/job"
)

// tracerName is the instrumentation scope name for renderq tracing.
const tracerName = "github.com/xraph/renderq"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: renderq.job.id, renderq.job.kind,
// renderq.job.priority, renderq.job.attempt, renderq.job.max_attempts.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "renderq.job.execute",
			trace.WithAttributes(
				attribute.String("renderq.job.id", j.ID.String()),
				attribute.String("renderq.job.kind", j.Kind),
				attribute.String("renderq.job.priority", j.Priority.String()),
				attribute.Int("renderq.job.attempt", j.Attempt),
				attribute.Int("renderq.job.max_attempts", j.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}

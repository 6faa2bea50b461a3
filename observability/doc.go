// Package observability mirrors render queue lifecycle events into
// OpenTelemetry instruments. MetricsExtension is an extension fed by the
// same transition, progress and subscription events as the in-process
// metrics.Collector; when given a collector it also exports the current
// per-state job counts as an observable gauge.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

// Package middleware provides composable middleware for render task
// execution.
//
// A [Middleware] is a function that wraps a task invocation. Middleware are
// composed into a chain using [Chain] and applied to every attempt. They
// are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs kind, attempt, duration and outcome of each attempt
//   - [Recover] catches panics in the task executor and converts them to errors
//   - [Timeout] applies the job's per-attempt deadline and reports [renderq.ErrTimeout]
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-attempt duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware

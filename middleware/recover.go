package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to execution failures and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task executor panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("kind", j.Kind),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = errors.Wrapf(renderq.ErrExecutionFailure, "panic in job %s: %v", j.ID, r)
			}
		}()
		return next(ctx)
	}
}

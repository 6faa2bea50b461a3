package middleware

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/job"
)

// Timeout returns middleware that enforces the job's per-attempt deadline.
// If the job has a non-zero Timeout, a context.WithTimeout wraps the handler
// call. An attempt that fails after its own deadline passed returns an error
// matching renderq.ErrTimeout.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		logger.Debug("job timeout set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)
		tctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		err := next(tctx)
		// Only our own deadline counts; a parent deadline or cancel is
		// reported as is.
		if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return errors.WithSecondaryError(errors.Wrapf(renderq.ErrTimeout, "job %s exceeded %s", j.ID, j.Timeout), err)
		}
		return err
	}
}

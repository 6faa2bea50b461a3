package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/renderq/job"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("render attempt started",
			slog.String("job_id", j.ID.String()),
			slog.String("kind", j.Kind),
			slog.String("priority", j.Priority.String()),
			slog.Int("attempt", j.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("render attempt failed",
				slog.String("job_id", j.ID.String()),
				slog.String("kind", j.Kind),
				slog.Int("attempt", j.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("render attempt succeeded",
				slog.String("job_id", j.ID.String()),
				slog.String("kind", j.Kind),
				slog.Int("attempt", j.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}

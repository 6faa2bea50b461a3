package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/xraph/renderq/cron"
	"github.com/xraph/renderq/engine"
	"github.com/xraph/renderq/internal/config"
)

var CronModule = fx.Module("cron",
	fx.Provide(NewScheduler),
	fx.Invoke(func(*cron.Scheduler) {}),
)

// NewScheduler registers the configured schedules. It starts after the
// engine and stops before it.
func NewScheduler(lc fx.Lifecycle, eng *engine.Engine, cfg *config.Config, logger *slog.Logger) (*cron.Scheduler, error) {
	s := cron.NewScheduler(eng.Submit, cron.WithLogger(logger.With(slog.String("component", "cron"))))
	for _, sc := range cfg.Schedules {
		e, err := sc.Entry()
		if err != nil {
			return nil, err
		}
		if err := s.Add(e); err != nil {
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if len(cfg.Schedules) == 0 {
				return nil
			}
			return s.Start(ctx)
		},
		OnStop: s.Stop,
	})
	return s, nil
}

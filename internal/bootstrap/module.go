// Package bootstrap assembles the renderq daemon from fx modules.
package bootstrap

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/xraph/renderq/internal/config"
	"github.com/xraph/renderq/internal/logger"
)

// Module is every daemon component.
var Module = fx.Options(
	LoggerModule,
	StoreModule,
	HooksModule,
	EngineModule,
	CronModule,
	HTTPModule,
)

var LoggerModule = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger builds the process logger and makes it the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	l := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(l)
	return l
}

// New returns the daemon application for cfg. extra options are appended,
// e.g. fx.Populate in tests.
func New(cfg *config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Supply(cfg),
		Module,
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			fl := &fxevent.SlogLogger{Logger: l}
			fl.UseLogLevel(slog.LevelDebug)
			return fl
		}),
	}
	return fx.New(append(opts, extra...)...)
}

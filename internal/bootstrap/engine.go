package bootstrap

import (
	"context"
	"log/slog"
	"sort"

	"go.uber.org/fx"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/engine"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/internal/config"
	"github.com/xraph/renderq/store"
	"github.com/xraph/renderq/task/command"
)

var EngineModule = fx.Module("engine",
	fx.Provide(NewEngine),
)

// EngineParams are the engine's dependencies.
type EngineParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Logger     *slog.Logger
	Store      store.Store
	Extensions []ext.Extension `group:"extensions"`
}

// NewEngine builds the engine with one command executor per configured
// kind. The "default" kind becomes the fallback executor.
func NewEngine(p EngineParams) (*engine.Engine, error) {
	o, err := renderq.New(
		renderq.WithConfig(p.Config.Renderq()),
		renderq.WithStore(p.Store),
		renderq.WithLogger(p.Logger),
	)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{engine.WithWebhookConfig(p.Config.WebhookConfig())}
	for _, e := range p.Extensions {
		opts = append(opts, engine.WithExtension(e))
	}

	executors, err := commandExecutors(p.Config.Executor, p.Logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, executors...)

	eng, err := engine.Build(o, opts...)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return eng.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return eng.Stop(ctx)
		},
	})
	return eng, nil
}

func commandExecutors(cfg config.ExecutorConfig, logger *slog.Logger) ([]engine.Option, error) {
	kinds := make([]string, 0, len(cfg.Commands))
	for kind := range cfg.Commands {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	opts := make([]engine.Option, 0, len(kinds))
	for _, kind := range kinds {
		cmdOpts := []command.Option{command.WithLogger(logger.With(slog.String("kind", kind)))}
		if cfg.WorkDir != "" {
			cmdOpts = append(cmdOpts, command.WithDir(cfg.WorkDir))
		}
		cmdline := cfg.Commands[kind]
		e, err := command.Parse(cmdline, cmdOpts...)
		if err != nil {
			return nil, err
		}
		logger.Debug("command executor registered",
			slog.String("kind", kind),
			slog.String("command", cmdline),
		)

		if kind == config.DefaultKind {
			kind = ""
		}
		opts = append(opts, engine.WithExecutor(kind, e))
	}
	return opts, nil
}

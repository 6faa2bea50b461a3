package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	amqphook "github.com/xraph/renderq/amqp_hook"
	audithook "github.com/xraph/renderq/audit_hook"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/internal/config"
)

// HooksModule provides the lifecycle extensions: the audit trail always,
// the AMQP publisher when a broker URL is configured.
var HooksModule = fx.Module("hooks",
	fx.Provide(
		fx.Annotate(NewAuditHook, fx.ResultTags(`group:"extensions"`)),
		fx.Annotate(NewAMQPHooks, fx.ResultTags(`group:"extensions,flatten"`)),
	),
)

func NewAuditHook(logger *slog.Logger) ext.Extension {
	return audithook.New(audithook.NewSlogRecorder(logger.With(slog.String("component", "audit"))))
}

// NewAMQPHooks dials RabbitMQ and returns the publisher, or nothing when
// AMQP is not configured.
func NewAMQPHooks(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) ([]ext.Extension, error) {
	if cfg.AMQP.URL == "" {
		return nil, nil
	}

	conn, ch, err := amqphook.Dial(cfg.AMQP.URL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return conn.Close() },
	})

	opts := []amqphook.Option{
		amqphook.WithExchange(cfg.AMQP.Exchange),
		amqphook.WithLogger(logger),
	}
	if len(cfg.AMQP.Events) > 0 {
		types := make([]event.Type, 0, len(cfg.AMQP.Events))
		for _, e := range cfg.AMQP.Events {
			types = append(types, event.Type(e))
		}
		opts = append(opts, amqphook.WithEvents(types...))
	}
	logger.Info("amqp hook enabled", slog.String("exchange", cfg.AMQP.Exchange))
	return []ext.Extension{amqphook.New(ch, opts...)}, nil
}

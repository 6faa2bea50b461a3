package bootstrap

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/xraph/renderq/internal/config"
	"github.com/xraph/renderq/store"
	"github.com/xraph/renderq/store/memory"
	"github.com/xraph/renderq/store/mongo"
	"github.com/xraph/renderq/store/postgres"
	"github.com/xraph/renderq/store/redis"
	"github.com/xraph/renderq/store/sqlite"
)

var StoreModule = fx.Module("store",
	fx.Provide(NewStore),
)

// OpenStore connects the configured backend. The returned release func
// frees resources the store does not own itself.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), noop, nil

	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case config.DriverRedis:
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse redis url")
		}
		client := goredis.NewClient(opts)
		return redis.New(client, redis.WithLogger(logger)), client.Close, nil

	case config.DriverMongo:
		s, err := mongo.Open(ctx, cfg.DSN, cfg.Database, mongo.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	}
	return nil, nil, errors.Newf("unknown store driver %q", cfg.Driver)
}

// NewStore opens the store and runs migrations when configured. The
// engine closes the store itself on stop.
func NewStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	ctx := context.Background()
	s, release, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Ping(ctx); err != nil {
				return errors.Wrap(err, "store ping")
			}
			if !cfg.Store.Migrate {
				return nil
			}
			logger.Info("running migrations", slog.String("driver", cfg.Store.Driver))
			return s.Migrate(ctx)
		},
		OnStop: func(context.Context) error {
			return release()
		},
	})
	return s, nil
}

package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/xraph/renderq/api"
	"github.com/xraph/renderq/cron"
	"github.com/xraph/renderq/engine"
	"github.com/xraph/renderq/internal/config"
)

var HTTPModule = fx.Module("http",
	fx.Provide(NewAPI, NewServer),
	fx.Invoke(startServer),
)

func NewAPI(eng *engine.Engine, sched *cron.Scheduler, cfg *config.Config, logger *slog.Logger) *api.API {
	opts := []api.Option{
		api.WithLogger(logger),
		api.WithHeartbeat(cfg.Server.StreamHeartbeat),
		api.WithScheduler(sched),
	}
	if len(cfg.CORS.AllowOrigins) > 0 {
		cc := cors.DefaultConfig()
		cc.AllowOrigins = cfg.CORS.AllowOrigins
		if len(cfg.CORS.AllowHeaders) > 0 {
			cc.AllowHeaders = cfg.CORS.AllowHeaders
		}
		cc.ExposeHeaders = []string{api.HeaderRequestID}
		if cfg.CORS.MaxAge > 0 {
			cc.MaxAge = cfg.CORS.MaxAge
		}
		opts = append(opts, api.WithCORS(cc))
	}
	return api.New(eng, opts...)
}

func NewServer(a *api.API, cfg *config.Config) *http.Server {
	gin.SetMode(cfg.Server.Mode)
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
}

// startServer binds the listener on start so address errors fail the
// app, then serves in the background. Stopping cancels the base context
// so open event streams end before Shutdown waits on them.
func startServer(lc fx.Lifecycle, srv *http.Server, cfg *config.Config, logger *slog.Logger) {
	base, cancel := context.WithCancel(context.Background())
	srv.BaseContext = func(net.Listener) context.Context { return base }

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return errors.Wrapf(err, "listen on %s", srv.Addr)
			}
			logger.Info("http server listening", slog.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", slog.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down http server")
			cancel()
			if cfg.Server.ShutdownTimeout > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
				defer stop()
			}
			return srv.Shutdown(ctx)
		},
	})
}

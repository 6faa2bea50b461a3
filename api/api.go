// Package api exposes the render queue over HTTP with gin.
//
// Routes:
//
//	POST   /v1/jobs                    submit a render job
//	GET    /v1/jobs?state=             list jobs in a state
//	GET    /v1/jobs/:jobId             job status
//	POST   /v1/jobs/:jobId/cancel      cancel a job
//	GET    /v1/jobs/:jobId/events      Server-Sent Events for one job
//	GET    /v1/metrics                 collector snapshot
//	GET    /v1/stats                   store counts and pool usage
//	POST   /v1/queue/pause|resume      stop or restart dispatching
//	POST   /v1/webhooks                register a subscription
//	GET    /v1/webhooks[/:subId]       list or get subscriptions
//	DELETE /v1/webhooks/:subId         unregister
//	GET    /v1/webhooks/:subId/attempts recent deliveries
//	GET    /v1/dlq[/:entryId]          dead-letter entries
//	POST   /v1/dlq/:entryId/replay     submit a fresh job from an entry
//	POST   /v1/dlq/purge               drop old entries
//	GET    /v1/schedules               recurring submissions
//	GET    /healthz                    store connectivity
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/xraph/renderq/cron"
	"github.com/xraph/renderq/engine"
)

// DefaultHeartbeat is the keep-alive interval of event streams.
const DefaultHeartbeat = 15 * time.Second

// API wires the HTTP handlers to an Engine.
type API struct {
	eng       *engine.Engine
	logger    *slog.Logger
	cors      *cors.Config
	heartbeat time.Duration
	scheduler *cron.Scheduler
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger. Defaults to the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithCORS enables CORS with the given policy.
func WithCORS(cfg cors.Config) Option {
	return func(a *API) { a.cors = &cfg }
}

// WithHeartbeat sets the keep-alive interval of event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(a *API) { a.heartbeat = d }
}

// WithScheduler exposes the entries of s on GET /v1/schedules.
func WithScheduler(s *cron.Scheduler) Option {
	return func(a *API) { a.scheduler = s }
}

// New creates an API from a render Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:       eng,
		logger:    eng.Orchestrator().Logger(),
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with the middleware stack and every route.
func (a *API) Handler() http.Handler {
	r := gin.New()
	a.setupMiddleware(r)
	a.RegisterRoutes(r)
	return r
}

func (a *API) setupMiddleware(r *gin.Engine) {
	r.Use(requestID())
	r.Use(a.logging())
	r.Use(a.recovery())
	r.Use(errorHandler())
	if a.cors != nil {
		r.Use(cors.New(*a.cors))
	}
}

// RegisterRoutes registers every route on r. Use it to mount the API on an
// existing router.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", a.healthz)

	v1 := r.Group("/v1")
	a.registerJobRoutes(v1)
	a.registerQueueRoutes(v1)
	a.registerWebhookRoutes(v1)
	a.registerDLQRoutes(v1)
	v1.GET("/schedules", a.listSchedules)
}

func (a *API) registerJobRoutes(g *gin.RouterGroup) {
	g.POST("/jobs", a.submitJob)
	g.GET("/jobs", a.listJobs)
	g.GET("/jobs/:jobId", a.getJob)
	g.POST("/jobs/:jobId/cancel", a.cancelJob)
	g.GET("/jobs/:jobId/events", a.jobEvents)
}

func (a *API) registerQueueRoutes(g *gin.RouterGroup) {
	g.GET("/metrics", a.metrics)
	g.GET("/stats", a.stats)
	g.POST("/queue/pause", a.pause)
	g.POST("/queue/resume", a.resume)
}

func (a *API) registerWebhookRoutes(g *gin.RouterGroup) {
	g.POST("/webhooks", a.registerWebhook)
	g.GET("/webhooks", a.listWebhooks)
	g.GET("/webhooks/:subId", a.getWebhook)
	g.DELETE("/webhooks/:subId", a.deleteWebhook)
	g.GET("/webhooks/:subId/attempts", a.webhookAttempts)
}

func (a *API) registerDLQRoutes(g *gin.RouterGroup) {
	g.GET("/dlq", a.listDLQ)
	g.POST("/dlq/purge", a.purgeDLQ)
	g.GET("/dlq/:entryId", a.getDLQ)
	g.POST("/dlq/:entryId/replay", a.replayDLQ)
}

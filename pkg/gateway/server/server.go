package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/attune-ai/attune/pkg/core/types"
	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/handlers"
	"github.com/attune-ai/attune/pkg/gateway/lifecycle"
	"github.com/attune-ai/attune/pkg/gateway/live"
	"github.com/attune-ai/attune/pkg/gateway/live/sessions"
	"github.com/attune-ai/attune/pkg/gateway/metrics"
	"github.com/attune-ai/attune/pkg/gateway/mw"
	"github.com/attune-ai/attune/pkg/gateway/principal"
	"github.com/attune-ai/attune/pkg/gateway/ratelimit"
	"github.com/attune-ai/attune/pkg/store"
)

// Dependencies carries the long-lived collaborators the HTTP layer routes
// to. Registry must be the same instance the launcher registers into.
type Dependencies struct {
	Launcher *live.Launcher
	Registry *sessions.Registry
	Store    store.Store

	// Metrics is shared with the launcher so /metrics covers both layers.
	// Nil gets a private default.
	Metrics *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	launcher  *live.Launcher
	registry  *sessions.Registry
	store     store.Store
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	metrics   *metrics.Metrics
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		launcher:  deps.Launcher,
		registry:  deps.Registry,
		store:     deps.Store,
		lifecycle: &lifecycle.Lifecycle{},
		metrics:   deps.Metrics,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		}),
	}
	if s.store == nil {
		s.store = store.Unconfigured{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New("attune")
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("POST /v1/sessions", handlers.StartSessionHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Launcher:  s.launcher,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Principal: s.principalKey,
	})
	s.mux.Handle("GET /v1/sessions/{id}", handlers.SessionStatusHandler{Registry: s.registry})
	s.mux.Handle("POST /v1/sessions/{id}/end", handlers.EndSessionHandler{
		Logger:   s.logger,
		Registry: s.registry,
	})
	s.mux.Handle("GET /v1/sessions/{id}/wait", handlers.WaitSessionHandler{
		Config:   s.cfg,
		Registry: s.registry,
	})
	s.mux.Handle("GET /v1/sessions/{id}/live", handlers.LiveHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Launcher:  s.launcher,
		Registry:  s.registry,
		Lifecycle: s.lifecycle,
	})
	s.mux.Handle("GET /v1/sessions/{id}/events", handlers.EventsHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Launcher: s.launcher,
		Registry: s.registry,
	})
	s.mux.Handle("GET /v1/users/{name}/health/daily", handlers.DailyHealthHandler{Store: s.store})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// principalKey buckets a request for the rate limiter and the concurrent
// session cap: API key when authenticated, client IP otherwise.
func (s *Server) principalKey(r *http.Request) string {
	return principal.Resolve(r, s.cfg).Key
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.APIVersion(h)
	h = mw.RateLimit(s.cfg, s.limiter, s.principalKey, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.Instrument(s.metrics, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness to unavailable and makes new session starts
// refuse. Sessions already live keep running.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WaitLiveSessions blocks until every live session has ended or ctx is
// done. Reports whether the registry drained in time.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.registry.Wait(ctx)
}

// EndLiveSessions force-ends every live session and reports how many were
// still running.
func (s *Server) EndLiveSessions(reason types.EndReason) int {
	return s.registry.EndAll(reason)
}

// internal/server/server.go
package server

import (
	"context"
	"net/http"
	"time"

	"nlg-workers/internal/common/config"
	"nlg-workers/internal/common/logger"
	"nlg-workers/internal/common/observability"
	"nlg-workers/internal/nlg"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// Responder is the slice of *nlg.Resolver the NLG endpoint needs.
type Responder interface {
	Respond(ctx context.Context, req nlg.Request) (nlg.TypedPayload, nlg.ProjectionReport, error)
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type Options struct {
	Responder     Responder
	Checks        map[string]Check
	Logger        logger.Logger
	Observability *observability.Observability
	// ResolveTimeout bounds each POST /nlg resolution. Defaults to 5s.
	ResolveTimeout time.Duration
	// MetricsHandler defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

// NewRouter mounts the NLG webhook plus health, readiness and metrics endpoints.
func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"component": "http"})

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	resolveTimeout := opts.ResolveTimeout
	if resolveTimeout <= 0 {
		resolveTimeout = defaultResolveTimeout
	}

	h := &handlers{
		responder:      opts.Responder,
		checks:         opts.Checks,
		logger:         log,
		obs:            opts.Observability,
		resolveTimeout: resolveTimeout,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health", h.health)
	r.Get("/ready", h.ready)
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Post("/nlg", h.resolve)

	return r
}

// New wraps the router in an http.Server configured from cfg.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Millisecond,
	}
}

// Package api is the HTTP query surface over the pipeline's read models:
// alerts, incidents, environments and cross-source correlation, plus health
// and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/loglens/loglens/pkg/alertstore"
	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/correlate"
	"github.com/loglens/loglens/pkg/environment"
	"github.com/loglens/loglens/pkg/incident"
)

// Deps bundles the services the server fronts.
type Deps struct {
	Alerts       *alertstore.Store
	Incidents    *incident.Service
	Environments *environment.Service
	Correlation  *correlate.Service
	Redis        *redis.Client
	Registry     *prometheus.Registry // nil gets a fresh registry
	Config       *config.Config
}

// Server is the HTTP API server.
type Server struct {
	alerts       *alertstore.Store
	incidents    *incident.Service
	environments *environment.Service
	correlation  *correlate.Service
	rdb          *redis.Client
	registry     *prometheus.Registry
	cfg          *config.Config
	logger       *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server over its services.
func NewServer(deps Deps) *Server {
	if deps.Alerts == nil {
		panic("api: alert store is required")
	}
	if deps.Incidents == nil {
		panic("api: incident service is required")
	}
	if deps.Environments == nil {
		panic("api: environment service is required")
	}
	if deps.Correlation == nil {
		panic("api: correlation service is required")
	}
	if deps.Redis == nil {
		panic("api: redis client is required")
	}
	if deps.Config == nil {
		panic("api: config is required")
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Server{
		alerts:       deps.Alerts,
		incidents:    deps.Incidents,
		environments: deps.Environments,
		correlation:  deps.Correlation,
		rdb:          deps.Redis,
		registry:     registry,
		cfg:          deps.Config,
		logger:       slog.With("component", "api"),
	}
}

// Router builds the gin engine with all routes and middleware registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), securityHeaders())

	r.GET("/healthz", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	r.GET("/alerts", s.listAlertsHandler)
	r.POST("/alerts/:id/persist", s.persistAlertHandler)
	r.POST("/alerts/:id/feedback", s.alertFeedbackHandler)

	r.GET("/incidents", s.listIncidentsHandler)

	r.GET("/environments", s.listEnvironmentsHandler)
	r.GET("/environments/:id", s.environmentDetailHandler)
	r.GET("/environments/:id/correlation", s.environmentCorrelationHandler)

	r.GET("/correlation/global", s.globalCorrelationHandler)
	r.GET("/correlation/graph", s.correlationGraphHandler)

	return r
}

// Start runs the HTTP server on addr. It blocks until the server stops and
// returns http.ErrServerClosed on a clean Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

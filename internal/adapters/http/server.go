// Package http provides a read-only debug/introspection HTTP surface for
// the filter engine: liveness/readiness, cache statistics, and per-layer
// subset history. It is not a re-implementation of the GIS host (spec §1
// treats that as an external collaborator) — every route here answers
// "what did the engine just do", never "apply a filter".
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/filtergeist/filtergeist/internal/adapters/metrics"
	"github.com/filtergeist/filtergeist/internal/cache"
	"github.com/filtergeist/filtergeist/internal/config"
	"github.com/filtergeist/filtergeist/internal/health"
	"github.com/filtergeist/filtergeist/internal/history"
	"github.com/filtergeist/filtergeist/internal/mv"
)

// Server wraps the debug HTTP surface.
type Server struct {
	server    *http.Server
	router    *mux.Router
	history   history.Store
	health    *health.Checker
	geomCache *cache.GeometryCache
	exprCache *cache.ExpressionCache
	gc        *mv.Collector // optional: nil disables the orphan-sweep trigger route
	metrics   *metrics.Collector // optional: nil skips the per-request metrics middleware
	logger    *slog.Logger
	config    config.ServerConfig
}

// Dependencies bundles everything the debug surface reads from.
type Dependencies struct {
	History   history.Store
	Health    *health.Checker
	GeomCache *cache.GeometryCache
	ExprCache *cache.ExpressionCache
	GC        *mv.Collector
	Metrics   *metrics.Collector
}

// NewServer creates a new debug HTTP server.
func NewServer(cfg config.ServerConfig, deps Dependencies, logger *slog.Logger) *Server {
	s := &Server{
		history:   deps.History,
		health:    deps.Health,
		geomCache: deps.GeomCache,
		exprCache: deps.ExprCache,
		gc:        deps.GC,
		metrics:   deps.Metrics,
		logger:    logger,
		config:    cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	debug := r.PathPrefix("/debug").Subrouter()
	debug.HandleFunc("/history/{project}/{layer}", s.handleHistory).Methods(http.MethodGet)
	debug.HandleFunc("/cache-stats", s.handleCacheStats).Methods(http.MethodGet)
	if s.gc != nil {
		debug.HandleFunc("/orphan-sweep", s.handleOrphanSweep).Methods(http.MethodPost)
	}

	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting debug HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down debug HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Package api serves the changelog outbox and processing state over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/discsync/discsync-server/internal/http/response"
	"github.com/discsync/discsync-server/internal/logger"
	"github.com/discsync/discsync-server/internal/metrics"
	"github.com/discsync/discsync-server/internal/ratelimit"
	"github.com/discsync/discsync-server/internal/store"
	"github.com/discsync/discsync-server/internal/validation"
)

// Version is reported in the generated OpenAPI document.
const Version = "1.0.0"

// Config holds the HTTP-facing options of the server.
type Config struct {
	CORSOrigins []string
	// RateLimit is requests per second per client IP on /api routes; 0 disables limiting.
	RateLimit float64
	RateBurst int
	// RateIdleTTL is how long an idle client keeps its limiter; 0 never evicts.
	RateIdleTTL    time.Duration
	MetricsEnabled bool
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store     store.StateStore
	metrics   *metrics.Metrics
	validator *validation.Validator
	limiter   *ratelimit.KeyedRateLimiter
	router    *chi.Mux
	api       huma.API
	logger    *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
// m may be nil, in which case no metrics are recorded or exposed.
func NewServer(st store.StateStore, m *metrics.Metrics, cfg Config, log *slog.Logger) *Server {
	s := &Server{
		store:     st,
		metrics:   m,
		validator: validation.New(),
		router:    chi.NewRouter(),
		logger:    logger.OrDiscard(log),
	}
	if cfg.RateLimit > 0 {
		s.limiter = ratelimit.New(cfg.RateLimit, cfg.RateBurst, ratelimit.WithIdleTTL(cfg.RateIdleTTL))
	}

	s.setupMiddleware(cfg)

	RegisterErrorHandler()
	s.api = humachi.New(s.router, huma.DefaultConfig("discsync API", Version))

	s.registerHealthRoutes()
	s.registerChangeRoutes()
	s.registerStateRoutes()
	s.registerRunRoutes()
	s.registerRecordRoutes()

	if cfg.MetricsEnabled && m != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "no route for "+r.URL.Path, s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.MethodNotAllowed(w, s.logger)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mainly for OpenAPI generation.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware(cfg Config) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(s.recoverer)

	if len(cfg.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	if s.limiter != nil {
		s.router.Use(s.rateLimit)
	}
}

// rateLimit throttles /api routes per client IP. Health and metrics stay unthrottled.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	limited := ratelimit.Middleware(s.limiter, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context(), s.logger).Warn("Rate limit exceeded", "ip", ratelimit.ClientIP(r), "path", r.URL.Path)
		response.TooManyRequests(w, s.logger)
	})(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tracelink-lab/internal/api/handlers"
	apimiddleware "tracelink-lab/internal/api/middleware"
	"tracelink-lab/internal/config"
	"tracelink-lab/internal/metrics"
	"tracelink-lab/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	limiter  apimiddleware.RateLimitStore
	metrics  *metrics.Registry
	logger   *logger.Logger
}

// NewRouter creates a new Router instance. limiter may be nil, which
// disables rate limiting.
func NewRouter(cfg config.Config, h *handlers.Handlers, limiter apimiddleware.RateLimitStore, m *metrics.Registry, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		limiter:  limiter,
		metrics:  m,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(apimiddleware.Metrics(r.metrics))
	router.Use(middleware.Recoverer)

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Public routes
	router.Group(func(pub chi.Router) {
		pub.Get("/health", r.handlers.Health.Check)
		pub.Get("/ready", r.handlers.Health.Ready)

		if r.config.Metrics.Enabled && r.metrics != nil {
			path := r.config.Metrics.Path
			if path == "" {
				path = "/metrics"
			}
			pub.Handle(path, r.metrics.Handler())
		}
	})

	// API v1 routes (authenticated)
	router.Route("/api/v1", func(api chi.Router) {
		api.Use(apimiddleware.APIKeyAuth(r.config.JWT.Secret))

		if r.config.RateLimit.Enabled && r.limiter != nil {
			api.Use(apimiddleware.RateLimiter(r.limiter, r.config.RateLimit, r.logger))
		}

		// Search pipeline, bounded by the session timeout plus slack for encoding
		api.Group(func(search chi.Router) {
			search.Use(middleware.Timeout(r.requestTimeout()))
			search.Post("/search", r.handlers.Search.Search)
			search.Post("/extract", r.handlers.Search.Extract)
		})

		api.Delete("/search/cache", r.handlers.Cache.Invalidate)

		// Session audit log
		api.Route("/sessions", func(sessions chi.Router) {
			sessions.Get("/", r.handlers.Sessions.List)
			sessions.Get("/{id}", r.handlers.Sessions.Get)
		})

		// Cross-session entity graph
		api.Route("/entities/{id}", func(entities chi.Router) {
			entities.Get("/sessions", r.handlers.Entities.Sessions)
			entities.Get("/neighborhood", r.handlers.Entities.Neighborhood)
		})

		api.Get("/stats", r.handlers.Stats.Get)

		// Websocket routes manage their own lifetime
		api.Get("/search/ws", r.handlers.Search.SearchStream)
		api.Get("/stream/ws", r.handlers.Streaming.HandleWebSocket)
		api.Get("/stream/stats", r.handlers.Streaming.GetStats)
	})

	return router
}

func (r *Router) requestTimeout() time.Duration {
	timeout := r.config.Search.SessionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return timeout + 30*time.Second
}

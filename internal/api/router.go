package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"threatmesh/internal/api/handlers"
	apimiddleware "threatmesh/internal/api/middleware"
	"threatmesh/internal/config"
	"threatmesh/internal/infrastructure/cache"
	"threatmesh/internal/metrics"
	"threatmesh/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	cache    *cache.RedisCache
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewRouter creates a new Router instance
func NewRouter(cfg config.Config, h *handlers.Handlers, c *cache.RedisCache, m *metrics.Metrics, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		cache:    c,
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
	router.Use(apimiddleware.Logger(r.logger, r.metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Rate limiting
	if r.config.RateLimit.Enabled && r.cache != nil {
		router.Use(apimiddleware.RateLimiter(r.cache, r.config.RateLimit))
	}

	// Public routes
	router.Group(func(pub chi.Router) {
		pub.Get("/health", r.handlers.Health.Check)
		pub.Get("/ready", r.handlers.Health.Ready)
		if r.metrics != nil {
			pub.Method(http.MethodGet, "/metrics", r.metrics.Handler())
		}
	})

	// API routes (authenticated when auth is enabled)
	router.Route("/api", func(api chi.Router) {
		api.Use(apimiddleware.APIKeyAuth(r.config.Auth))

		// Event ingestion
		api.Post("/threats", r.handlers.Threats.ReportGuard)
		api.Post("/trap-intel", r.handlers.Threats.ReportTrap)

		// Indicators
		api.Route("/iocs", func(iocs chi.Router) {
			iocs.Get("/", r.handlers.IoCs.Search)
			iocs.Get("/{value}", r.handlers.IoCs.Lookup)
		})

		// Sightings
		api.Route("/sightings", func(sightings chi.Router) {
			sightings.Post("/", r.handlers.Sightings.Create)
			sightings.Get("/", r.handlers.Sightings.List)
		})

		// Campaigns. Stats is registered before the {id} route so
		// chi does not treat "stats" as a campaign id.
		api.Route("/campaigns", func(campaigns chi.Router) {
			campaigns.Get("/", r.handlers.Campaigns.List)
			campaigns.Get("/stats", r.handlers.Campaigns.Stats)
			campaigns.Get("/{id}", r.handlers.Campaigns.Get)
			campaigns.Get("/{id}/events", r.handlers.Campaigns.Events)
		})

		// Feeds for downstream agents
		api.Route("/feeds", func(feeds chi.Router) {
			feeds.Get("/ip-blocklist", r.handlers.Feeds.IPBlocklist)
			feeds.Get("/domain-blocklist", r.handlers.Feeds.DomainBlocklist)
			feeds.Get("/iocs", r.handlers.Feeds.IoCFeed)
			feeds.Get("/agent-update", r.handlers.Feeds.AgentUpdate)
		})

		// Aggregate stats
		api.Get("/stats", r.handlers.Stats.Get)

		// Admin endpoints
		api.Route("/admin", func(admin chi.Router) {
			admin.Get("/tasks", r.handlers.Admin.Tasks)
			admin.Post("/tasks/{task}", r.handlers.Admin.RunTask)
		})
	})

	return router
}

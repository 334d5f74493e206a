package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"threatlens-lab/internal/api/handlers"
	apimiddleware "threatlens-lab/internal/api/middleware"
	"threatlens-lab/internal/config"
	"threatlens-lab/internal/infrastructure/cache"
	"threatlens-lab/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	cache    *cache.RedisCache
	logger   *logger.Logger
}

// NewRouter creates a new Router instance
func NewRouter(cfg config.Config, h *handlers.Handlers, c *cache.RedisCache, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		cache:    c,
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
	if r.config.RateLimit.Enabled {
		router.Use(apimiddleware.RateLimiter(r.cache, r.config.RateLimit))
	}

	// Health checks
	router.Get("/health", r.handlers.Health.Check)
	router.Get("/ready", r.handlers.Health.Ready)

	// API v1 routes
	router.Route("/api/v1", func(api chi.Router) {
		// Full pipeline run for one document
		api.Post("/analysis/{documentID}", r.handlers.Analysis.Analyze)

		// Per-document correlation results
		api.Route("/documents/{documentID}", func(docs chi.Router) {
			docs.Get("/relationships", r.handlers.Documents.ListRelationships)
			docs.Get("/priority", r.handlers.Documents.GetPriority)
			docs.Get("/campaigns", r.handlers.Documents.ListCampaigns)
		})

		// Campaign lifecycle
		api.Route("/campaigns", func(campaigns chi.Router) {
			campaigns.Get("/", r.handlers.Campaigns.List)
			campaigns.Get("/{id}", r.handlers.Campaigns.Get)
			campaigns.Post("/{id}/verify", r.handlers.Campaigns.Verify)
			campaigns.Post("/{id}/dismiss", r.handlers.Campaigns.Dismiss)
		})

		// Canonical entity lookups
		api.Get("/entities/{kind}/{value}", r.handlers.Entities.Get)

		// Runtime matching configuration
		api.Get("/config", r.handlers.Config.Get)
		api.Put("/config", r.handlers.Config.Update)

		// Pre-persist duplicate gate
		api.Post("/ingest/check", r.handlers.Ingest.CheckDuplicate)

		// Admin endpoints
		api.Route("/admin", func(admin chi.Router) {
			admin.Post("/rebuild", r.handlers.Admin.StartRebuild)
			admin.Get("/rebuild/{jobID}", r.handlers.Admin.RebuildStatus)
			admin.Post("/rebuild/{jobID}/resume", r.handlers.Admin.ResumeRebuild)
		})
	})

	return router
}

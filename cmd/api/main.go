package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"threatlens-lab/internal/api"
	"threatlens-lab/internal/api/handlers"
	"threatlens-lab/internal/config"
	"threatlens-lab/internal/domain/services"
	"threatlens-lab/internal/embedding"
	"threatlens-lab/internal/extraction"
	"threatlens-lab/internal/infrastructure/cache"
	"threatlens-lab/internal/infrastructure/database"
	"threatlens-lab/internal/infrastructure/database/repository"
	"threatlens-lab/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.NewDevelopment()
	}
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting ThreatLens Lab")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize infrastructure
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer db.Close()

	redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisCache.Close()

	repos := repository.NewRepositories(db.Pool())

	// Install the file config as the initial matching configuration;
	// an existing row (runtime updates) always wins
	if err := repos.MatchingConfig.Seed(ctx, &cfg.Matching); err != nil {
		log.Warn().Err(err).Msg("failed to seed matching config")
	}

	// Embedding provider is optional; every consumer degrades to
	// entity-only scoring when it is absent
	var provider embedding.Provider
	if cfg.Embedding.Enabled {
		openAI, err := embedding.NewOpenAIProvider(cfg.Embedding, log)
		if err != nil {
			log.Warn().Err(err).Msg("embedding provider unavailable, semantic scoring disabled")
		} else {
			provider = openAI
			log.Info().Str("model", cfg.Embedding.Model).Msg("embedding provider initialized")
		}
	}

	// Initialize services
	configService := services.NewConfigService(repos.MatchingConfig, log)
	similarity := services.NewSimilarityEngine(provider, cfg.Embedding.CacheTTL, cfg.Embedding.SynopsisRunes, log)
	canonicalizer := services.NewCanonicalizer(repos.Entities, log)
	extractor := extraction.NewPatternExtractor(log)
	detector := services.NewDuplicateDetector(repos.Documents, configService, redisCache, log)
	association := services.NewAssociationEngine(repos.Documents, repos.Entities, repos.Relationships, similarity, configService, log)
	priority := services.NewPriorityScorer(repos.Documents, repos.Entities, repos.Relationships, repos.Priorities, configService, log)
	campaigns := services.NewCampaignDetector(repos.Documents, repos.Entities, repos.Relationships, repos.Campaigns, configService, log)
	analyzer := services.NewAnalyzer(repos.Documents, repos.Extractions, extractor, canonicalizer,
		association, priority, campaigns, redisCache, log)
	rebuilder := services.NewRebuilder(ctx, repos.Documents, association, priority, redisCache, configService, cfg.Rebuild.CheckpointTTL, log)

	// Initialize handlers
	h := handlers.NewHandlers(handlers.Dependencies{
		Analyzer:      analyzer,
		Detector:      detector,
		Rebuilder:     rebuilder,
		Config:        configService,
		Canonicalizer: canonicalizer,
		Cache:         redisCache,
		Logger:        log,
		Repos:         repos,
	})

	// Create router
	router := api.NewRouter(*cfg, h, redisCache, log)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Cancel context to stop in-flight rebuild jobs
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threatlens-lab/internal/config"
	"threatlens-lab/internal/domain/services"
	"threatlens-lab/internal/embedding"
	"threatlens-lab/internal/infrastructure/cache"
	"threatlens-lab/internal/infrastructure/database"
	"threatlens-lab/internal/infrastructure/database/repository"
	"threatlens-lab/pkg/logger"
)

const pollInterval = 2 * time.Second

// recompute rebuilds relationships and priority scores for every
// document in the window. Interrupting the run leaves a resumable
// checkpoint; rerun with -resume to continue it.
func main() {
	windowDays := flag.Int("window-days", 0, "recompute window in days (0 uses the association lookback)")
	resumeJobID := flag.String("resume", "", "resume an interrupted job by id")
	flag.Parse()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.NewDevelopment()
	}
	logger.SetGlobal(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop dispatch on Ctrl-C; the in-flight document still completes
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Warn().Msg("interrupt received, stopping after current document")
		cancel()
	}()

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

	var provider embedding.Provider
	if cfg.Embedding.Enabled {
		openAI, err := embedding.NewOpenAIProvider(cfg.Embedding, log)
		if err != nil {
			log.Warn().Err(err).Msg("embedding provider unavailable, semantic scoring disabled")
		} else {
			provider = openAI
		}
	}

	configService := services.NewConfigService(repos.MatchingConfig, log)
	similarity := services.NewSimilarityEngine(provider, cfg.Embedding.CacheTTL, cfg.Embedding.SynopsisRunes, log)
	association := services.NewAssociationEngine(repos.Documents, repos.Entities, repos.Relationships, similarity, configService, log)
	priority := services.NewPriorityScorer(repos.Documents, repos.Entities, repos.Relationships, repos.Priorities, configService, log)
	rebuilder := services.NewRebuilder(ctx, repos.Documents, association, priority, redisCache, configService, cfg.Rebuild.CheckpointTTL, log)

	var jobID string
	if *resumeJobID != "" {
		job, err := rebuilder.Resume(ctx, *resumeJobID)
		if err != nil {
			log.Fatal().Err(err).Str("job_id", *resumeJobID).Msg("failed to resume rebuild")
		}
		jobID = job.ID
		log.Info().Str("job_id", jobID).Int("total", job.Total).Int("processed", job.Processed).Msg("rebuild resumed")
	} else {
		job, err := rebuilder.Start(ctx, *windowDays)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start rebuild")
		}
		jobID = job.ID
		log.Info().Str("job_id", jobID).Int("total", job.Total).Int("window_days", job.WindowDays).Msg("rebuild started")
	}

	// Poll the checkpoint until the background walk finishes
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for range ticker.C {
		job, err := rebuilder.Status(context.Background(), jobID)
		if err != nil {
			log.Fatal().Err(err).Str("job_id", jobID).Msg("failed to read job status")
		}
		if job.Done() {
			log.Info().
				Str("job_id", job.ID).
				Str("state", string(job.State)).
				Int("processed", job.Processed).
				Int("failed", job.Failed).
				Msg("rebuild finished")
			if job.Failed > 0 {
				os.Exit(1)
			}
			return
		}
		log.Info().Int("processed", job.Processed).Int("total", job.Total).Msg("rebuild progress")
	}
}

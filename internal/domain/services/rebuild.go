package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

// ErrJobNotFound is returned when no rebuild job exists for an id
var ErrJobNotFound = errors.New("rebuild job not found")

// defaultJobTTL keeps finished job records around long enough for
// operators to read the outcome when no TTL is configured
const defaultJobTTL = 7 * 24 * time.Hour

// RebuildProgressStore persists rebuild job state and the per-job
// processed set, backed by Redis so progress survives restarts
type RebuildProgressStore interface {
	SaveJob(ctx context.Context, job *models.RebuildJob, ttl time.Duration) error
	LoadJob(ctx context.Context, jobID string) (*models.RebuildJob, error)
	MarkProcessed(ctx context.Context, jobID string, documentID uuid.UUID, ttl time.Duration) error
	IsProcessed(ctx context.Context, jobID string, documentID uuid.UUID) (bool, error)
}

// Rebuilder recomputes relationships and priority scores over a
// document window, as a resumable background job. Triggered after
// configuration changes so stored scores match the active weights.
type Rebuilder struct {
	documents   DocumentStore
	association *AssociationEngine
	priority    *PriorityScorer
	progress    RebuildProgressStore
	config      ConfigProvider
	jobTTL      time.Duration
	logger      *logger.Logger

	// baseCtx scopes job goroutines to process lifetime, not to the
	// HTTP request that started them
	baseCtx context.Context
}

// NewRebuilder creates a rebuild job manager. Jobs run until baseCtx
// is cancelled; cancellation stops dispatch after the in-flight
// document completes. jobTTL bounds how long job records and
// checkpoints persist; jobTTL <= 0 uses the default.
func NewRebuilder(baseCtx context.Context, documents DocumentStore, association *AssociationEngine, priority *PriorityScorer, progress RebuildProgressStore, config ConfigProvider, jobTTL time.Duration, log *logger.Logger) *Rebuilder {
	if jobTTL <= 0 {
		jobTTL = defaultJobTTL
	}
	return &Rebuilder{
		documents:   documents,
		association: association,
		priority:    priority,
		progress:    progress,
		config:      config,
		jobTTL:      jobTTL,
		logger:      log.WithComponent("rebuild"),
		baseCtx:     baseCtx,
	}
}

// Start launches a rebuild over documents published inside the last
// windowDays. windowDays <= 0 uses the association lookback.
func (r *Rebuilder) Start(ctx context.Context, windowDays int) (*models.RebuildJob, error) {
	if windowDays <= 0 {
		cfg, err := r.config.Current(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		windowDays = cfg.LookbackDays
	}

	now := time.Now().UTC()
	docs, err := r.documents.ListWindow(ctx, now.AddDate(0, 0, -windowDays), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list rebuild window: %w", err)
	}

	job := &models.RebuildJob{
		ID:         uuid.New().String(),
		State:      models.RebuildJobRunning,
		WindowDays: windowDays,
		Total:      len(docs),
		StartedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.progress.SaveJob(ctx, job, r.jobTTL); err != nil {
		return nil, fmt.Errorf("failed to persist rebuild job: %w", err)
	}

	go r.run(job, docs)
	return job, nil
}

// Resume continues an interrupted job over the same window, skipping
// documents already marked processed
func (r *Rebuilder) Resume(ctx context.Context, jobID string) (*models.RebuildJob, error) {
	job, err := r.progress.LoadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.Done() {
		return job, nil
	}

	end := job.StartedAt
	docs, err := r.documents.ListWindow(ctx, end.AddDate(0, 0, -job.WindowDays), end)
	if err != nil {
		return nil, fmt.Errorf("failed to list rebuild window: %w", err)
	}
	job.Total = len(docs)

	go r.run(job, docs)
	return job, nil
}

// Status returns the current job record
func (r *Rebuilder) Status(ctx context.Context, jobID string) (*models.RebuildJob, error) {
	job, err := r.progress.LoadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// run walks the window sequentially. Each document is reassociated and
// rescored, then checkpointed; cancellation is honored between
// documents so in-flight work always completes.
func (r *Rebuilder) run(job *models.RebuildJob, docs []*models.Document) {
	ctx := r.baseCtx
	log := r.logger.WithJobID(job.ID)
	log.Info().Int("total", job.Total).Int("window_days", job.WindowDays).Msg("rebuild started")

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			job.State = models.RebuildJobCancelled
			job.UpdatedAt = time.Now().UTC()
			r.saveJob(job, log)
			log.Warn().Int("processed", job.Processed).Msg("rebuild cancelled")
			return
		}

		done, err := r.progress.IsProcessed(ctx, job.ID, doc.ID)
		if err != nil {
			log.Warn().Err(err).Msg("checkpoint read failed, reprocessing document")
		} else if done {
			continue
		}

		if err := r.rebuildDocument(ctx, doc.ID); err != nil {
			job.Failed++
			log.Warn().Err(err).Str("document_id", doc.ID.String()).Msg("rebuild failed for document")
		}

		if err := r.progress.MarkProcessed(ctx, job.ID, doc.ID, r.jobTTL); err != nil {
			log.Warn().Err(err).Msg("failed to checkpoint document")
		}
		job.Processed++
		job.Cursor = doc.ID.String()
		job.UpdatedAt = time.Now().UTC()
		r.saveJob(job, log)
	}

	job.State = models.RebuildJobCompleted
	job.UpdatedAt = time.Now().UTC()
	r.saveJob(job, log)
	log.Info().Int("processed", job.Processed).Int("failed", job.Failed).Msg("rebuild complete")
}

func (r *Rebuilder) rebuildDocument(ctx context.Context, documentID uuid.UUID) error {
	if _, err := r.association.Associate(ctx, documentID); err != nil {
		return err
	}
	_, err := r.priority.Score(ctx, documentID)
	return err
}

func (r *Rebuilder) saveJob(job *models.RebuildJob, log *logger.Logger) {
	// Job state writes use a detached context so a cancelled job can
	// still record its final state
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.progress.SaveJob(ctx, job, r.jobTTL); err != nil {
		log.Error().Err(err).Msg("failed to persist rebuild job state")
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/internal/extraction"
	"threatlens-lab/pkg/logger"
)

// ErrAnalysisInFlight is returned when another instance is already
// analyzing the same document fingerprint. Retryable.
var ErrAnalysisInFlight = errors.New("analysis already in flight")

// analysisLockTTL bounds how long a crashed instance can hold the
// cross-instance lock for one fingerprint
const analysisLockTTL = 5 * time.Minute

// AnalysisLocker is the cross-instance at-most-once guard, backed by
// Redis SetNX. May be absent in single-instance deployments.
type AnalysisLocker interface {
	AcquireAnalysisLock(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
	ReleaseAnalysisLock(ctx context.Context, fingerprint string) error
}

// Analyzer runs the full correlation pipeline for one document:
// extraction, canonicalization, association, priority and campaign
// detection, in that order. Concurrent requests for one fingerprint
// serialize in-process and reject across instances.
type Analyzer struct {
	documents   DocumentStore
	extractions ExtractionStore
	extractor   extraction.Extractor
	canonical   *Canonicalizer
	association *AssociationEngine
	priority    *PriorityScorer
	campaigns   *CampaignDetector
	locker      AnalysisLocker // may be nil
	logger      *logger.Logger

	inFlight keyedMutex
}

// NewAnalyzer creates the pipeline orchestrator. locker may be nil
// when only one instance runs.
func NewAnalyzer(documents DocumentStore, extractions ExtractionStore, extractor extraction.Extractor, canonical *Canonicalizer, association *AssociationEngine, priority *PriorityScorer, campaigns *CampaignDetector, locker AnalysisLocker, log *logger.Logger) *Analyzer {
	return &Analyzer{
		documents:   documents,
		extractions: extractions,
		extractor:   extractor,
		canonical:   canonical,
		association: association,
		priority:    priority,
		campaigns:   campaigns,
		locker:      locker,
		logger:      log.WithComponent("analyzer"),
	}
}

// Analyze runs the pipeline for a document. force re-runs extraction
// even when a completed successful run exists.
func (a *Analyzer) Analyze(ctx context.Context, documentID uuid.UUID, force bool) (*models.AnalysisResult, error) {
	doc, err := a.documents.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	fingerprint := doc.Fingerprint
	if fingerprint == "" {
		fingerprint = models.ComputeFingerprint(doc.SourceRef, doc.Title)
	}

	// In-process repeats wait; cross-instance repeats are rejected
	unlock := a.inFlight.lock(fingerprint)
	defer unlock()

	if a.locker != nil {
		acquired, err := a.locker.AcquireAnalysisLock(ctx, fingerprint, analysisLockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire analysis lock: %w", err)
		}
		if !acquired {
			return nil, ErrAnalysisInFlight
		}
		defer func() {
			if err := a.locker.ReleaseAnalysisLock(context.WithoutCancel(ctx), fingerprint); err != nil {
				a.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("failed to release analysis lock")
			}
		}()
	}

	started := time.Now()
	result := &models.AnalysisResult{
		DocumentID:  documentID,
		Fingerprint: fingerprint,
	}
	log := a.logger.WithDocumentID(documentID.String())

	if err := a.runExtraction(ctx, doc, force, result, log); err != nil {
		return nil, err
	}

	assoc, err := a.association.Associate(ctx, documentID)
	if err != nil {
		return nil, err
	}
	result.Relationships = assoc.Relationships
	if assoc.Degraded {
		result.MarkDegraded("semantic similarity unavailable")
	}

	score, err := a.priority.Score(ctx, documentID)
	if err != nil {
		return nil, err
	}
	result.Priority = score

	campaign, err := a.campaigns.Detect(ctx, documentID)
	if err != nil {
		return nil, err
	}
	result.Campaign = campaign

	result.Duration = time.Since(started)
	result.AnalyzedAt = time.Now().UTC()

	log.Info().
		Int("entities", result.EntityCount).
		Int("relationships", len(result.Relationships)).
		Bool("degraded", result.Degraded).
		Dur("duration", result.Duration).
		Msg("analysis complete")
	return result, nil
}

// runExtraction extracts and canonicalizes entities unless a completed
// successful run already covers the document
func (a *Analyzer) runExtraction(ctx context.Context, doc *models.Document, force bool, result *models.AnalysisResult, log *logger.Logger) error {
	latest, err := a.extractions.LatestForDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to check extraction runs: %w", err)
	}
	if latest != nil && latest.Completed() && latest.Success && !force {
		result.ExtractionRunID = latest.ID
		result.EntityCount = latest.EntityCount
		log.Debug().Msg("extraction already complete, skipping")
		return nil
	}

	attempt, err := a.extractions.NextAttempt(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to number extraction attempt: %w", err)
	}

	run := &models.ExtractionRun{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		Attempt:    attempt,
		Method:     a.extractor.Method(),
		StartedAt:  time.Now().UTC(),
	}

	mentions := a.extractor.Extract(doc.Title, doc.Content)
	entities, skipped, err := a.canonical.CanonicalizeMentions(ctx, doc.ID, doc.PublishedAt, mentions)
	run.EntityCount = len(entities)
	run.Skipped = skipped
	run.Success = err == nil
	if err != nil {
		run.Error = err.Error()
	}
	run.CompletedAt = time.Now().UTC()

	if createErr := a.extractions.Create(ctx, run); createErr != nil {
		return fmt.Errorf("failed to record extraction run: %w", createErr)
	}
	if err != nil {
		return fmt.Errorf("canonicalization failed: %w", err)
	}

	result.ExtractionRunID = run.ID
	result.EntityCount = run.EntityCount
	return nil
}

// keyedMutex serializes work per string key
type keyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.keys == nil {
		k.keys = make(map[string]*keyedLock)
	}
	l, ok := k.keys[key]
	if !ok {
		l = &keyedLock{}
		k.keys[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.keys, key)
		}
		k.mu.Unlock()
	}
}

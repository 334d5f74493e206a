package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

// ErrDocumentNotFound is returned when the target document does not
// exist in the store
var ErrDocumentNotFound = errors.New("document not found")

// AssociationResult is the outcome of one association pass
type AssociationResult struct {
	Relationships []models.Relationship

	// Degraded is set when semantic scoring was configured but
	// unavailable, so composites were computed from overlap alone
	Degraded bool
}

// AssociationEngine links a document to related historical documents.
// Candidates come from shared canonical entities, optionally widened
// with semantic-only candidates; each is scored with a weighted blend
// of per-kind entity overlap and embedding similarity.
type AssociationEngine struct {
	documents     DocumentStore
	entities      EntityStore
	relationships RelationshipStore
	similarity    *SimilarityEngine
	config        ConfigProvider
	logger        *logger.Logger
}

// NewAssociationEngine creates an association engine
func NewAssociationEngine(documents DocumentStore, entities EntityStore, relationships RelationshipStore, similarity *SimilarityEngine, config ConfigProvider, log *logger.Logger) *AssociationEngine {
	return &AssociationEngine{
		documents:     documents,
		entities:      entities,
		relationships: relationships,
		similarity:    similarity,
		config:        config,
		logger:        log.WithComponent("association"),
	}
}

// Associate computes and persists the full outgoing relationship set
// for a document. The stored set is replaced atomically; a persistence
// failure leaves the previous set intact and returns an error the
// caller can retry.
func (a *AssociationEngine) Associate(ctx context.Context, documentID uuid.UUID) (*AssociationResult, error) {
	cfg, err := a.config.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	target, err := a.documents.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if target == nil {
		return nil, ErrDocumentNotFound
	}

	targetEntities, err := a.entities.ForDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document entities: %w", err)
	}

	result := &AssociationResult{}
	cutoff := target.PublishedAt.Add(-cfg.Lookback())

	candidateIDs, err := a.collectCandidates(ctx, cfg, target, len(targetEntities) > 0, result)
	if err != nil {
		return nil, err
	}

	// Embed the target once; every candidate compares against it
	var targetVector []float32
	semanticActive := a.semanticActive(ctx, result)
	if semanticActive {
		targetVector, err = a.similarity.Embed(ctx, target.Title, target.Content)
		if err != nil {
			a.logger.Warn().Err(err).Str("document_id", documentID.String()).
				Msg("target embedding failed, scoring without semantics")
			result.Degraded = true
			semanticActive = false
		}
	}

	kindCounts := countByKind(targetEntities)
	targetByID := make(map[uuid.UUID]*models.CanonicalEntity, len(targetEntities))
	for _, e := range targetEntities {
		targetByID[e.ID] = e
	}

	now := time.Now().UTC()
	var rels []models.Relationship
	for _, candidateID := range candidateIDs {
		candidate, err := a.documents.Get(ctx, candidateID)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidate: %w", err)
		}
		if candidate == nil || candidate.PublishedAt.Before(cutoff) {
			continue
		}

		rel, err := a.score(ctx, cfg, target, targetByID, kindCounts, targetVector, candidate, semanticActive, result)
		if err != nil {
			return nil, err
		}

		if rel.Composite < cfg.MinimumScore {
			continue
		}
		if rel.SharedCount() < cfg.MinimumSharedEntities {
			if cfg.RequireExactMatch || rel.Semantic < cfg.SemanticThreshold {
				continue
			}
		}
		rel.ComputedAt = now
		rels = append(rels, *rel)
	}

	// Deterministic ordering: strongest first, ties broken by id
	sort.SliceStable(rels, func(i, j int) bool {
		if rels[i].Composite != rels[j].Composite {
			return rels[i].Composite > rels[j].Composite
		}
		return rels[i].CandidateID.String() < rels[j].CandidateID.String()
	})

	if err := a.relationships.ReplaceForSource(ctx, documentID, rels); err != nil {
		return nil, fmt.Errorf("failed to persist relationships: %w", err)
	}

	result.Relationships = rels
	return result, nil
}

// collectCandidates gathers entity-sharing documents inside the
// lookback, widened with recent documents for semantic-only matching
// when exact matches are not required
func (a *AssociationEngine) collectCandidates(ctx context.Context, cfg *models.MatchingConfig, target *models.Document, hasEntities bool, result *AssociationResult) ([]uuid.UUID, error) {
	cutoff := target.PublishedAt.Add(-cfg.Lookback())
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID

	if hasEntities {
		sharing, err := a.entities.DocumentsSharingEntities(ctx, target.ID, cutoff)
		if err != nil {
			return nil, fmt.Errorf("failed to find entity candidates: %w", err)
		}
		for _, id := range sharing {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	if !cfg.RequireExactMatch && a.semanticActive(ctx, result) && cfg.SemanticCandidateCap > 0 {
		recent, err := a.documents.ListRecent(ctx, cutoff, target.ID, cfg.SemanticCandidateCap)
		if err != nil {
			return nil, fmt.Errorf("failed to list semantic candidates: %w", err)
		}
		for _, doc := range recent {
			if !seen[doc.ID] {
				seen[doc.ID] = true
				ids = append(ids, doc.ID)
			}
		}
	}

	return ids, nil
}

func (a *AssociationEngine) semanticActive(ctx context.Context, result *AssociationResult) bool {
	if a.similarity == nil || !a.similarity.Enabled() {
		return false
	}
	if !a.similarity.Available(ctx) {
		result.Degraded = true
		return false
	}
	return true
}

// score computes one relationship edge from target to candidate
func (a *AssociationEngine) score(ctx context.Context, cfg *models.MatchingConfig, target *models.Document, targetByID map[uuid.UUID]*models.CanonicalEntity, kindCounts map[models.EntityKind]int, targetVector []float32, candidate *models.Document, semanticActive bool, result *AssociationResult) (*models.Relationship, error) {
	candidateEntities, err := a.entities.ForDocument(ctx, candidate.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate entities: %w", err)
	}

	sharedByKind := make(map[models.EntityKind]int)
	var shared []models.EntityRef
	for _, e := range candidateEntities {
		if _, ok := targetByID[e.ID]; !ok {
			continue
		}
		sharedByKind[e.Kind]++
		shared = append(shared, models.EntityRef{Kind: e.Kind, Value: e.Value})
	}
	sort.Slice(shared, func(i, j int) bool {
		if shared[i].Kind != shared[j].Kind {
			return shared[i].Kind < shared[j].Kind
		}
		return shared[i].Value < shared[j].Value
	})

	// Overlap divides by the target's counts: how much of the target
	// this candidate explains. A document with no entities of a kind
	// scores zero for that kind.
	overlaps := make(map[models.EntityKind]float64, len(models.Kinds()))
	for _, kind := range models.Kinds() {
		if kindCounts[kind] == 0 {
			overlaps[kind] = 0
			continue
		}
		overlaps[kind] = float64(sharedByKind[kind]) / float64(kindCounts[kind])
	}

	semantic := 0.0
	if semanticActive && len(targetVector) > 0 {
		candVector, err := a.similarity.Embed(ctx, candidate.Title, candidate.Content)
		if err != nil {
			a.logger.Warn().Err(err).Str("candidate_id", candidate.ID.String()).
				Msg("candidate embedding failed")
			result.Degraded = true
		} else {
			semantic = Similarity(targetVector, candVector)
		}
	}

	composite := cfg.Weights.Semantic * semantic
	for _, kind := range models.Kinds() {
		composite += cfg.Weights.ForKind(kind) * overlaps[kind]
	}

	return &models.Relationship{
		SourceID:       target.ID,
		CandidateID:    candidate.ID,
		Composite:      composite,
		Overlaps:       overlaps,
		Semantic:       semantic,
		SharedEntities: shared,
	}, nil
}

func countByKind(entities []*models.CanonicalEntity) map[models.EntityKind]int {
	counts := make(map[models.EntityKind]int)
	for _, e := range entities {
		counts[e.Kind]++
	}
	return counts
}

package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

// PriorityScorer computes the triage ordering score for documents.
// Three monotonic signals blend with configured weights: entity rarity
// (salience), relationship strength (association) and publication
// recency.
type PriorityScorer struct {
	documents     DocumentStore
	entities      EntityStore
	relationships RelationshipStore
	priorities    PriorityStore
	config        ConfigProvider
	logger        *logger.Logger

	now func() time.Time
}

// NewPriorityScorer creates a priority scorer
func NewPriorityScorer(documents DocumentStore, entities EntityStore, relationships RelationshipStore, priorities PriorityStore, config ConfigProvider, log *logger.Logger) *PriorityScorer {
	return &PriorityScorer{
		documents:     documents,
		entities:      entities,
		relationships: relationships,
		priorities:    priorities,
		config:        config,
		logger:        log.WithComponent("priority"),
		now:           time.Now,
	}
}

// Score computes, persists and returns the priority score for a document
func (p *PriorityScorer) Score(ctx context.Context, documentID uuid.UUID) (*models.PriorityScore, error) {
	cfg, err := p.config.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	doc, err := p.documents.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	entities, err := p.entities.ForDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document entities: %w", err)
	}

	composites, err := p.relationships.TopComposites(ctx, documentID, cfg.Priority.TopRelationships)
	if err != nil {
		return nil, fmt.Errorf("failed to load top relationships: %w", err)
	}

	score := &models.PriorityScore{
		DocumentID:  documentID,
		Salience:    salience(entities),
		Association: mean(composites),
		Recency:     recency(p.now().Sub(doc.PublishedAt), cfg.Priority.HalfLifeDays),
		ComputedAt:  p.now().UTC(),
	}
	score.Score = cfg.Priority.SalienceWeight*score.Salience +
		cfg.Priority.AssociationWeight*score.Association +
		cfg.Priority.RecencyWeight*score.Recency

	if err := p.priorities.Upsert(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to persist priority score: %w", err)
	}
	return score, nil
}

// salience is the mean inverse-log global occurrence of the document's
// entities. An entity seen once scores 1; widely repeated entities
// approach 0. No entities means no salience signal.
func salience(entities []*models.CanonicalEntity) float64 {
	if len(entities) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entities {
		count := e.OccurrenceCount
		if count < 1 {
			count = 1
		}
		sum += 1 / (1 + math.Log(float64(count)))
	}
	return sum / float64(len(entities))
}

// recency decays exponentially with the configured half-life. Future
// publication timestamps clamp to 1.
func recency(age time.Duration, halfLifeDays float64) float64 {
	if age <= 0 {
		return 1
	}
	if halfLifeDays <= 0 {
		return 0
	}
	days := age.Hours() / 24
	return math.Pow(0.5, days/halfLifeDays)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

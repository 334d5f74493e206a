package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
)

// Narrow store interfaces consumed by the services. The pgx
// repositories satisfy them; tests substitute in-memory fakes.

// EntityStore persists canonical entities and document links
type EntityStore interface {
	Record(ctx context.Context, kind models.EntityKind, value string, documentID uuid.UUID, seenAt time.Time, confidence float64) (*models.CanonicalEntity, error)
	GetByValue(ctx context.Context, kind models.EntityKind, value string) (*models.CanonicalEntity, error)
	ForDocument(ctx context.Context, documentID uuid.UUID) ([]*models.CanonicalEntity, error)
	DocumentsSharingEntities(ctx context.Context, documentID uuid.UUID, since time.Time) ([]uuid.UUID, error)
}

// DocumentStore reads documents from the externally owned store
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Document, error)
	FindBySourceRef(ctx context.Context, sourceRef string) (*models.Document, error)
	ListRecent(ctx context.Context, since time.Time, exclude uuid.UUID, limit int) ([]*models.Document, error)
	ListWindow(ctx context.Context, from, to time.Time) ([]*models.Document, error)
}

// RelationshipStore persists association edges
type RelationshipStore interface {
	ReplaceForSource(ctx context.Context, sourceID uuid.UUID, rels []models.Relationship) error
	ListForSource(ctx context.Context, sourceID uuid.UUID, minScore float64) ([]models.Relationship, error)
	TopComposites(ctx context.Context, sourceID uuid.UUID, limit int) ([]float64, error)
}

// CampaignStore persists campaigns
type CampaignStore interface {
	Save(ctx context.Context, c *models.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	Candidates(ctx context.Context) ([]*models.Campaign, error)
}

// ExtractionStore persists extraction run records
type ExtractionStore interface {
	Create(ctx context.Context, run *models.ExtractionRun) error
	LatestForDocument(ctx context.Context, documentID uuid.UUID) (*models.ExtractionRun, error)
	NextAttempt(ctx context.Context, documentID uuid.UUID) (int, error)
}

// PriorityStore persists triage scores
type PriorityStore interface {
	Upsert(ctx context.Context, score *models.PriorityScore) error
	Get(ctx context.Context, documentID uuid.UUID) (*models.PriorityScore, error)
}

// MatchingConfigStore persists the scoring configuration singleton
type MatchingConfigStore interface {
	Get(ctx context.Context) (*models.MatchingConfig, error)
	Save(ctx context.Context, cfg *models.MatchingConfig) error
}

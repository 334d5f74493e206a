package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories bundles every repository over one connection pool
type Repositories struct {
	Documents      *DocumentRepository
	Entities       *EntityRepository
	Relationships  *RelationshipRepository
	Campaigns      *CampaignRepository
	Extractions    *ExtractionRepository
	MatchingConfig *MatchingConfigRepository
	Priorities     *PriorityRepository
}

// NewRepositories creates all repositories backed by the given pool
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Documents:      NewDocumentRepository(pool),
		Entities:       NewEntityRepository(pool),
		Relationships:  NewRelationshipRepository(pool),
		Campaigns:      NewCampaignRepository(pool),
		Extractions:    NewExtractionRepository(pool),
		MatchingConfig: NewMatchingConfigRepository(pool),
		Priorities:     NewPriorityRepository(pool),
	}
}

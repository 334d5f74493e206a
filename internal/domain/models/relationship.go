package models

import (
	"time"

	"github.com/google/uuid"
)

// Relationship links a source document to a historical candidate with a
// composite score and its sub-scores. The pair is ordered: the overlap
// ratios divide by the source document's entity counts, so A->B and
// B->A carry different scores.
type Relationship struct {
	SourceID    uuid.UUID `json:"source_id"`
	CandidateID uuid.UUID `json:"candidate_id"`

	Composite float64                `json:"composite"` // in [0,1]
	Overlaps  map[EntityKind]float64 `json:"overlaps"`
	Semantic  float64                `json:"semantic"`

	SharedEntities []EntityRef `json:"shared_entities,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// SharedCount returns the number of shared canonical entities
func (r *Relationship) SharedCount() int {
	return len(r.SharedEntities)
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// PriorityScore is the triage ordering score for one document,
// with the per-signal breakdown that produced it
type PriorityScore struct {
	DocumentID uuid.UUID `json:"document_id"`

	Score       float64 `json:"score"` // in [0,1]
	Salience    float64 `json:"salience"`
	Association float64 `json:"association"`
	Recency     float64 `json:"recency"`

	ComputedAt time.Time `json:"computed_at"`
}

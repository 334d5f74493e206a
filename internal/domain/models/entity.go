package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind identifies which canonical catalog an entity belongs to
type EntityKind string

const (
	EntityKindIndicator EntityKind = "indicator"
	EntityKindTechnique EntityKind = "technique"
	EntityKindActor     EntityKind = "actor"
)

// Kinds returns all entity kinds in a fixed order
func Kinds() []EntityKind {
	return []EntityKind{EntityKindIndicator, EntityKindTechnique, EntityKindActor}
}

// ParseEntityKind parses a string into an EntityKind
func ParseEntityKind(s string) (EntityKind, bool) {
	switch EntityKind(s) {
	case EntityKindIndicator, EntityKindTechnique, EntityKindActor:
		return EntityKind(s), true
	}
	return "", false
}

// IndicatorType classifies the concrete artifact an indicator refers to
type IndicatorType string

const (
	IndicatorTypeIP     IndicatorType = "ip"
	IndicatorTypeDomain IndicatorType = "domain"
	IndicatorTypeURL    IndicatorType = "url"
	IndicatorTypeHash   IndicatorType = "hash"
	IndicatorTypeEmail  IndicatorType = "email"
	IndicatorTypeCVE    IndicatorType = "cve"
)

// CanonicalEntity is the deduplicated record for one normalized
// (kind, value) pair. There is exactly one per pair; repeat mentions
// update the occurrence count and timestamps instead of duplicating.
type CanonicalEntity struct {
	ID              uuid.UUID   `json:"id"`
	Kind            EntityKind  `json:"kind"`
	Value           string      `json:"value"` // normalized
	FirstSeen       time.Time   `json:"first_seen"`
	LastSeen        time.Time   `json:"last_seen"`
	OccurrenceCount int         `json:"occurrence_count"`
	DocumentIDs     []uuid.UUID `json:"document_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityRef is a lightweight reference to a canonical entity
type EntityRef struct {
	Kind  EntityKind `json:"kind"`
	Value string     `json:"value"`
}

// Mention is a raw, typed entity occurrence reported by the extraction
// collaborator, before canonicalization
type Mention struct {
	Kind       EntityKind `json:"kind"`
	RawValue   string     `json:"raw_value"`
	Confidence float64    `json:"confidence"`
	Snippet    string     `json:"snippet,omitempty"`
}

// ExtractionMethod records how entities were pulled from a document
type ExtractionMethod string

const (
	ExtractionMethodPattern ExtractionMethod = "pattern"
	ExtractionMethodManual  ExtractionMethod = "manual"
)

// ExtractionRun records one extraction attempt for a document.
// Immutable once CompletedAt is set; a completed successful run
// suppresses re-extraction unless the caller forces it.
type ExtractionRun struct {
	ID          uuid.UUID        `json:"id"`
	DocumentID  uuid.UUID        `json:"document_id"`
	Attempt     int              `json:"attempt"`
	Method      ExtractionMethod `json:"method"`
	EntityCount int              `json:"entity_count"`
	Skipped     int              `json:"skipped"`
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Completed reports whether the run finished
func (r *ExtractionRun) Completed() bool {
	return !r.CompletedAt.IsZero()
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Document is the read-only record supplied by the document store.
// This service never mutates documents; it only correlates them.
type Document struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	SourceRef   string    `json:"source_ref"` // canonical origin URL or feed reference
	Fingerprint string    `json:"fingerprint"`
	PublishedAt time.Time `json:"published_at"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// ComputeFingerprint derives the stable analysis fingerprint for a document.
// Used when the store supplies none.
func ComputeFingerprint(sourceRef, title string) string {
	h := sha256.Sum256([]byte(sourceRef + "\x00" + title))
	return hex.EncodeToString(h[:])
}

// AnalysisResult is the outcome of a full pipeline run for one document
type AnalysisResult struct {
	DocumentID      uuid.UUID      `json:"document_id"`
	Fingerprint     string         `json:"fingerprint"`
	ExtractionRunID uuid.UUID      `json:"extraction_run_id"`
	EntityCount     int            `json:"entity_count"`
	Relationships   []Relationship `json:"relationships"`
	Priority        *PriorityScore `json:"priority,omitempty"`
	Campaign        *Campaign      `json:"campaign,omitempty"`

	// Degraded marks a best-effort result produced while a collaborator
	// was unavailable. Degraded analyses can be re-run later.
	Degraded        bool     `json:"degraded"`
	DegradedReasons []string `json:"degraded_reasons,omitempty"`

	Duration   time.Duration `json:"duration"`
	AnalyzedAt time.Time     `json:"analyzed_at"`
}

// MarkDegraded records a degradation reason on the result
func (a *AnalysisResult) MarkDegraded(reason string) {
	a.Degraded = true
	for _, r := range a.DegradedReasons {
		if r == reason {
			return
		}
	}
	a.DegradedReasons = append(a.DegradedReasons, reason)
}

// DuplicateCheck is the decision returned by the duplicate detector
type DuplicateCheck struct {
	IsDuplicate       bool       `json:"is_duplicate"`
	Confidence        float64    `json:"confidence"`
	MatchedDocumentID *uuid.UUID `json:"matched_document_id,omitempty"`
	Reasoning         string     `json:"reasoning"`
}

package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

// publicationProximity is the window inside which two publication
// timestamps count as near-simultaneous for the proximity boost
const publicationProximity = 24 * time.Hour

// sourceRefCacheTTL bounds how long the Redis fast-path entry for a
// seen source reference lives
const sourceRefCacheTTL = 72 * time.Hour

// ConfigProvider hands out the current scoring configuration
type ConfigProvider interface {
	Current(ctx context.Context) (*models.MatchingConfig, error)
}

// DedupCache is the optional Redis fast path for source references
// already seen by the ingest gate
type DedupCache interface {
	LookupSourceRef(ctx context.Context, refHash string) (string, error)
	MarkSourceRef(ctx context.Context, refHash string, documentID string, ttl time.Duration) error
}

// DuplicateDetector decides whether an incoming document repeats one
// already in the store. Three stages run in ascending cost order and
// short-circuit on a confident match. Internal failures never block
// ingestion: the detector fails open and reports not-duplicate.
type DuplicateDetector struct {
	documents DocumentStore
	config    ConfigProvider
	cache     DedupCache // may be nil
	logger    *logger.Logger
}

// NewDuplicateDetector creates a duplicate detector. cache may be nil;
// the source-reference fast path is then skipped.
func NewDuplicateDetector(documents DocumentStore, config ConfigProvider, cache DedupCache, log *logger.Logger) *DuplicateDetector {
	return &DuplicateDetector{
		documents: documents,
		config:    config,
		cache:     cache,
		logger:    log.WithComponent("dedup"),
	}
}

// candidatePool bounds how many recent documents stage two compares
const candidatePool = 500

// Check determines whether the described document duplicates a stored
// one. Errors are logged and reported as not-duplicate.
func (d *DuplicateDetector) Check(ctx context.Context, title, content, sourceRef string, publishedAt time.Time) *models.DuplicateCheck {
	check, err := d.check(ctx, title, content, sourceRef, publishedAt)
	if err != nil {
		d.logger.Warn().Err(err).Str("source_ref", sourceRef).
			Msg("duplicate check failed, treating as not duplicate")
		return &models.DuplicateCheck{
			IsDuplicate: false,
			Confidence:  0,
			Reasoning:   fmt.Sprintf("check failed open: %v", err),
		}
	}
	return check
}

func (d *DuplicateDetector) check(ctx context.Context, title, content, sourceRef string, publishedAt time.Time) (*models.DuplicateCheck, error) {
	cfg, err := d.config.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	dedup := cfg.Dedup
	cutoff := publishedAt.AddDate(0, 0, -dedup.LookbackDays)

	// Stage one: exact source reference
	if sourceRef != "" {
		if match, err := d.matchSourceRef(ctx, sourceRef, cutoff); err != nil {
			return nil, err
		} else if match != nil {
			return &models.DuplicateCheck{
				IsDuplicate:       true,
				Confidence:        1.0,
				MatchedDocumentID: &match.ID,
				Reasoning:         "exact source reference match",
			}, nil
		}
	}

	// Stage two and three: fuzzy title then content verification
	candidates, err := d.documents.ListRecent(ctx, cutoff, uuid.Nil, candidatePool)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	normTitle := normalizeForComparison(title)
	normContent := comparisonPrefix(content, dedup.ContentPrefix)

	best := &models.DuplicateCheck{Reasoning: "no candidate above threshold"}
	for _, cand := range candidates {
		titleSim := SimilarityRatio(normTitle, normalizeForComparison(cand.Title))
		if titleSim < dedup.TitleFloor {
			continue
		}

		contentSim := SimilarityRatio(normContent, comparisonPrefix(cand.Content, dedup.ContentPrefix))
		confidence := dedup.TitleWeight*titleSim + dedup.ContentWeight*contentSim

		var boosts []string
		if sameHost(sourceRef, cand.SourceRef) {
			confidence += dedup.ProximityBoost
			boosts = append(boosts, "same source domain")
		}
		if absDuration(publishedAt.Sub(cand.PublishedAt)) <= publicationProximity {
			confidence += dedup.ProximityBoost
			boosts = append(boosts, "published within 24h")
		}
		if confidence > 1.0 {
			confidence = 1.0
		}

		if confidence > best.Confidence {
			id := cand.ID
			reasoning := fmt.Sprintf("title similarity %.2f, content similarity %.2f", titleSim, contentSim)
			if len(boosts) > 0 {
				reasoning += ", " + strings.Join(boosts, ", ")
			}
			best = &models.DuplicateCheck{
				Confidence:        confidence,
				MatchedDocumentID: &id,
				Reasoning:         reasoning,
			}
		}
	}

	best.IsDuplicate = best.Confidence >= dedup.Threshold
	if !best.IsDuplicate && best.MatchedDocumentID != nil {
		best.Reasoning = "below threshold: " + best.Reasoning
	}
	return best, nil
}

// matchSourceRef checks the Redis fast path, then the store, for a
// prior document with the same source reference inside the lookback
func (d *DuplicateDetector) matchSourceRef(ctx context.Context, sourceRef string, cutoff time.Time) (*models.Document, error) {
	refHash := hashSourceRef(sourceRef)

	if d.cache != nil {
		cached, err := d.cache.LookupSourceRef(ctx, refHash)
		if err != nil {
			d.logger.Warn().Err(err).Msg("source ref cache lookup failed")
		} else if cached != "" {
			if id, err := uuid.Parse(cached); err == nil {
				if doc, err := d.documents.Get(ctx, id); err == nil && doc != nil && !doc.PublishedAt.Before(cutoff) {
					return doc, nil
				}
			}
		}
	}

	doc, err := d.documents.FindBySourceRef(ctx, sourceRef)
	if err != nil {
		return nil, fmt.Errorf("failed to find by source ref: %w", err)
	}
	if doc == nil || doc.PublishedAt.Before(cutoff) {
		return nil, nil
	}

	if d.cache != nil {
		if err := d.cache.MarkSourceRef(ctx, refHash, doc.ID.String(), sourceRefCacheTTL); err != nil {
			d.logger.Warn().Err(err).Msg("source ref cache mark failed")
		}
	}
	return doc, nil
}

func hashSourceRef(ref string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(ref))))
	return hex.EncodeToString(h[:])
}

// normalizeForComparison lowercases and collapses whitespace so
// formatting differences do not defeat the similarity ratio
func normalizeForComparison(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// comparisonPrefix returns the normalized first maxRunes runes
func comparisonPrefix(s string, maxRunes int) string {
	norm := normalizeForComparison(s)
	if maxRunes <= 0 {
		return norm
	}
	runes := []rune(norm)
	if len(runes) > maxRunes {
		runes = runes[:maxRunes]
	}
	return string(runes)
}

func sameHost(a, b string) bool {
	ha, hb := refHost(a), refHost(b)
	return ha != "" && ha == hb
}

func refHost(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(parsed.Hostname(), "www."))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

package services

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

// ErrInvalidEntity is returned when a raw value cannot be normalized
// into a canonical form for its kind
var ErrInvalidEntity = errors.New("invalid entity value")

// Canonicalizer folds raw entity mentions into canonical (kind, value)
// records. One canonical record exists per normalized pair; repeat
// mentions only update counts and timestamps.
type Canonicalizer struct {
	entities EntityStore
	logger   *logger.Logger
}

// NewCanonicalizer creates a new canonicalizer
func NewCanonicalizer(entities EntityStore, log *logger.Logger) *Canonicalizer {
	return &Canonicalizer{
		entities: entities,
		logger:   log.WithComponent("canonicalizer"),
	}
}

// Canonicalize normalizes one raw value and records its mention for a
// document. Returns ErrInvalidEntity for values that fail kind-specific
// normalization.
func (c *Canonicalizer) Canonicalize(ctx context.Context, kind models.EntityKind, rawValue string, documentID uuid.UUID, seenAt time.Time, confidence float64) (*models.CanonicalEntity, error) {
	normalized, err := NormalizeValue(kind, rawValue)
	if err != nil {
		return nil, err
	}
	return c.entities.Record(ctx, kind, normalized, documentID, seenAt, confidence)
}

// CanonicalizeMentions records a batch of mentions for a document.
// Malformed mentions are skipped with a warning; one bad value never
// aborts the batch. Returns the recorded entities and the skip count.
func (c *Canonicalizer) CanonicalizeMentions(ctx context.Context, documentID uuid.UUID, seenAt time.Time, mentions []models.Mention) ([]*models.CanonicalEntity, int, error) {
	var (
		entities []*models.CanonicalEntity
		skipped  int
	)
	for _, m := range mentions {
		ent, err := c.Canonicalize(ctx, m.Kind, m.RawValue, documentID, seenAt, m.Confidence)
		if err != nil {
			if errors.Is(err, ErrInvalidEntity) {
				skipped++
				c.logger.Warn().
					Str("kind", string(m.Kind)).
					Str("raw_value", m.RawValue).
					Msg("skipping malformed entity mention")
				continue
			}
			return entities, skipped, err
		}
		entities = append(entities, ent)
	}
	return entities, skipped, nil
}

// Lookup resolves a raw value to its canonical record without
// recording a mention. Returns nil when no record exists.
func (c *Canonicalizer) Lookup(ctx context.Context, kind models.EntityKind, rawValue string) (*models.CanonicalEntity, error) {
	normalized, err := NormalizeValue(kind, rawValue)
	if err != nil {
		return nil, err
	}
	return c.entities.GetByValue(ctx, kind, normalized)
}

// NormalizeValue applies kind-specific normalization to a raw value
func NormalizeValue(kind models.EntityKind, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidEntity
	}

	switch kind {
	case models.EntityKindIndicator:
		return normalizeIndicator(raw)
	case models.EntityKindTechnique:
		return normalizeTechnique(raw)
	case models.EntityKindActor:
		return normalizeActor(raw), nil
	}
	return "", ErrInvalidEntity
}

// normalizeIndicator classifies an indicator by shape and applies the
// per-type fold: IPs in canonical form, hashes and domains and emails
// lowercased, URLs with lowercased host
func normalizeIndicator(raw string) (string, error) {
	if ip := net.ParseIP(strings.Trim(raw, "[]")); ip != nil {
		return ip.String(), nil
	}

	lower := strings.ToLower(raw)

	if isHexHash(lower) {
		return lower, nil
	}

	if strings.HasPrefix(lower, "cve-") {
		return strings.ToUpper(raw), nil
	}

	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			return "", ErrInvalidEntity
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "ftp" {
			return "", ErrInvalidEntity
		}
		parsed.Host = strings.ToLower(parsed.Host)
		return parsed.String(), nil
	}

	if strings.Contains(raw, "@") {
		if !strings.Contains(raw, ".") {
			return "", ErrInvalidEntity
		}
		return lower, nil
	}

	// Remaining shape: domain name
	domain := lower
	domain = strings.TrimPrefix(domain, "www.")
	if idx := strings.Index(domain, "/"); idx != -1 {
		domain = domain[:idx]
	}
	if idx := strings.Index(domain, ":"); idx != -1 {
		domain = domain[:idx]
	}
	if !isValidDomain(domain) {
		return "", ErrInvalidEntity
	}
	return domain, nil
}

// normalizeTechnique uppercases ATT&CK technique ids (T1059, T1566.001)
func normalizeTechnique(raw string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if len(upper) < 5 || upper[0] != 'T' {
		return "", ErrInvalidEntity
	}
	body := upper[1:]
	main, sub, hasSub := strings.Cut(body, ".")
	if len(main) != 4 || !isDigits(main) {
		return "", ErrInvalidEntity
	}
	if hasSub && (len(sub) != 3 || !isDigits(sub)) {
		return "", ErrInvalidEntity
	}
	return upper, nil
}

// normalizeActor lowercases and collapses interior whitespace
func normalizeActor(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

func isHexHash(s string) bool {
	if len(s) != 32 && len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isValidDomain(domain string) bool {
	if len(domain) < 4 || len(domain) > 253 {
		return false
	}
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return false
	}
	for _, part := range parts {
		if part == "" || len(part) > 63 {
			return false
		}
		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return false
		}
		for _, c := range part {
			if c != '-' && (c < '0' || c > '9') && (c < 'a' || c > 'z') {
				return false
			}
		}
	}
	tld := parts[len(parts)-1]
	return len(tld) >= 2 && !isDigits(tld)
}

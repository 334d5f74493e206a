package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"threatlens-lab/internal/embedding"
	"threatlens-lab/pkg/logger"
)

const defaultSynopsisRunes = 1200

// SimilarityEngine computes semantic similarity between documents
// through an embedding provider. The provider is optional at runtime:
// when it is absent or unhealthy the engine reports zero similarity so
// entity-overlap scoring still works.
type SimilarityEngine struct {
	provider      embedding.Provider // may be nil
	vectors       *gocache.Cache
	synopsisRunes int
	logger        *logger.Logger
}

// NewSimilarityEngine creates a similarity engine. provider may be nil
// to run without semantic scoring. Vectors are cached in-process keyed
// by synopsis hash so re-analysis of unchanged text skips the API.
func NewSimilarityEngine(provider embedding.Provider, cacheTTL time.Duration, synopsisRunes int, log *logger.Logger) *SimilarityEngine {
	if cacheTTL <= 0 {
		cacheTTL = 6 * time.Hour
	}
	if synopsisRunes <= 0 {
		synopsisRunes = defaultSynopsisRunes
	}
	return &SimilarityEngine{
		provider:      provider,
		vectors:       gocache.New(cacheTTL, 10*time.Minute),
		synopsisRunes: synopsisRunes,
		logger:        log.WithComponent("similarity"),
	}
}

// Enabled reports whether a provider is configured at all
func (s *SimilarityEngine) Enabled() bool {
	return s.provider != nil
}

// Available reports whether semantic scoring can currently run
func (s *SimilarityEngine) Available(ctx context.Context) bool {
	return s.provider != nil && s.provider.Available(ctx)
}

// Embed returns the vector for a document's condensed synopsis.
// Returns nil with no error when the provider is not configured.
func (s *SimilarityEngine) Embed(ctx context.Context, title, content string) ([]float32, error) {
	if s.provider == nil {
		return nil, nil
	}

	synopsis := Synopsis(title, content, s.synopsisRunes)
	key := synopsisKey(synopsis)
	if cached, ok := s.vectors.Get(key); ok {
		return cached.([]float32), nil
	}

	vector, err := s.provider.Embed(ctx, synopsis)
	if err != nil {
		return nil, err
	}
	s.vectors.Set(key, vector, gocache.DefaultExpiration)
	return vector, nil
}

// EmbedBatch embeds many documents for backfills, filling the cache as
// it goes. Inputs whose vectors are already cached are not re-sent.
func (s *SimilarityEngine) EmbedBatch(ctx context.Context, titles, contents []string) ([][]float32, error) {
	if s.provider == nil || len(titles) == 0 {
		return make([][]float32, len(titles)), nil
	}

	vectors := make([][]float32, len(titles))
	var missing []int
	var texts []string
	for i := range titles {
		synopsis := Synopsis(titles[i], contents[i], s.synopsisRunes)
		if cached, ok := s.vectors.Get(synopsisKey(synopsis)); ok {
			vectors[i] = cached.([]float32)
			continue
		}
		missing = append(missing, i)
		texts = append(texts, synopsis)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	embedded, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for n, i := range missing {
		vectors[i] = embedded[n]
		s.vectors.Set(synopsisKey(texts[n]), embedded[n], gocache.DefaultExpiration)
	}
	return vectors, nil
}

// Similarity is the cosine of two vectors clamped to [0,1]. Mismatched
// or empty vectors score zero.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return cos
}

// Synopsis condenses a document to its title plus a bounded content
// prefix cut on a sentence boundary, so embeddings stay cheap and
// stable under trailing edits
func Synopsis(title, content string, maxRunes int) string {
	title = strings.TrimSpace(title)
	content = strings.Join(strings.Fields(content), " ")

	runes := []rune(content)
	if len(runes) > maxRunes {
		cut := maxRunes
		// Prefer ending on a sentence boundary inside the back half
		for i := maxRunes - 1; i > maxRunes/2; i-- {
			if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
				cut = i + 1
				break
			}
		}
		content = string(runes[:cut])
	}

	if title == "" {
		return content
	}
	if content == "" {
		return title
	}
	return title + "\n" + content
}

func synopsisKey(synopsis string) string {
	h := sha256.Sum256([]byte(synopsis))
	return hex.EncodeToString(h[:])
}

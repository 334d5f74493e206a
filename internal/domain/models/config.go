package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Configuration validation errors. update_config rejects bad input
// synchronously; values are never silently clamped.
var (
	ErrWeightsNotNormalized = errors.New("matching weights must sum to 1.0")
	ErrInvalidThreshold     = errors.New("threshold out of range")
	ErrInvalidWindow        = errors.New("window must be positive")
)

const weightSumTolerance = 1e-9

// MatchingWeights are the per-signal weights of the composite score
type MatchingWeights struct {
	Indicator float64 `json:"indicator" mapstructure:"indicator"`
	Technique float64 `json:"technique" mapstructure:"technique"`
	Actor     float64 `json:"actor" mapstructure:"actor"`
	Semantic  float64 `json:"semantic" mapstructure:"semantic"`
}

// Sum returns the total of all weights
func (w MatchingWeights) Sum() float64 {
	return w.Indicator + w.Technique + w.Actor + w.Semantic
}

// ForKind returns the weight assigned to an entity kind
func (w MatchingWeights) ForKind(kind EntityKind) float64 {
	switch kind {
	case EntityKindIndicator:
		return w.Indicator
	case EntityKindTechnique:
		return w.Technique
	case EntityKindActor:
		return w.Actor
	}
	return 0
}

// CampaignConfig controls campaign detection
type CampaignConfig struct {
	Enabled           bool `json:"enabled" mapstructure:"enabled"`
	TimeWindowDays    int  `json:"time_window_days" mapstructure:"time_window_days"`
	MinArticles       int  `json:"min_articles" mapstructure:"min_articles"`
	MinSharedEntities int  `json:"min_shared_entities" mapstructure:"min_shared_entities"`
}

// PriorityConfig controls the priority blend. The blend weights also
// sum to 1.0 so the final score stays in [0,1].
type PriorityConfig struct {
	SalienceWeight    float64 `json:"salience_weight" mapstructure:"salience_weight"`
	AssociationWeight float64 `json:"association_weight" mapstructure:"association_weight"`
	RecencyWeight     float64 `json:"recency_weight" mapstructure:"recency_weight"`
	TopRelationships  int     `json:"top_relationships" mapstructure:"top_relationships"`
	HalfLifeDays      float64 `json:"half_life_days" mapstructure:"half_life_days"`
}

// DedupConfig controls the duplicate document detector
type DedupConfig struct {
	LookbackDays   int     `json:"lookback_days" mapstructure:"lookback_days"`
	Threshold      float64 `json:"threshold" mapstructure:"threshold"`
	TitleFloor     float64 `json:"title_floor" mapstructure:"title_floor"`
	ContentPrefix  int     `json:"content_prefix" mapstructure:"content_prefix"`
	TitleWeight    float64 `json:"title_weight" mapstructure:"title_weight"`
	ContentWeight  float64 `json:"content_weight" mapstructure:"content_weight"`
	ProximityBoost float64 `json:"proximity_boost" mapstructure:"proximity_boost"`
}

// MatchingConfig is the singleton scoring configuration. Mutations go
// through update_config which validates before persisting; a full
// recompute is an explicit separate job.
type MatchingConfig struct {
	LookbackDays          int             `json:"lookback_days" mapstructure:"lookback_days"`
	Weights               MatchingWeights `json:"weights" mapstructure:"weights"`
	MinimumScore          float64         `json:"minimum_score" mapstructure:"minimum_score"`
	MinimumSharedEntities int             `json:"minimum_shared_entities" mapstructure:"minimum_shared_entities"`
	SemanticThreshold     float64         `json:"semantic_threshold" mapstructure:"semantic_threshold"`
	SemanticCandidateCap  int             `json:"semantic_candidate_cap" mapstructure:"semantic_candidate_cap"`
	RequireExactMatch     bool            `json:"require_exact_match" mapstructure:"require_exact_match"`

	Campaign CampaignConfig `json:"campaign" mapstructure:"campaign"`
	Priority PriorityConfig `json:"priority" mapstructure:"priority"`
	Dedup    DedupConfig    `json:"dedup" mapstructure:"dedup"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultMatchingConfig returns the default configuration
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		LookbackDays: 30,
		Weights: MatchingWeights{
			Indicator: 0.4,
			Technique: 0.3,
			Actor:     0.2,
			Semantic:  0.1,
		},
		MinimumScore:          0.60,
		MinimumSharedEntities: 1,
		SemanticThreshold:     0.75,
		SemanticCandidateCap:  25,
		RequireExactMatch:     false,
		Campaign: CampaignConfig{
			Enabled:           true,
			TimeWindowDays:    90,
			MinArticles:       3,
			MinSharedEntities: 2,
		},
		Priority: PriorityConfig{
			SalienceWeight:    0.4,
			AssociationWeight: 0.35,
			RecencyWeight:     0.25,
			TopRelationships:  5,
			HalfLifeDays:      14,
		},
		Dedup: DedupConfig{
			LookbackDays:   3,
			Threshold:      0.82,
			TitleFloor:     0.70,
			ContentPrefix:  2000,
			TitleWeight:    0.6,
			ContentWeight:  0.4,
			ProximityBoost: 0.1,
		},
	}
}

// Validate checks the configuration invariants
func (c *MatchingConfig) Validate() error {
	if math.Abs(c.Weights.Sum()-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: got %.4f", ErrWeightsNotNormalized, c.Weights.Sum())
	}
	if c.Weights.Indicator < 0 || c.Weights.Technique < 0 || c.Weights.Actor < 0 || c.Weights.Semantic < 0 {
		return fmt.Errorf("%w: weights must be non-negative", ErrWeightsNotNormalized)
	}
	if c.MinimumScore < 0 || c.MinimumScore > 1 {
		return fmt.Errorf("%w: minimum_score %.4f", ErrInvalidThreshold, c.MinimumScore)
	}
	if c.SemanticThreshold < 0 || c.SemanticThreshold > 1 {
		return fmt.Errorf("%w: semantic_threshold %.4f", ErrInvalidThreshold, c.SemanticThreshold)
	}
	if c.MinimumSharedEntities < 0 {
		return fmt.Errorf("%w: minimum_shared_entities %d", ErrInvalidThreshold, c.MinimumSharedEntities)
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("%w: lookback_days %d", ErrInvalidWindow, c.LookbackDays)
	}
	if c.Campaign.TimeWindowDays <= 0 {
		return fmt.Errorf("%w: campaign.time_window_days %d", ErrInvalidWindow, c.Campaign.TimeWindowDays)
	}
	if c.Campaign.MinArticles < 2 {
		return fmt.Errorf("%w: campaign.min_articles %d (need at least 2)", ErrInvalidThreshold, c.Campaign.MinArticles)
	}
	if c.Campaign.MinSharedEntities < 1 {
		return fmt.Errorf("%w: campaign.min_shared_entities %d", ErrInvalidThreshold, c.Campaign.MinSharedEntities)
	}
	prioritySum := c.Priority.SalienceWeight + c.Priority.AssociationWeight + c.Priority.RecencyWeight
	if math.Abs(prioritySum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: priority weights sum %.4f", ErrWeightsNotNormalized, prioritySum)
	}
	if c.Priority.HalfLifeDays <= 0 {
		return fmt.Errorf("%w: priority.half_life_days %.2f", ErrInvalidWindow, c.Priority.HalfLifeDays)
	}
	if c.Dedup.Threshold < 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("%w: dedup.threshold %.4f", ErrInvalidThreshold, c.Dedup.Threshold)
	}
	if c.Dedup.LookbackDays <= 0 {
		return fmt.Errorf("%w: dedup.lookback_days %d", ErrInvalidWindow, c.Dedup.LookbackDays)
	}
	return nil
}

// Lookback returns the association lookback as a duration
func (c *MatchingConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// CampaignWindow returns the campaign time window as a duration
func (c *MatchingConfig) CampaignWindow() time.Duration {
	return time.Duration(c.Campaign.TimeWindowDays) * 24 * time.Hour
}

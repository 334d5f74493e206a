package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

// configCacheTTL bounds how stale a cached configuration may be across
// instances after an update elsewhere
const configCacheTTL = 30 * time.Second

// ConfigService serves the active matching configuration with a short
// in-memory cache, and applies validated updates. Updates never take
// effect partially: an invalid configuration is rejected whole.
type ConfigService struct {
	store  MatchingConfigStore
	logger *logger.Logger

	mu       sync.RWMutex
	cached   *models.MatchingConfig
	cachedAt time.Time
}

// NewConfigService creates a config service
func NewConfigService(store MatchingConfigStore, log *logger.Logger) *ConfigService {
	return &ConfigService{
		store:  store,
		logger: log.WithComponent("config"),
	}
}

// Current returns the active configuration
func (s *ConfigService) Current(ctx context.Context) (*models.MatchingConfig, error) {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.cachedAt) < configCacheTTL {
		cfg := s.cached
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	cfg, err := s.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load matching config: %w", err)
	}

	s.mu.Lock()
	s.cached = cfg
	s.cachedAt = time.Now()
	s.mu.Unlock()
	return cfg, nil
}

// Update validates and persists a new configuration. Existing
// relationship scores are not recomputed; that is the rebuild job's
// explicit responsibility.
func (s *ConfigService) Update(ctx context.Context, cfg *models.MatchingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.store.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save matching config: %w", err)
	}

	s.mu.Lock()
	s.cached = cfg
	s.cachedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info().Msg("matching configuration updated")
	return nil
}

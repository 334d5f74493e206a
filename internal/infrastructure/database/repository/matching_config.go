package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"threatlens-lab/internal/domain/models"
)

// MatchingConfigRepository persists the single active matching
// configuration as a JSONB singleton row
type MatchingConfigRepository struct {
	pool *pgxpool.Pool
}

// NewMatchingConfigRepository creates a new matching config repository
func NewMatchingConfigRepository(pool *pgxpool.Pool) *MatchingConfigRepository {
	return &MatchingConfigRepository{pool: pool}
}

// Get returns the stored configuration, or the compiled-in defaults
// when nothing has ever been saved
func (r *MatchingConfigRepository) Get(ctx context.Context) (*models.MatchingConfig, error) {
	var (
		data      []byte
		updatedAt time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT data, updated_at
		FROM matching_config
		WHERE id = 1`).Scan(&data, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DefaultMatchingConfig(), nil
		}
		return nil, fmt.Errorf("failed to get matching config: %w", err)
	}

	var cfg models.MatchingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal matching config: %w", err)
	}
	cfg.UpdatedAt = updatedAt
	return &cfg, nil
}

// Save validates and stores a new configuration. Invalid
// configurations are rejected and the stored row stays untouched.
func (r *MatchingConfigRepository) Save(ctx context.Context, cfg *models.MatchingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal matching config: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO matching_config (id, data, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data,
		    updated_at = now()`, data)
	if err != nil {
		return fmt.Errorf("failed to save matching config: %w", err)
	}
	return nil
}

// Seed installs a configuration only when no row exists yet. Used at
// startup so the file config never overwrites runtime updates.
func (r *MatchingConfigRepository) Seed(ctx context.Context, cfg *models.MatchingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal matching config: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO matching_config (id, data, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO NOTHING`, data)
	if err != nil {
		return fmt.Errorf("failed to seed matching config: %w", err)
	}
	return nil
}

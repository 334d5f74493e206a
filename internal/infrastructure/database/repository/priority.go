package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"threatlens-lab/internal/domain/models"
)

// PriorityRepository persists per-document triage scores
type PriorityRepository struct {
	pool *pgxpool.Pool
}

// NewPriorityRepository creates a new priority score repository
func NewPriorityRepository(pool *pgxpool.Pool) *PriorityRepository {
	return &PriorityRepository{pool: pool}
}

// Upsert stores the latest score for a document
func (r *PriorityRepository) Upsert(ctx context.Context, score *models.PriorityScore) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO priority_scores (document_id, score, salience, association, recency, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id) DO UPDATE
		SET score = EXCLUDED.score,
		    salience = EXCLUDED.salience,
		    association = EXCLUDED.association,
		    recency = EXCLUDED.recency,
		    computed_at = EXCLUDED.computed_at`,
		score.DocumentID, score.Score, score.Salience, score.Association, score.Recency,
		timeToTimestamptz(score.ComputedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert priority score: %w", err)
	}
	return nil
}

// Get retrieves the stored score for a document. Returns nil when the
// document has never been scored.
func (r *PriorityRepository) Get(ctx context.Context, documentID uuid.UUID) (*models.PriorityScore, error) {
	var score models.PriorityScore
	err := r.pool.QueryRow(ctx, `
		SELECT document_id, score, salience, association, recency, computed_at
		FROM priority_scores
		WHERE document_id = $1`, documentID).
		Scan(&score.DocumentID, &score.Score, &score.Salience, &score.Association, &score.Recency, &score.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get priority score: %w", err)
	}
	return &score, nil
}

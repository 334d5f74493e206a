package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"threatlens-lab/internal/domain/models"
)

// RelationshipRepository persists document-to-document association edges
type RelationshipRepository struct {
	pool *pgxpool.Pool
}

// NewRelationshipRepository creates a new relationship repository
func NewRelationshipRepository(pool *pgxpool.Pool) *RelationshipRepository {
	return &RelationshipRepository{pool: pool}
}

// ReplaceForSource atomically replaces all outgoing relationships for a
// source document. Readers never observe a partially updated set: the
// delete and inserts commit together.
func (r *RelationshipRepository) ReplaceForSource(ctx context.Context, sourceID uuid.UUID, rels []models.Relationship) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("failed to clear relationships: %w", err)
	}

	for _, rel := range rels {
		overlaps, err := json.Marshal(rel.Overlaps)
		if err != nil {
			return fmt.Errorf("failed to marshal overlaps: %w", err)
		}
		shared, err := json.Marshal(rel.SharedEntities)
		if err != nil {
			return fmt.Errorf("failed to marshal shared entities: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO relationships (source_id, candidate_id, composite, overlaps, semantic, shared_entities, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rel.SourceID, rel.CandidateID, rel.Composite, overlaps, rel.Semantic, shared,
			timeToTimestamptz(rel.ComputedAt)); err != nil {
			return fmt.Errorf("failed to insert relationship: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit relationships: %w", err)
	}
	return nil
}

// ListForSource returns outgoing relationships for a document at or
// above minScore, strongest first
func (r *RelationshipRepository) ListForSource(ctx context.Context, sourceID uuid.UUID, minScore float64) ([]models.Relationship, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT source_id, candidate_id, composite, overlaps, semantic, shared_entities, computed_at
		FROM relationships
		WHERE source_id = $1 AND composite >= $2
		ORDER BY composite DESC, candidate_id ASC`,
		sourceID, minScore)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	var rels []models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, *rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read relationships: %w", err)
	}
	return rels, nil
}

// TopComposites returns the strongest outgoing composite scores for a
// document, capped at limit. The priority scorer averages these.
func (r *RelationshipRepository) TopComposites(ctx context.Context, sourceID uuid.UUID, limit int) ([]float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT composite
		FROM relationships
		WHERE source_id = $1
		ORDER BY composite DESC, candidate_id ASC
		LIMIT $2`,
		sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top composites: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan composite: %w", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read composites: %w", err)
	}
	return scores, nil
}

func scanRelationship(row pgx.Row) (*models.Relationship, error) {
	var (
		rel      models.Relationship
		overlaps []byte
		shared   []byte
	)
	if err := row.Scan(
		&rel.SourceID,
		&rel.CandidateID,
		&rel.Composite,
		&overlaps,
		&rel.Semantic,
		&shared,
		&rel.ComputedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(overlaps, &rel.Overlaps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal overlaps: %w", err)
	}
	if len(shared) > 0 {
		if err := json.Unmarshal(shared, &rel.SharedEntities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shared entities: %w", err)
		}
	}
	return &rel, nil
}

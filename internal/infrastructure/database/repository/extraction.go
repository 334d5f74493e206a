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

// ExtractionRepository persists extraction run records
type ExtractionRepository struct {
	pool *pgxpool.Pool
}

// NewExtractionRepository creates a new extraction run repository
func NewExtractionRepository(pool *pgxpool.Pool) *ExtractionRepository {
	return &ExtractionRepository{pool: pool}
}

const extractionColumns = `id, document_id, attempt, method, entity_count, skipped, success, error, started_at, completed_at`

// Create records a completed extraction run
func (r *ExtractionRepository) Create(ctx context.Context, run *models.ExtractionRun) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO extraction_runs (id, document_id, attempt, method, entity_count, skipped, success, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.DocumentID, run.Attempt, string(run.Method),
		run.EntityCount, run.Skipped, run.Success, run.Error,
		timeToTimestamptz(run.StartedAt), timeToTimestamptz(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to create extraction run: %w", err)
	}
	return nil
}

// LatestForDocument returns the most recent extraction run for a
// document, or nil when the document has never been processed
func (r *ExtractionRepository) LatestForDocument(ctx context.Context, documentID uuid.UUID) (*models.ExtractionRun, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+extractionColumns+`
		FROM extraction_runs
		WHERE document_id = $1
		ORDER BY attempt DESC, completed_at DESC
		LIMIT 1`, documentID)

	run, err := scanExtractionRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest extraction run: %w", err)
	}
	return run, nil
}

// NextAttempt returns the attempt number the next run for a document
// should carry
func (r *ExtractionRepository) NextAttempt(ctx context.Context, documentID uuid.UUID) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(attempt), 0)
		FROM extraction_runs
		WHERE document_id = $1`, documentID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to count extraction attempts: %w", err)
	}
	return max + 1, nil
}

func scanExtractionRun(row pgx.Row) (*models.ExtractionRun, error) {
	var (
		run    models.ExtractionRun
		method string
	)
	if err := row.Scan(
		&run.ID,
		&run.DocumentID,
		&run.Attempt,
		&method,
		&run.EntityCount,
		&run.Skipped,
		&run.Success,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
	); err != nil {
		return nil, err
	}
	run.Method = models.ExtractionMethod(method)
	return &run, nil
}

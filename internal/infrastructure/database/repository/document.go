package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"threatlens-lab/internal/domain/models"
)

// DocumentRepository reads documents from the store. Documents are
// owned by the ingestion service; this repository never writes them.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

const documentColumns = `id, title, content, source_ref, fingerprint, published_at, ingested_at`

// Get retrieves a document by id. Returns nil when absent.
func (r *DocumentRepository) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// FindBySourceRef returns the most recently published document with the
// given source reference, or nil when none exists.
func (r *DocumentRepository) FindBySourceRef(ctx context.Context, sourceRef string) (*models.Document, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE source_ref = $1
		ORDER BY published_at DESC
		LIMIT 1`, sourceRef)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find document by source ref: %w", err)
	}
	return doc, nil
}

// ListRecent returns documents published at or after the cutoff, newest
// first, excluding the given document. Used as the duplicate
// detector's comparison pool.
func (r *DocumentRepository) ListRecent(ctx context.Context, since time.Time, exclude uuid.UUID, limit int) ([]*models.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE published_at >= $1 AND id <> $2
		ORDER BY published_at DESC
		LIMIT $3`,
		timeToTimestamptz(since), exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// ListWindow returns all documents published inside [from, to) in
// ascending publication order. The rebuild job walks this window.
func (r *DocumentRepository) ListWindow(ctx context.Context, from, to time.Time) ([]*models.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE published_at >= $1 AND published_at < $2
		ORDER BY published_at ASC, id ASC`,
		timeToTimestamptz(from), timeToTimestamptz(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list document window: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// GetMany retrieves documents by id, skipping ids that no longer exist
func (r *DocumentRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]*models.Document, error) {
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return docs, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	if err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Content,
		&doc.SourceRef,
		&doc.Fingerprint,
		&doc.PublishedAt,
		&doc.IngestedAt,
	); err != nil {
		return nil, err
	}
	return &doc, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"threatlens-lab/internal/domain/models"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations
const pgUniqueViolation = "23505"

// recordAttempts bounds the insert-or-fetch retry loop. Two concurrent
// first mentions of the same value resolve on the second pass.
const recordAttempts = 3

// EntityRepository persists canonical entities and their document links
type EntityRepository struct {
	pool *pgxpool.Pool
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(pool *pgxpool.Pool) *EntityRepository {
	return &EntityRepository{pool: pool}
}

const entityColumns = `id, kind, value, first_seen, last_seen, occurrence_count, created_at, updated_at`

// Record registers one mention of a normalized (kind, value) pair for a
// document. An existing entity gets its occurrence count incremented and
// last_seen extended; otherwise a new entity is created. Concurrent
// first mentions race on the unique index: the loser retries and takes
// the update path, so the pair always resolves to a single row.
func (r *EntityRepository) Record(ctx context.Context, kind models.EntityKind, value string, documentID uuid.UUID, seenAt time.Time, confidence float64) (*models.CanonicalEntity, error) {
	var lastErr error
	for attempt := 0; attempt < recordAttempts; attempt++ {
		ent, err := r.touch(ctx, kind, value, seenAt)
		if err != nil {
			return nil, err
		}
		if ent == nil {
			ent, err = r.insert(ctx, kind, value, seenAt)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
					// Lost the insert race; re-fetch and update
					lastErr = err
					continue
				}
				return nil, err
			}
		}
		if err := r.linkDocument(ctx, ent.ID, documentID, seenAt, confidence); err != nil {
			return nil, err
		}
		return ent, nil
	}
	return nil, fmt.Errorf("failed to record entity after %d attempts: %w", recordAttempts, lastErr)
}

// touch updates an existing entity in place; returns nil when no row matched
func (r *EntityRepository) touch(ctx context.Context, kind models.EntityKind, value string, seenAt time.Time) (*models.CanonicalEntity, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE canonical_entities
		SET occurrence_count = occurrence_count + 1,
		    last_seen = GREATEST(last_seen, $3),
		    updated_at = now()
		WHERE kind = $1 AND value = $2
		RETURNING `+entityColumns,
		string(kind), value, timeToTimestamptz(seenAt))

	ent, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}
	return ent, nil
}

func (r *EntityRepository) insert(ctx context.Context, kind models.EntityKind, value string, seenAt time.Time) (*models.CanonicalEntity, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO canonical_entities (id, kind, value, first_seen, last_seen, occurrence_count)
		VALUES ($1, $2, $3, $4, $4, 1)
		RETURNING `+entityColumns,
		uuid.New(), string(kind), value, timeToTimestamptz(seenAt))

	ent, err := scanEntity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert entity: %w", err)
	}
	return ent, nil
}

func (r *EntityRepository) linkDocument(ctx context.Context, entityID, documentID uuid.UUID, seenAt time.Time, confidence float64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO document_entities (document_id, entity_id, confidence, seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, entity_id) DO UPDATE
		SET confidence = GREATEST(document_entities.confidence, EXCLUDED.confidence),
		    seen_at = EXCLUDED.seen_at`,
		documentID, entityID, confidence, timeToTimestamptz(seenAt))
	if err != nil {
		return fmt.Errorf("failed to link entity to document: %w", err)
	}
	return nil
}

// GetByValue retrieves an entity by its normalized (kind, value) pair,
// including the referencing document ids. Returns nil when absent.
func (r *EntityRepository) GetByValue(ctx context.Context, kind models.EntityKind, value string) (*models.CanonicalEntity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM canonical_entities
		WHERE kind = $1 AND value = $2`,
		string(kind), value)

	ent, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	ent.DocumentIDs, err = r.documentIDs(ctx, ent.ID)
	if err != nil {
		return nil, err
	}
	return ent, nil
}

func (r *EntityRepository) documentIDs(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT document_id FROM document_entities
		WHERE entity_id = $1
		ORDER BY seen_at DESC`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity documents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ForDocument returns all canonical entities referenced by a document
func (r *EntityRepository) ForDocument(ctx context.Context, documentID uuid.UUID) ([]*models.CanonicalEntity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.kind, e.value, e.first_seen, e.last_seen, e.occurrence_count, e.created_at, e.updated_at
		FROM canonical_entities e
		JOIN document_entities de ON de.entity_id = e.id
		WHERE de.document_id = $1
		ORDER BY e.kind, e.value`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// CoOccurring returns entities that appear in documents alongside the
// given entity, most frequent first
func (r *EntityRepository) CoOccurring(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.CanonicalEntity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.kind, e.value, e.first_seen, e.last_seen, e.occurrence_count, e.created_at, e.updated_at
		FROM canonical_entities e
		JOIN document_entities de ON de.entity_id = e.id
		WHERE de.document_id IN (
			SELECT document_id FROM document_entities WHERE entity_id = $1
		) AND e.id <> $1
		GROUP BY e.id
		ORDER BY COUNT(*) DESC, e.value
		LIMIT $2`,
		entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list co-occurring entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// DocumentsSharingEntities returns ids of documents published on or
// after the cutoff that share at least one canonical entity with the
// given document. Read with relaxed consistency; candidate generation
// tolerates slightly stale links.
func (r *EntityRepository) DocumentsSharingEntities(ctx context.Context, documentID uuid.UUID, since time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT other.document_id
		FROM document_entities own
		JOIN document_entities other ON other.entity_id = own.entity_id
		JOIN documents d ON d.id = other.document_id
		WHERE own.document_id = $1
		  AND other.document_id <> $1
		  AND d.published_at >= $2
		ORDER BY other.document_id`,
		documentID, timeToTimestamptz(since))
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate documents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEntity(row pgx.Row) (*models.CanonicalEntity, error) {
	var (
		ent                  models.CanonicalEntity
		kind                 string
		firstSeen, lastSeen  pgtype.Timestamptz
		createdAt, updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&ent.ID, &kind, &ent.Value, &firstSeen, &lastSeen, &ent.OccurrenceCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	ent.Kind = models.EntityKind(kind)
	ent.FirstSeen = timestamptzToTime(firstSeen)
	ent.LastSeen = timestamptzToTime(lastSeen)
	ent.CreatedAt = timestamptzToTime(createdAt)
	ent.UpdatedAt = timestamptzToTime(updatedAt)
	return &ent, nil
}

func scanEntities(rows pgx.Rows) ([]*models.CanonicalEntity, error) {
	var entities []*models.CanonicalEntity
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, ent)
	}
	return entities, rows.Err()
}

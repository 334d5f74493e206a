package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"threatlens-lab/internal/domain/models"
)

// CampaignRepository persists detected campaigns
type CampaignRepository struct {
	pool *pgxpool.Pool
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

const campaignColumns = `id, name, state, signature, document_ids, window_start, window_end, first_seen, last_seen, created_at, updated_at`

// Save upserts a campaign. Membership, signature, window bounds and
// state all write through; detection and analyst transitions share
// this path.
func (r *CampaignRepository) Save(ctx context.Context, c *models.Campaign) error {
	signature, err := json.Marshal(c.Signature)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign signature: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO campaigns (id, name, state, signature, document_ids, window_start, window_end, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    state = EXCLUDED.state,
		    signature = EXCLUDED.signature,
		    document_ids = EXCLUDED.document_ids,
		    window_start = EXCLUDED.window_start,
		    window_end = EXCLUDED.window_end,
		    first_seen = EXCLUDED.first_seen,
		    last_seen = EXCLUDED.last_seen,
		    updated_at = now()`,
		c.ID, c.Name, string(c.State), signature, c.DocumentIDs,
		timeToTimestamptz(c.WindowStart), timeToTimestamptz(c.WindowEnd),
		timeToTimestamptz(c.FirstSeen), timeToTimestamptz(c.LastSeen))
	if err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}
	return nil
}

// Get retrieves a campaign by id. Returns nil when absent.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1`, id)

	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// CampaignFilter narrows campaign listings
type CampaignFilter struct {
	State       models.CampaignState // empty means all states
	MinEntities int                  // minimum signature size
}

// List returns campaigns matching the filter, most recently active first
func (r *CampaignRepository) List(ctx context.Context, filter CampaignFilter) ([]*models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE ($1 = '' OR state = $1)
		  AND jsonb_array_length(signature) >= $2
		ORDER BY last_seen DESC, id ASC`,
		string(filter.State), filter.MinEntities)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read campaigns: %w", err)
	}
	return campaigns, nil
}

// Candidates returns all campaigns still open to new members
func (r *CampaignRepository) Candidates(ctx context.Context) ([]*models.Campaign, error) {
	return r.List(ctx, CampaignFilter{State: models.CampaignStateCandidate})
}

// ForDocument returns campaigns that include the given document
func (r *CampaignRepository) ForDocument(ctx context.Context, documentID uuid.UUID) ([]*models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE $1 = ANY(document_ids)
		ORDER BY last_seen DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns for document: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read campaigns: %w", err)
	}
	return campaigns, nil
}

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var (
		c         models.Campaign
		state     string
		signature []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&state,
		&signature,
		&c.DocumentIDs,
		&c.WindowStart,
		&c.WindowEnd,
		&c.FirstSeen,
		&c.LastSeen,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.State = models.CampaignState(state)
	if len(signature) > 0 {
		if err := json.Unmarshal(signature, &c.Signature); err != nil {
			return nil, fmt.Errorf("failed to unmarshal campaign signature: %w", err)
		}
	}
	return &c, nil
}

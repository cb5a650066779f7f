package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

const campaignColumns = `id, name, campaign_type, status, error_message,
	total_items, processed_items, successful_items, failed_items,
	created_at, updated_at, started_at, completed_at, last_heartbeat_at, metadata`

// CreateCampaign inserts a new campaign row.
func (s *Store) CreateCampaign(ctx context.Context, c *campaigns.Campaign) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO campaigns
			(id, name, campaign_type, status, error_message,
			 total_items, processed_items, successful_items, failed_items,
			 created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now(), $10)`,
		pgUUID(c.ID), c.Name, string(c.Type), string(c.Status), c.ErrorMessage,
		c.TotalItems, c.ProcessedItems, c.SuccessfulItems, c.FailedItems,
		[]byte(c.Metadata))
	if err != nil {
		return fmt.Errorf("insert campaign %s: %w", c.ID, err)
	}
	return nil
}

// GetCampaign retrieves a campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, pgUUID(id))
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("campaign %s: %w", id, campaigns.ErrNotFound)
		}
		return nil, fmt.Errorf("select campaign %s: %w", id, err)
	}
	return c, nil
}

// ListCampaigns returns campaigns in creation order, optionally filtered by
// status.
func (s *Store) ListCampaigns(ctx context.Context, status campaigns.CampaignStatus) ([]*campaigns.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*campaigns.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCampaignStatus performs the compare-and-swap transition. Zero rows
// affected means the stored status was not `from`.
func (s *Store) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, from, to campaigns.CampaignStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaigns SET
			status = $3,
			error_message = CASE WHEN $4 <> '' THEN $4 ELSE error_message END,
			started_at = CASE WHEN $3 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $3 IN ('completed', 'failed', 'cancelled') AND completed_at IS NULL THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE id = $1 AND status = $2`,
		pgUUID(id), string(from), string(to), errorMessage)
	if err != nil {
		return fmt.Errorf("update campaign %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s not in status %s: %w", id, from, campaigns.ErrConflict)
	}
	return nil
}

// scanCampaign reads one campaign row from a pgx row scanner.
func scanCampaign(row pgx.Row) (*campaigns.Campaign, error) {
	var (
		c        campaigns.Campaign
		id       pgtype.UUID
		typ      string
		status   string
		metadata []byte
	)
	err := row.Scan(&id, &c.Name, &typ, &status, &c.ErrorMessage,
		&c.TotalItems, &c.ProcessedItems, &c.SuccessfulItems, &c.FailedItems,
		&c.CreatedAt, &c.UpdatedAt, &c.StartedAt, &c.CompletedAt, &c.LastHeartbeatAt,
		&metadata)
	if err != nil {
		return nil, err
	}
	c.ID = fromPGUUID(id)
	c.Type = campaigns.CampaignType(typ)
	c.Status = campaigns.CampaignStatus(status)
	c.Metadata = metadata
	return &c, nil
}

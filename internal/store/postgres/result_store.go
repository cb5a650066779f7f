package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

// CommitBatch persists one engine batch in a single transaction: result rows,
// the campaign counter delta, the job's resume cursor and the lock heartbeat.
// The lock ownership check runs first; if the worker lost its lock the whole
// batch rolls back with ErrConflict.
func (s *Store) CommitBatch(ctx context.Context, cp *campaigns.BatchCheckpoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE campaign_jobs SET
			payload = $3,
			locked_at = now(),
			updated_at = now()
		WHERE id = $1 AND locked_by = $2`,
		pgUUID(cp.JobID), cp.WorkerID, []byte(cp.JobPayload))
	if err != nil {
		return fmt.Errorf("checkpoint job %s: %w", cp.JobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not locked by %s: %w", cp.JobID, cp.WorkerID, campaigns.ErrConflict)
	}

	if err := s.insertGenerated(ctx, tx, cp.GeneratedDomains); err != nil {
		return err
	}
	if err := s.insertDNSResults(ctx, tx, cp.DNSResults); err != nil {
		return err
	}
	if err := s.insertHTTPResults(ctx, tx, cp.HTTPResults); err != nil {
		return err
	}

	if err := applyCounterDelta(ctx, tx, cp.CampaignID, cp.Delta); err != nil {
		return err
	}

	if st := cp.GenerationState; st != nil {
		// The cursor only moves forward. A replayed batch from an older
		// checkpoint must not rewind it.
		_, err := tx.Exec(ctx, `
			INSERT INTO domain_generation_config_states (config_hash, last_offset, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (config_hash) DO UPDATE SET
				last_offset = GREATEST(domain_generation_config_states.last_offset, EXCLUDED.last_offset),
				updated_at = now()`,
			st.ConfigHash, st.LastOffset)
		if err != nil {
			return fmt.Errorf("upsert generation state %s: %w", st.ConfigHash, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoint for job %s: %w", cp.JobID, err)
	}
	return nil
}

func (s *Store) insertGenerated(ctx context.Context, tx pgx.Tx, domains []campaigns.GeneratedDomain) error {
	for _, d := range domains {
		generatedAt := d.GeneratedAt
		if generatedAt.IsZero() {
			generatedAt = time.Now().UTC()
		}
		// Replays of an already committed batch hit the (campaign_id,
		// offset_index) key and are dropped.
		_, err := tx.Exec(ctx, `
			INSERT INTO generated_domains (id, campaign_id, domain_name, offset_index, generated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (campaign_id, offset_index) DO NOTHING`,
			pgUUID(d.ID), pgUUID(d.CampaignID), d.DomainName, d.OffsetIndex, generatedAt)
		if err != nil {
			return fmt.Errorf("insert generated domain %s: %w", d.DomainName, err)
		}
	}
	return nil
}

func (s *Store) insertDNSResults(ctx context.Context, tx pgx.Tx, results []campaigns.DNSValidationResult) error {
	for _, r := range results {
		ips, err := json.Marshal(r.IPs)
		if err != nil {
			return fmt.Errorf("marshal ips for %s: %w", r.DomainName, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO dns_validation_results
				(id, campaign_id, domain_name, status, ips, resolver, error, attempts, last_checked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (campaign_id, domain_name) DO UPDATE SET
				attempts = dns_validation_results.attempts + 1,
				last_checked_at = EXCLUDED.last_checked_at`,
			pgUUID(r.ID), pgUUID(r.CampaignID), r.DomainName, string(r.Status),
			ips, r.Resolver, r.Error, r.Attempts, r.LastCheckedAt)
		if err != nil {
			return fmt.Errorf("insert dns result %s: %w", r.DomainName, err)
		}
	}
	return nil
}

func (s *Store) insertHTTPResults(ctx context.Context, tx pgx.Tx, results []campaigns.HTTPKeywordResult) error {
	for _, r := range results {
		matches, err := json.Marshal(r.Matches)
		if err != nil {
			return fmt.Errorf("marshal matches for %s: %w", r.DomainName, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO http_keyword_results
				(id, campaign_id, domain_name, status, http_status_code, final_url,
				 content_hash, matches, error, attempts, last_checked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (campaign_id, domain_name) DO UPDATE SET
				attempts = http_keyword_results.attempts + 1,
				last_checked_at = EXCLUDED.last_checked_at`,
			pgUUID(r.ID), pgUUID(r.CampaignID), r.DomainName, string(r.Status),
			r.HTTPStatusCode, r.FinalURL, r.ContentHash, matches, r.Error,
			r.Attempts, r.LastCheckedAt)
		if err != nil {
			return fmt.Errorf("insert http result %s: %w", r.DomainName, err)
		}
	}
	return nil
}

func applyCounterDelta(ctx context.Context, tx pgx.Tx, campaignID uuid.UUID, delta campaigns.CounterDelta) error {
	if delta.SetTotal != nil {
		_, err := tx.Exec(ctx,
			`UPDATE campaigns SET total_items = $2, updated_at = now() WHERE id = $1`,
			pgUUID(campaignID), *delta.SetTotal)
		if err != nil {
			return fmt.Errorf("set campaign %s total: %w", campaignID, err)
		}
	}
	_, err := tx.Exec(ctx, `
		UPDATE campaigns SET
			processed_items = processed_items + $2,
			successful_items = successful_items + $3,
			failed_items = failed_items + $4,
			last_heartbeat_at = now(),
			updated_at = now()
		WHERE id = $1`,
		pgUUID(campaignID), delta.Processed, delta.Successful, delta.Failed)
	if err != nil {
		return fmt.Errorf("apply counter delta for campaign %s: %w", campaignID, err)
	}
	return nil
}

// ListGeneratedDomains pages generated domains by offset index.
func (s *Store) ListGeneratedDomains(ctx context.Context, campaignID uuid.UUID, afterOffset int64, limit int) ([]campaigns.GeneratedDomain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, domain_name, offset_index, generated_at
		FROM generated_domains
		WHERE campaign_id = $1 AND offset_index > $2
		ORDER BY offset_index
		LIMIT $3`,
		pgUUID(campaignID), afterOffset, limit)
	if err != nil {
		return nil, fmt.Errorf("list generated domains for %s: %w", campaignID, err)
	}
	defer rows.Close()

	var out []campaigns.GeneratedDomain
	for rows.Next() {
		var (
			d      campaigns.GeneratedDomain
			id     pgtype.UUID
			campID pgtype.UUID
		)
		if err := rows.Scan(&id, &campID, &d.DomainName, &d.OffsetIndex, &d.GeneratedAt); err != nil {
			return nil, fmt.Errorf("scan generated domain: %w", err)
		}
		d.ID = fromPGUUID(id)
		d.CampaignID = fromPGUUID(campID)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListResolvedDomains pages resolved DNS result domain names lexicographically.
func (s *Store) ListResolvedDomains(ctx context.Context, campaignID uuid.UUID, afterDomain string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT domain_name
		FROM dns_validation_results
		WHERE campaign_id = $1 AND status = 'resolved' AND domain_name > $2
		ORDER BY domain_name
		LIMIT $3`,
		pgUUID(campaignID), afterDomain, limit)
	if err != nil {
		return nil, fmt.Errorf("list resolved domains for %s: %w", campaignID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan resolved domain: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// GetGenerationState returns the persisted cursor for a configuration hash.
func (s *Store) GetGenerationState(ctx context.Context, configHash string) (*campaigns.DomainGenerationConfigState, error) {
	var st campaigns.DomainGenerationConfigState
	err := s.pool.QueryRow(ctx, `
		SELECT config_hash, last_offset, updated_at
		FROM domain_generation_config_states
		WHERE config_hash = $1`,
		configHash).Scan(&st.ConfigHash, &st.LastOffset, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("generation state %s: %w", configHash, campaigns.ErrNotFound)
		}
		return nil, fmt.Errorf("select generation state %s: %w", configHash, err)
	}
	return &st, nil
}

// CountGeneratedDomains counts committed generated domains of a campaign.
func (s *Store) CountGeneratedDomains(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM generated_domains WHERE campaign_id = $1`,
		pgUUID(campaignID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count generated domains for %s: %w", campaignID, err)
	}
	return n, nil
}

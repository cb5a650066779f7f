package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

const jobColumns = `id, campaign_id, job_type, status, scheduled_at,
	next_execution_at, attempts, max_attempts, last_error,
	locked_by, locked_at, payload, created_at, updated_at`

// CreateJob inserts a new job into the queue.
func (s *Store) CreateJob(ctx context.Context, j *campaigns.CampaignJob) error {
	scheduledAt := j.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}
	nextExecutionAt := j.NextExecutionAt
	if nextExecutionAt.IsZero() {
		nextExecutionAt = scheduledAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO campaign_jobs
			(id, campaign_id, job_type, status, scheduled_at, next_execution_at,
			 attempts, max_attempts, last_error, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
		pgUUID(j.ID), pgUUID(j.CampaignID), string(j.Type), string(j.Status),
		scheduledAt, nextExecutionAt, j.Attempts, j.MaxAttempts, j.LastError,
		[]byte(j.Payload))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*campaigns.CampaignJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM campaign_jobs WHERE id = $1`, pgUUID(id))
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, campaigns.ErrNotFound)
		}
		return nil, fmt.Errorf("select job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns all jobs of a campaign in creation order.
func (s *Store) ListJobs(ctx context.Context, campaignID uuid.UUID) ([]*campaigns.CampaignJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM campaign_jobs WHERE campaign_id = $1 ORDER BY created_at`,
		pgUUID(campaignID))
	if err != nil {
		return nil, fmt.Errorf("list jobs for campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	var out []*campaigns.CampaignJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClaimNextJob claims the earliest eligible job with one conditional UPDATE.
// SKIP LOCKED keeps concurrent claimers off the same candidate row; a claimer
// that still loses the race simply sees no row and reports found=false.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string) (*campaigns.CampaignJob, bool, error) {
	staleBefore := time.Now().Add(-s.lockStaleness)
	row := s.pool.QueryRow(ctx, `
		UPDATE campaign_jobs SET
			status = 'running',
			locked_by = $1,
			locked_at = now(),
			attempts = attempts + 1,
			updated_at = now()
		WHERE id = (
			SELECT j.id FROM campaign_jobs j
			JOIN campaigns c ON c.id = j.campaign_id
			WHERE j.status IN ('pending', 'queued', 'retry')
			  AND c.status IN ('queued', 'running')
			  AND j.next_execution_at <= now()
			  AND (j.locked_by IS NULL OR j.locked_by = '' OR j.locked_at < $2)
			ORDER BY j.next_execution_at, j.created_at
			LIMIT 1
			FOR UPDATE OF j SKIP LOCKED
		)
		RETURNING `+jobColumns,
		workerID, staleBefore)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim job for %s: %w", workerID, err)
	}
	return j, true, nil
}

// ReleaseJob releases a job held by workerID. Zero rows affected means the
// lock was reclaimed in the meantime.
func (s *Store) ReleaseJob(ctx context.Context, jobID uuid.UUID, workerID string, outcome campaigns.JobOutcome) error {
	next := outcome.NextExecutionAt
	if next.IsZero() {
		next = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaign_jobs SET
			status = $3,
			last_error = $4,
			next_execution_at = CASE WHEN $3 = 'retry' THEN $5 ELSE next_execution_at END,
			locked_by = NULL,
			locked_at = NULL,
			updated_at = now()
		WHERE id = $1 AND locked_by = $2`,
		pgUUID(jobID), workerID, string(outcome.Status), outcome.LastError, next)
	if err != nil {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not locked by %s: %w", jobID, workerID, campaigns.ErrConflict)
	}
	return nil
}

// RequeueStuckJobs force-requeues running/processing jobs whose lock is older
// than staleness.
func (s *Store) RequeueStuckJobs(ctx context.Context, staleness time.Duration) (int, error) {
	staleBefore := time.Now().Add(-staleness)
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaign_jobs SET
			status = 'retry',
			locked_by = NULL,
			locked_at = NULL,
			next_execution_at = now(),
			updated_at = now()
		WHERE status IN ('running', 'processing')
		  AND locked_at IS NOT NULL
		  AND locked_at < $1`,
		staleBefore)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CancelPendingJobs cancels every non-terminal, unclaimed job of a campaign.
func (s *Store) CancelPendingJobs(ctx context.Context, campaignID uuid.UUID) (int, error) {
	staleBefore := time.Now().Add(-s.lockStaleness)
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaign_jobs SET
			status = 'cancelled',
			locked_by = NULL,
			locked_at = NULL,
			updated_at = now()
		WHERE campaign_id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')
		  AND (locked_by IS NULL OR locked_by = '' OR locked_at < $2)`,
		pgUUID(campaignID), staleBefore)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs for campaign %s: %w", campaignID, err)
	}
	return int(tag.RowsAffected()), nil
}

// scanJob reads one job row.
func scanJob(row pgx.Row) (*campaigns.CampaignJob, error) {
	var (
		j        campaigns.CampaignJob
		id       pgtype.UUID
		campID   pgtype.UUID
		typ      string
		status   string
		lockedBy *string
		payload  []byte
	)
	err := row.Scan(&id, &campID, &typ, &status, &j.ScheduledAt,
		&j.NextExecutionAt, &j.Attempts, &j.MaxAttempts, &j.LastError,
		&lockedBy, &j.LockedAt, &payload, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.ID = fromPGUUID(id)
	j.CampaignID = fromPGUUID(campID)
	j.Type = campaigns.CampaignType(typ)
	j.Status = campaigns.JobStatus(status)
	if lockedBy != nil {
		j.LockedBy = *lockedBy
	}
	j.Payload = payload
	return &j, nil
}

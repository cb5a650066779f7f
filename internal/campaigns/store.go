package campaigns

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a campaign, job or result row does not exist.
	ErrNotFound = errors.New("campaigns: not found")
	// ErrConflict is returned when a compare-and-swap status update or a lock
	// check fails because another writer got there first.
	ErrConflict = errors.New("campaigns: conflict")
)

// CounterDelta is the per-batch increment applied to campaign counters. When
// SetTotal is non-nil the campaign's TotalItems is set to that value (used
// once a generation job establishes the real combination space).
type CounterDelta struct {
	Processed  int64
	Successful int64
	Failed     int64
	SetTotal   *int64
}

// JobOutcome describes how a worker releases a claimed job.
type JobOutcome struct {
	Status    JobStatus // JobStatusCompleted, JobStatusRetry, JobStatusFailed or JobStatusCancelled
	LastError string
	// NextExecutionAt schedules the next attempt for JobStatusRetry outcomes.
	NextExecutionAt time.Time
}

// BatchCheckpoint is everything one engine batch commits atomically: result
// rows, the campaign counter delta, the job's updated payload (resume cursor)
// and, for generation jobs, the configuration cursor. A crash mid-batch
// resumes from the last committed checkpoint.
type BatchCheckpoint struct {
	JobID      uuid.UUID
	WorkerID   string
	CampaignID uuid.UUID

	JobPayload json.RawMessage
	Delta      CounterDelta

	GeneratedDomains []GeneratedDomain
	DNSResults       []DNSValidationResult
	HTTPResults      []HTTPKeywordResult

	GenerationState *DomainGenerationConfigState
}

// CampaignStore persists campaigns. Status mutations go through the
// compare-and-swap UpdateCampaignStatus so a pause request can never race an
// in-flight completion.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, campaign *Campaign) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error)
	ListCampaigns(ctx context.Context, status CampaignStatus) ([]*Campaign, error)

	// UpdateCampaignStatus transitions a campaign from one status to another.
	// Returns ErrConflict when the stored status is not `from`.
	UpdateCampaignStatus(ctx context.Context, id uuid.UUID, from, to CampaignStatus, errorMessage string) error
}

// JobStore is the durable job queue. The claim is a single atomic
// conditional update; a lost race is reported as found=false, never an error.
type JobStore interface {
	CreateJob(ctx context.Context, job *CampaignJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*CampaignJob, error)
	ListJobs(ctx context.Context, campaignID uuid.UUID) ([]*CampaignJob, error)

	// ClaimNextJob claims the earliest eligible job (claimable status, active
	// campaign, due next_execution_at, unlocked or stale lock) for workerID,
	// incrementing its attempt count. found is false when no job is eligible.
	ClaimNextJob(ctx context.Context, workerID string) (job *CampaignJob, found bool, err error)

	// ReleaseJob releases a job held by workerID with the given outcome.
	// Returns ErrConflict when workerID no longer holds the lock.
	ReleaseJob(ctx context.Context, jobID uuid.UUID, workerID string, outcome JobOutcome) error

	// RequeueStuckJobs moves running/processing jobs whose lock is older than
	// staleness back to retry and clears the lock. Returns the number of jobs
	// requeued.
	RequeueStuckJobs(ctx context.Context, staleness time.Duration) (int, error)

	// CancelPendingJobs marks every non-terminal, unclaimed job of a campaign
	// cancelled. Running jobs stop cooperatively at their next batch boundary.
	CancelPendingJobs(ctx context.Context, campaignID uuid.UUID) (int, error)
}

// CheckpointStore commits one batch atomically: counters, results, cursors
// and the job lock heartbeat move together or not at all.
type CheckpointStore interface {
	// CommitBatch persists the checkpoint and refreshes the job's lock
	// timestamp (the heartbeat). Returns ErrConflict when the worker no
	// longer holds the job lock.
	CommitBatch(ctx context.Context, cp *BatchCheckpoint) error
}

// ResultStore reads persisted engine output. Validation jobs consume their
// inputs through these listings in deterministic order, which is what makes
// their cursors resumable.
type ResultStore interface {
	// ListGeneratedDomains returns generated domains of a campaign with
	// OffsetIndex > afterOffset, ordered by OffsetIndex, up to limit.
	ListGeneratedDomains(ctx context.Context, campaignID uuid.UUID, afterOffset int64, limit int) ([]GeneratedDomain, error)

	// ListResolvedDomains returns the domain names of resolved DNS results of
	// a campaign with DomainName > afterDomain, in lexicographic order, up to
	// limit.
	ListResolvedDomains(ctx context.Context, campaignID uuid.UUID, afterDomain string, limit int) ([]string, error)

	// GetGenerationState returns the persisted cursor for a generation
	// configuration hash, or ErrNotFound if none exists yet.
	GetGenerationState(ctx context.Context, configHash string) (*DomainGenerationConfigState, error)

	CountGeneratedDomains(ctx context.Context, campaignID uuid.UUID) (int64, error)
}

// Store is the full persistence surface the worker pool and orchestrator
// operate against. Implementations: the Postgres store and the in-memory
// store.
type Store interface {
	CampaignStore
	JobStore
	CheckpointStore
	ResultStore
}

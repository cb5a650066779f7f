package campaigns

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus defines the possible statuses of a campaign job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusRunning    JobStatus = "running"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetry      JobStatus = "retry"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether s is a final job status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Claimable reports whether a job in this status is eligible for claiming by
// a worker, subject to scheduling time and lock checks.
func (s JobStatus) Claimable() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusRetry:
		return true
	}
	return false
}

// CampaignJob is one unit of queued work belonging to a campaign. The lock
// columns (LockedBy/LockedAt) implement the optimistic claim: at most one
// live worker holds a non-stale lock on a job.
type CampaignJob struct {
	ID         uuid.UUID    `json:"jobId"`
	CampaignID uuid.UUID    `json:"campaignId"`
	Type       CampaignType `json:"jobType"`
	Status     JobStatus    `json:"status"`

	ScheduledAt     time.Time `json:"scheduledAt"`
	NextExecutionAt time.Time `json:"nextExecutionAt"`

	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`
	LastError   string `json:"lastError,omitempty"`

	LockedBy string     `json:"lockedBy,omitempty"`
	LockedAt *time.Time `json:"lockedAt,omitempty"`

	// Payload carries the type-specific parameters and the resume cursor for
	// the engine processing this job.
	Payload json.RawMessage `json:"payload,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LockStale reports whether the job's lock is older than the given staleness
// threshold at the supplied reference time. Unlocked jobs are never stale.
func (j *CampaignJob) LockStale(now time.Time, staleness time.Duration) bool {
	if j.LockedAt == nil || j.LockedBy == "" {
		return false
	}
	return now.Sub(*j.LockedAt) >= staleness
}

// DomainGenerationJobPayload carries the parameters and resume cursor for a
// domain generation job.
type DomainGenerationJobPayload struct {
	PatternType    string `json:"patternType"` // "prefix", "suffix" or "both"
	ConstantPart   string `json:"constantPart"`
	VariableLength int    `json:"variableLength"`
	CharacterSet   string `json:"characterSet"`
	TLD            string `json:"tld"`

	// TargetCount is how many domains the campaign requested. Zero means the
	// full combination space.
	TargetCount int64 `json:"targetCount"`
	// CurrentOffset is the checkpoint: the next offset to generate.
	CurrentOffset int64 `json:"currentOffset"`
	BatchSize     int   `json:"batchSize,omitempty"`
}

// DNSValidationJobPayload carries the parameters and resume cursor for a DNS
// validation job. Domains are consumed from the generated domains of the
// source campaign in offset order.
type DNSValidationJobPayload struct {
	SourceCampaignID uuid.UUID `json:"sourceCampaignId"`
	PersonaIDs       []string  `json:"personaIds,omitempty"`
	BatchSize        int       `json:"batchSize,omitempty"`
	// NextOffset is the checkpoint: the generated-domain offset index to
	// resume from (exclusive).
	NextOffset int64 `json:"nextOffset"`
}

// HTTPKeywordJobPayload carries the parameters and resume cursor for an HTTP
// keyword validation job. Domains are consumed from the resolved DNS results
// of the source campaign in domain-name order.
type HTTPKeywordJobPayload struct {
	SourceCampaignID uuid.UUID `json:"sourceCampaignId"`
	PersonaIDs       []string  `json:"personaIds,omitempty"`
	KeywordSetID     string    `json:"keywordSetId"`
	ProxySelection   string    `json:"proxySelection,omitempty"` // "round_robin", "random" or "" for direct
	BatchSize        int       `json:"batchSize,omitempty"`
	// LastDomain is the checkpoint: the last domain processed (exclusive
	// resume key).
	LastDomain string `json:"lastDomain,omitempty"`
}

// DecodeJobPayload unmarshals a job payload into the struct matching the job
// type.
func DecodeJobPayload(job *CampaignJob, dst any) error {
	if len(job.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", job.ID)
	}
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return fmt.Errorf("decode payload for job %s: %w", job.ID, err)
	}
	return nil
}

// EncodeJobPayload marshals a payload struct for storage on a job row.
func EncodeJobPayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return data, nil
}

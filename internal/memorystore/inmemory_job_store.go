package memorystore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

// CreateJob inserts a new campaign job into the queue.
func (s *Store) CreateJob(_ context.Context, job *campaigns.CampaignJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists: %w", job.ID, campaigns.ErrConflict)
	}
	now := s.now()
	cp := *job
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.ScheduledAt.IsZero() {
		cp.ScheduledAt = now
	}
	if cp.NextExecutionAt.IsZero() {
		cp.NextExecutionAt = cp.ScheduledAt
	}
	s.jobs[job.ID] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*campaigns.CampaignJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, campaigns.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns all jobs of a campaign in creation order.
func (s *Store) ListJobs(_ context.Context, campaignID uuid.UUID) ([]*campaigns.CampaignJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*campaigns.CampaignJob
	for _, j := range s.jobs {
		if j.CampaignID == campaignID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// ClaimNextJob atomically claims the earliest eligible job for workerID. The
// whole scan-and-update happens under one lock, which is the in-memory
// equivalent of the Postgres conditional update: concurrent claimers can
// never both see the same job as eligible.
func (s *Store) ClaimNextJob(_ context.Context, workerID string) (*campaigns.CampaignJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidate *campaigns.CampaignJob
	for _, j := range s.jobs {
		if !j.Status.Claimable() {
			continue
		}
		if c, ok := s.campaigns[j.CampaignID]; !ok || !campaignActive(c.Status) {
			continue
		}
		if j.NextExecutionAt.After(now) {
			continue
		}
		if j.LockedBy != "" && !j.LockStale(now, s.lockStaleness) {
			continue
		}
		if candidate == nil || earlierJob(j, candidate) {
			candidate = j
		}
	}
	if candidate == nil {
		return nil, false, nil
	}

	candidate.Status = campaigns.JobStatusRunning
	candidate.LockedBy = workerID
	t := now
	candidate.LockedAt = &t
	candidate.Attempts++
	candidate.UpdatedAt = now

	cp := *candidate
	return &cp, true, nil
}

// campaignActive reports whether a campaign's jobs may be claimed. Pending
// campaigns have not been started; pausing and terminal campaigns keep their
// queued jobs parked.
func campaignActive(s campaigns.CampaignStatus) bool {
	return s == campaigns.StatusQueued || s == campaigns.StatusRunning
}

// earlierJob orders claims by next execution time, then creation order.
func earlierJob(a, b *campaigns.CampaignJob) bool {
	if !a.NextExecutionAt.Equal(b.NextExecutionAt) {
		return a.NextExecutionAt.Before(b.NextExecutionAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// ReleaseJob releases a claimed job with its outcome. The lock owner check
// rejects releases from workers whose claim was reclaimed as stuck.
func (s *Store) ReleaseJob(_ context.Context, jobID uuid.UUID, workerID string, outcome campaigns.JobOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, campaigns.ErrNotFound)
	}
	if j.LockedBy != workerID {
		return fmt.Errorf("job %s locked by %q, not %q: %w", jobID, j.LockedBy, workerID, campaigns.ErrConflict)
	}

	now := s.now()
	j.Status = outcome.Status
	j.LastError = outcome.LastError
	j.LockedBy = ""
	j.LockedAt = nil
	j.UpdatedAt = now
	if outcome.Status == campaigns.JobStatusRetry {
		next := outcome.NextExecutionAt
		if next.IsZero() {
			next = now
		}
		j.NextExecutionAt = next
	}
	return nil
}

// RequeueStuckJobs flips running/processing jobs with stale locks back to
// retry and clears their lock. The attempt is counted when the job is next
// claimed, so one reclaim costs exactly one attempt.
func (s *Store) RequeueStuckJobs(_ context.Context, staleness time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, j := range s.jobs {
		if j.Status != campaigns.JobStatusRunning && j.Status != campaigns.JobStatusProcessing {
			continue
		}
		if !j.LockStale(now, staleness) {
			continue
		}
		j.Status = campaigns.JobStatusRetry
		j.LockedBy = ""
		j.LockedAt = nil
		j.NextExecutionAt = now
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

// CancelPendingJobs cancels every non-terminal, unclaimed job of a campaign.
func (s *Store) CancelPendingJobs(_ context.Context, campaignID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, j := range s.jobs {
		if j.CampaignID != campaignID {
			continue
		}
		if j.Status.Terminal() {
			continue
		}
		if j.LockedBy != "" && !j.LockStale(now, s.lockStaleness) {
			continue // running batch finishes; the pool observes the campaign status
		}
		j.Status = campaigns.JobStatusCancelled
		j.LockedBy = ""
		j.LockedAt = nil
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

package memorystore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

// CommitBatch applies one engine batch atomically: result rows, counter
// deltas, the job's resume cursor and the generation state all land under a
// single lock acquisition, mirroring the Postgres transaction.
func (s *Store) CommitBatch(_ context.Context, cp *campaigns.BatchCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[cp.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", cp.JobID, campaigns.ErrNotFound)
	}
	if job.LockedBy != cp.WorkerID {
		return fmt.Errorf("job %s locked by %q, not %q: %w", cp.JobID, job.LockedBy, cp.WorkerID, campaigns.ErrConflict)
	}
	c, ok := s.campaigns[cp.CampaignID]
	if !ok {
		return fmt.Errorf("campaign %s: %w", cp.CampaignID, campaigns.ErrNotFound)
	}

	now := s.now()

	// Job checkpoint + lock heartbeat.
	if cp.JobPayload != nil {
		job.Payload = cp.JobPayload
	}
	t := now
	job.LockedAt = &t
	job.UpdatedAt = now

	// Result rows. Generated domains are append-only keyed by offset;
	// validation results are append-only except for retry bookkeeping.
	for _, gd := range cp.GeneratedDomains {
		seen, ok := s.generatedSeen[cp.CampaignID]
		if !ok {
			seen = make(map[int64]struct{})
			s.generatedSeen[cp.CampaignID] = seen
		}
		if _, dup := seen[gd.OffsetIndex]; dup {
			continue
		}
		seen[gd.OffsetIndex] = struct{}{}
		if gd.ID == uuid.Nil {
			gd.ID = uuid.New()
		}
		if gd.GeneratedAt.IsZero() {
			gd.GeneratedAt = now
		}
		s.generated[cp.CampaignID] = append(s.generated[cp.CampaignID], gd)
	}

	for _, r := range cp.DNSResults {
		byDomain, ok := s.dnsResults[cp.CampaignID]
		if !ok {
			byDomain = make(map[string]*campaigns.DNSValidationResult)
			s.dnsResults[cp.CampaignID] = byDomain
		}
		if existing, dup := byDomain[r.DomainName]; dup {
			existing.Attempts++
			existing.LastCheckedAt = now
			continue
		}
		rc := r
		if rc.ID == uuid.Nil {
			rc.ID = uuid.New()
		}
		if rc.Attempts == 0 {
			rc.Attempts = 1
		}
		if rc.LastCheckedAt.IsZero() {
			rc.LastCheckedAt = now
		}
		byDomain[r.DomainName] = &rc
	}

	for _, r := range cp.HTTPResults {
		byDomain, ok := s.httpResults[cp.CampaignID]
		if !ok {
			byDomain = make(map[string]*campaigns.HTTPKeywordResult)
			s.httpResults[cp.CampaignID] = byDomain
		}
		if existing, dup := byDomain[r.DomainName]; dup {
			existing.Attempts++
			existing.LastCheckedAt = now
			continue
		}
		rc := r
		if rc.ID == uuid.Nil {
			rc.ID = uuid.New()
		}
		if rc.Attempts == 0 {
			rc.Attempts = 1
		}
		if rc.LastCheckedAt.IsZero() {
			rc.LastCheckedAt = now
		}
		byDomain[r.DomainName] = &rc
	}

	// Campaign counters.
	c.ProcessedItems += cp.Delta.Processed
	c.SuccessfulItems += cp.Delta.Successful
	c.FailedItems += cp.Delta.Failed
	if cp.Delta.SetTotal != nil {
		c.TotalItems = *cp.Delta.SetTotal
	}
	hb := now
	c.LastHeartbeatAt = &hb
	c.UpdatedAt = now

	// Generation cursor only ever advances.
	if gs := cp.GenerationState; gs != nil {
		existing, ok := s.genStates[gs.ConfigHash]
		if !ok || gs.LastOffset > existing.LastOffset {
			st := *gs
			st.UpdatedAt = now
			s.genStates[gs.ConfigHash] = &st
		}
	}
	return nil
}

// ListGeneratedDomains returns generated domains with OffsetIndex beyond
// afterOffset, ordered by offset.
func (s *Store) ListGeneratedDomains(_ context.Context, campaignID uuid.UUID, afterOffset int64, limit int) ([]campaigns.GeneratedDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.generated[campaignID]
	out := make([]campaigns.GeneratedDomain, 0, limit)
	for _, gd := range rows {
		if gd.OffsetIndex > afterOffset {
			out = append(out, gd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OffsetIndex < out[j].OffsetIndex })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListResolvedDomains returns resolved DNS result domain names beyond
// afterDomain in lexicographic order.
func (s *Store) ListResolvedDomains(_ context.Context, campaignID uuid.UUID, afterDomain string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for domain, r := range s.dnsResults[campaignID] {
		if r.Status == campaigns.ValidationResolved && domain > afterDomain {
			out = append(out, domain)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetGenerationState returns the persisted cursor for a configuration hash.
func (s *Store) GetGenerationState(_ context.Context, configHash string) (*campaigns.DomainGenerationConfigState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.genStates[configHash]
	if !ok {
		return nil, fmt.Errorf("generation state %s: %w", configHash, campaigns.ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

// CountGeneratedDomains returns the number of generated domain rows of a
// campaign.
func (s *Store) CountGeneratedDomains(_ context.Context, campaignID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.generated[campaignID])), nil
}

// DNSResult returns a stored DNS validation result, for tests and status
// queries.
func (s *Store) DNSResult(campaignID uuid.UUID, domain string) (*campaigns.DNSValidationResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.dnsResults[campaignID][domain]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// HTTPResult returns a stored HTTP keyword result, for tests and status
// queries.
func (s *Store) HTTPResult(campaignID uuid.UUID, domain string) (*campaigns.HTTPKeywordResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.httpResults[campaignID][domain]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

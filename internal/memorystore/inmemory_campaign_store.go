// Package memorystore provides an in-memory implementation of the campaigns
// persistence interfaces. It mirrors the claim, staleness and ordering
// semantics of the Postgres store and backs tests and database-less
// development runs.
package memorystore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

// CreateCampaign saves a new campaign to the store.
func (s *Store) CreateCampaign(_ context.Context, campaign *campaigns.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaigns[campaign.ID]; exists {
		return fmt.Errorf("campaign %s already exists: %w", campaign.ID, campaigns.ErrConflict)
	}
	now := s.now()
	cp := *campaign
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.campaigns[campaign.ID] = &cp
	return nil
}

// GetCampaign retrieves a campaign by ID.
func (s *Store) GetCampaign(_ context.Context, id uuid.UUID) (*campaigns.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, campaigns.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// ListCampaigns returns campaigns, optionally filtered by status.
func (s *Store) ListCampaigns(_ context.Context, status campaigns.CampaignStatus) ([]*campaigns.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*campaigns.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateCampaignStatus performs the compare-and-swap status transition.
func (s *Store) UpdateCampaignStatus(_ context.Context, id uuid.UUID, from, to campaigns.CampaignStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s: %w", id, campaigns.ErrNotFound)
	}
	if c.Status != from {
		return fmt.Errorf("campaign %s is %s, not %s: %w", id, c.Status, from, campaigns.ErrConflict)
	}
	now := s.now()
	c.Status = to
	c.UpdatedAt = now
	if errorMessage != "" {
		c.ErrorMessage = errorMessage
	}
	switch {
	case to == campaigns.StatusRunning && c.StartedAt == nil:
		t := now
		c.StartedAt = &t
	case to.Terminal() && c.CompletedAt == nil:
		t := now
		c.CompletedAt = &t
	}
	c.AuditLog = append(c.AuditLog, campaigns.CampaignAuditEntry{
		Timestamp: now,
		Action:    "status_change",
		Description: fmt.Sprintf("%s -> %s", from, to),
	})
	return nil
}

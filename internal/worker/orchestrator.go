package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/domaingen"
)

// Orchestrator is the command surface for campaigns: it creates them with
// their initial job, drives lifecycle transitions and answers status queries.
// Batch execution itself belongs to the Pool.
type Orchestrator struct {
	store  campaigns.Store
	appCfg *config.AppConfig
}

func NewOrchestrator(store campaigns.Store, appCfg *config.AppConfig) *Orchestrator {
	if appCfg == nil {
		appCfg = config.DefaultConfig()
	}
	return &Orchestrator{store: store, appCfg: appCfg}
}

// DomainGenerationRequest are the user-supplied parameters for a generation
// campaign.
type DomainGenerationRequest struct {
	Name           string `json:"name"`
	PatternType    string `json:"patternType"`
	ConstantPart   string `json:"constantPart"`
	VariableLength int    `json:"variableLength"`
	CharacterSet   string `json:"characterSet"`
	TLD            string `json:"tld"`
	// TargetCount caps how many domains to generate. Zero means the full
	// combination space.
	TargetCount int64 `json:"targetCount,omitempty"`
	BatchSize   int   `json:"batchSize,omitempty"`
}

// DNSValidationRequest are the user-supplied parameters for a DNS validation
// campaign over a completed generation campaign's output.
type DNSValidationRequest struct {
	Name             string    `json:"name"`
	SourceCampaignID uuid.UUID `json:"sourceCampaignId"`
	PersonaIDs       []string  `json:"personaIds,omitempty"`
	BatchSize        int       `json:"batchSize,omitempty"`
}

// HTTPKeywordRequest are the user-supplied parameters for an HTTP keyword
// campaign over a DNS validation campaign's resolved domains.
type HTTPKeywordRequest struct {
	Name             string    `json:"name"`
	SourceCampaignID uuid.UUID `json:"sourceCampaignId"`
	PersonaIDs       []string  `json:"personaIds,omitempty"`
	KeywordSetID     string    `json:"keywordSetId"`
	ProxySelection   string    `json:"proxySelection,omitempty"`
	BatchSize        int       `json:"batchSize,omitempty"`
}

// CreateDomainGenerationCampaign validates the generation parameters, creates
// the campaign in pending status with its single queued job, and returns it.
// TotalItems is set up front from the combination space so progress is
// meaningful from the first batch.
func (o *Orchestrator) CreateDomainGenerationCampaign(ctx context.Context, req DomainGenerationRequest) (*campaigns.Campaign, error) {
	gen, err := domaingen.New(domaingen.Config{
		PatternType:    domaingen.PatternType(req.PatternType),
		ConstantPart:   req.ConstantPart,
		VariableLength: req.VariableLength,
		CharacterSet:   req.CharacterSet,
		TLD:            req.TLD,
	})
	if err != nil {
		return nil, err
	}
	if req.TargetCount < 0 {
		return nil, fmt.Errorf("targetCount must not be negative")
	}

	total := gen.Total()
	if req.TargetCount > 0 && req.TargetCount < total {
		total = req.TargetCount
	}

	payload := campaigns.DomainGenerationJobPayload{
		PatternType:    req.PatternType,
		ConstantPart:   req.ConstantPart,
		VariableLength: req.VariableLength,
		CharacterSet:   req.CharacterSet,
		TLD:            req.TLD,
		TargetCount:    req.TargetCount,
		BatchSize:      req.BatchSize,
	}
	return o.createCampaignWithJob(ctx, req.Name, campaigns.TypeDomainGeneration, total, payload)
}

// CreateDNSValidationCampaign creates a DNS validation campaign over the
// generated output of a source campaign. The source must be a completed
// domain generation campaign.
func (o *Orchestrator) CreateDNSValidationCampaign(ctx context.Context, req DNSValidationRequest) (*campaigns.Campaign, error) {
	source, err := o.requireSource(ctx, req.SourceCampaignID, campaigns.TypeDomainGeneration)
	if err != nil {
		return nil, err
	}
	for _, id := range req.PersonaIDs {
		if _, ok := o.appCfg.GetDNSPersona(id); !ok {
			return nil, fmt.Errorf("unknown DNS persona %q", id)
		}
	}

	payload := campaigns.DNSValidationJobPayload{
		SourceCampaignID: source.ID,
		PersonaIDs:       req.PersonaIDs,
		BatchSize:        req.BatchSize,
		// Offsets start at 0 and the listing cursor is exclusive.
		NextOffset: -1,
	}
	return o.createCampaignWithJob(ctx, req.Name, campaigns.TypeDNSValidation, source.SuccessfulItems, payload)
}

// CreateHTTPKeywordCampaign creates an HTTP keyword validation campaign over
// the resolved domains of a source DNS validation campaign.
func (o *Orchestrator) CreateHTTPKeywordCampaign(ctx context.Context, req HTTPKeywordRequest) (*campaigns.Campaign, error) {
	source, err := o.requireSource(ctx, req.SourceCampaignID, campaigns.TypeDNSValidation)
	if err != nil {
		return nil, err
	}
	if req.KeywordSetID == "" {
		return nil, fmt.Errorf("keywordSetId is required")
	}
	if _, ok := o.appCfg.GetKeywordSet(req.KeywordSetID); !ok {
		return nil, fmt.Errorf("unknown keyword set %q", req.KeywordSetID)
	}
	for _, id := range req.PersonaIDs {
		if _, ok := o.appCfg.GetHTTPPersona(id); !ok {
			return nil, fmt.Errorf("unknown HTTP persona %q", id)
		}
	}
	switch req.ProxySelection {
	case "", "round_robin", "random":
	default:
		return nil, fmt.Errorf("unknown proxy selection %q", req.ProxySelection)
	}

	payload := campaigns.HTTPKeywordJobPayload{
		SourceCampaignID: source.ID,
		PersonaIDs:       req.PersonaIDs,
		KeywordSetID:     req.KeywordSetID,
		ProxySelection:   req.ProxySelection,
		BatchSize:        req.BatchSize,
		LastDomain:       "",
	}
	// The resolved-domain count is only known once the engine counts it, so
	// the total starts at 0 here.
	return o.createCampaignWithJob(ctx, req.Name, campaigns.TypeHTTPKeywordValidation, 0, payload)
}

func (o *Orchestrator) requireSource(ctx context.Context, id uuid.UUID, wantType campaigns.CampaignType) (*campaigns.Campaign, error) {
	source, err := o.store.GetCampaign(ctx, id)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return nil, fmt.Errorf("source campaign %s not found", id)
		}
		return nil, err
	}
	if source.Type != wantType {
		return nil, fmt.Errorf("source campaign %s is a %s campaign, want %s", id, source.Type, wantType)
	}
	if source.Status != campaigns.StatusCompleted {
		return nil, fmt.Errorf("source campaign %s is %s, must be completed", id, source.Status)
	}
	return source, nil
}

func (o *Orchestrator) createCampaignWithJob(ctx context.Context, name string, campaignType campaigns.CampaignType, total int64, payload any) (*campaigns.Campaign, error) {
	if name == "" {
		return nil, fmt.Errorf("campaign name is required")
	}

	encoded, err := campaigns.EncodeJobPayload(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	campaign := &campaigns.Campaign{
		ID:         uuid.New(),
		Name:       name,
		Type:       campaignType,
		Status:     campaigns.StatusPending,
		TotalItems: total,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	job := &campaigns.CampaignJob{
		ID:              uuid.New(),
		CampaignID:      campaign.ID,
		Type:            campaignType,
		Status:          campaigns.JobStatusPending,
		ScheduledAt:     now,
		NextExecutionAt: now,
		MaxAttempts:     o.appCfg.Worker.MaxAttempts,
		Payload:         encoded,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create campaign job: %w", err)
	}

	log.Printf("Orchestrator: Created %s campaign %s (%q)", campaignType, campaign.ID, name)
	return campaign, nil
}

// StartCampaign moves a pending campaign to queued, making its jobs eligible
// for claiming.
func (o *Orchestrator) StartCampaign(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error) {
	return o.transition(ctx, id, campaigns.StatusPending, campaigns.StatusQueued)
}

// PauseCampaign requests a pause. Workers observe the pausing status at their
// next batch boundary, release their jobs and the campaign settles to paused.
func (o *Orchestrator) PauseCampaign(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error) {
	campaign, err := o.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	switch campaign.Status {
	case campaigns.StatusQueued, campaigns.StatusRunning:
	default:
		return nil, fmt.Errorf("campaign %s is %s, cannot pause: %w", id, campaign.Status, campaigns.ErrConflict)
	}
	if err := o.store.UpdateCampaignStatus(ctx, id, campaign.Status, campaigns.StatusPausing, ""); err != nil {
		return nil, err
	}
	log.Printf("Orchestrator: Pause requested for campaign %s", id)
	return o.store.GetCampaign(ctx, id)
}

// ResumeCampaign re-queues a paused campaign. Its jobs resume from their last
// committed checkpoint.
func (o *Orchestrator) ResumeCampaign(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error) {
	return o.transition(ctx, id, campaigns.StatusPaused, campaigns.StatusQueued)
}

// CancelCampaign cancels a campaign from any non-terminal status. Unclaimed
// jobs are cancelled immediately; running workers stop at their next batch
// boundary. Cancelling a terminal or already cancelled campaign is a no-op.
func (o *Orchestrator) CancelCampaign(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error) {
	campaign, err := o.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status == campaigns.StatusCancelled || campaign.Status.Terminal() {
		return campaign, nil
	}
	if err := o.store.UpdateCampaignStatus(ctx, id, campaign.Status, campaigns.StatusCancelled, ""); err != nil {
		if errors.Is(err, campaigns.ErrConflict) {
			// Someone else moved the campaign first; report the fresh state.
			return o.store.GetCampaign(ctx, id)
		}
		return nil, err
	}
	if n, err := o.store.CancelPendingJobs(ctx, id); err != nil {
		log.Printf("Orchestrator: Cancel pending jobs for %s: %v", id, err)
	} else if n > 0 {
		log.Printf("Orchestrator: Cancelled %d pending jobs for campaign %s", n, id)
	}
	return o.store.GetCampaign(ctx, id)
}

// GetCampaign returns a campaign by ID.
func (o *Orchestrator) GetCampaign(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error) {
	return o.store.GetCampaign(ctx, id)
}

// ListCampaigns returns campaigns, optionally filtered by status.
func (o *Orchestrator) ListCampaigns(ctx context.Context, status campaigns.CampaignStatus) ([]*campaigns.Campaign, error) {
	return o.store.ListCampaigns(ctx, status)
}

// ListGeneratedDomains pages a generation campaign's output.
func (o *Orchestrator) ListGeneratedDomains(ctx context.Context, campaignID uuid.UUID, afterOffset int64, limit int) ([]campaigns.GeneratedDomain, error) {
	return o.store.ListGeneratedDomains(ctx, campaignID, afterOffset, limit)
}

func (o *Orchestrator) transition(ctx context.Context, id uuid.UUID, from, to campaigns.CampaignStatus) (*campaigns.Campaign, error) {
	if err := o.store.UpdateCampaignStatus(ctx, id, from, to, ""); err != nil {
		return nil, err
	}
	log.Printf("Orchestrator: Campaign %s moved %s -> %s", id, from, to)
	return o.store.GetCampaign(ctx, id)
}

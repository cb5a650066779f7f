package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/memorystore"
)

func testAppConfig() *config.AppConfig {
	cfg := config.DefaultConfig()
	cfg.KeywordSets = []config.KeywordSet{{
		ID:   "ks-parked",
		Name: "Parked Indicators",
		Rules: []config.KeywordRule{
			{ID: "r1", Pattern: "domain for sale", Type: "string"},
		},
	}}
	return cfg
}

func seedCompletedCampaign(t *testing.T, store *memorystore.Store, typ campaigns.CampaignType) *campaigns.Campaign {
	t.Helper()
	now := time.Now()
	done := now
	c := &campaigns.Campaign{
		ID:              uuid.New(),
		Name:            "source",
		Type:            typ,
		Status:          campaigns.StatusCompleted,
		TotalItems:      100,
		ProcessedItems:  100,
		SuccessfulItems: 80,
		FailedItems:     20,
		CreatedAt:       now,
		UpdatedAt:       now,
		CompletedAt:     &done,
	}
	require.NoError(t, store.CreateCampaign(context.Background(), c))
	return c
}

func TestCreateDomainGenerationCampaignValidation(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(memorystore.NewStore(time.Minute), testAppConfig())

	_, err := orch.CreateDomainGenerationCampaign(ctx, DomainGenerationRequest{
		Name:        "bad pattern",
		PatternType: "sideways",
		TLD:         "com",
	})
	assert.ErrorContains(t, err, "pattern type")

	_, err = orch.CreateDomainGenerationCampaign(ctx, DomainGenerationRequest{
		Name:         "no tld",
		PatternType:  "prefix",
		ConstantPart: "a",
		CharacterSet: "ab",
	})
	assert.ErrorContains(t, err, "TLD")

	_, err = orch.CreateDomainGenerationCampaign(ctx, DomainGenerationRequest{
		PatternType:    "prefix",
		ConstantPart:   "a",
		VariableLength: 1,
		CharacterSet:   "ab",
		TLD:            "com",
	})
	assert.ErrorContains(t, err, "name")
}

func TestCreateDomainGenerationCampaignTargetCapsTotal(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(memorystore.NewStore(time.Minute), testAppConfig())

	c, err := orch.CreateDomainGenerationCampaign(ctx, DomainGenerationRequest{
		Name:           "capped",
		PatternType:    "prefix",
		ConstantPart:   "x",
		VariableLength: 2,
		CharacterSet:   "0123456789",
		TLD:            "com",
		TargetCount:    25,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), c.TotalItems, "target below the combination space caps the total")
}

func TestCreateDNSValidationCampaignRequiresCompletedSource(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	orch := NewOrchestrator(store, testAppConfig())

	_, err := orch.CreateDNSValidationCampaign(ctx, DNSValidationRequest{
		Name:             "no source",
		SourceCampaignID: uuid.New(),
	})
	assert.ErrorContains(t, err, "not found")

	source := seedCompletedCampaign(t, store, campaigns.TypeDomainGeneration)

	wrongType := seedCompletedCampaign(t, store, campaigns.TypeDNSValidation)
	_, err = orch.CreateDNSValidationCampaign(ctx, DNSValidationRequest{
		Name:             "wrong type",
		SourceCampaignID: wrongType.ID,
	})
	assert.ErrorContains(t, err, "want domain_generation")

	_, err = orch.CreateDNSValidationCampaign(ctx, DNSValidationRequest{
		Name:             "bad persona",
		SourceCampaignID: source.ID,
		PersonaIDs:       []string{"nope"},
	})
	assert.ErrorContains(t, err, "unknown DNS persona")
}

func TestCreateDNSValidationCampaignInitializesCursor(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	orch := NewOrchestrator(store, testAppConfig())
	source := seedCompletedCampaign(t, store, campaigns.TypeDomainGeneration)

	c, err := orch.CreateDNSValidationCampaign(ctx, DNSValidationRequest{
		Name:             "dns pass",
		SourceCampaignID: source.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, source.SuccessfulItems, c.TotalItems)

	jobs, err := store.ListJobs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	var payload campaigns.DNSValidationJobPayload
	require.NoError(t, campaigns.DecodeJobPayload(jobs[0], &payload))
	assert.Equal(t, source.ID, payload.SourceCampaignID)
	assert.Equal(t, int64(-1), payload.NextOffset, "cursor must start before offset zero")
}

func TestCreateHTTPKeywordCampaignValidation(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	orch := NewOrchestrator(store, testAppConfig())
	source := seedCompletedCampaign(t, store, campaigns.TypeDNSValidation)

	_, err := orch.CreateHTTPKeywordCampaign(ctx, HTTPKeywordRequest{
		Name:             "no keyword set",
		SourceCampaignID: source.ID,
	})
	assert.ErrorContains(t, err, "keywordSetId")

	_, err = orch.CreateHTTPKeywordCampaign(ctx, HTTPKeywordRequest{
		Name:             "unknown keyword set",
		SourceCampaignID: source.ID,
		KeywordSetID:     "missing",
	})
	assert.ErrorContains(t, err, "unknown keyword set")

	_, err = orch.CreateHTTPKeywordCampaign(ctx, HTTPKeywordRequest{
		Name:             "bad proxy mode",
		SourceCampaignID: source.ID,
		KeywordSetID:     "ks-parked",
		ProxySelection:   "fastest",
	})
	assert.ErrorContains(t, err, "proxy selection")

	c, err := orch.CreateHTTPKeywordCampaign(ctx, HTTPKeywordRequest{
		Name:             "http pass",
		SourceCampaignID: source.ID,
		KeywordSetID:     "ks-parked",
		ProxySelection:   "round_robin",
	})
	require.NoError(t, err)

	jobs, err := store.ListJobs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	var payload campaigns.HTTPKeywordJobPayload
	require.NoError(t, campaigns.DecodeJobPayload(jobs[0], &payload))
	assert.Empty(t, payload.LastDomain)
	assert.Equal(t, "ks-parked", payload.KeywordSetID)
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	orch := NewOrchestrator(store, testAppConfig())

	c, err := orch.CreateDomainGenerationCampaign(ctx, DomainGenerationRequest{
		Name:           "lifecycle",
		PatternType:    "prefix",
		ConstantPart:   "a",
		VariableLength: 1,
		CharacterSet:   "ab",
		TLD:            "com",
	})
	require.NoError(t, err)

	// Pausing a campaign that never started is rejected.
	_, err = orch.PauseCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, campaigns.ErrConflict)

	started, err := orch.StartCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaigns.StatusQueued, started.Status)

	// Starting twice is a conflict.
	_, err = orch.StartCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, campaigns.ErrConflict)

	pausing, err := orch.PauseCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaigns.StatusPausing, pausing.Status)
}

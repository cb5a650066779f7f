package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/httpvalidator"
)

// HTTPEngine fetches resolved domains and matches keyword sets against their
// content. Input is consumed from the source campaign's resolved DNS results
// in domain-name order; the payload's LastDomain cursor is the resume key.
type HTTPEngine struct {
	store        campaigns.Store
	appConfig    *config.AppConfig
	validator    *httpvalidator.HTTPValidator
	defaultBatch int
}

func NewHTTPEngine(store campaigns.Store, appCfg *config.AppConfig, validator *httpvalidator.HTTPValidator, defaultBatch int) *HTTPEngine {
	if defaultBatch <= 0 {
		defaultBatch = 50
	}
	return &HTTPEngine{store: store, appConfig: appCfg, validator: validator, defaultBatch: defaultBatch}
}

func (e *HTTPEngine) Type() campaigns.CampaignType { return campaigns.TypeHTTPKeywordValidation }

// countResolved pages through the source campaign's resolved domains to
// establish the campaign total once.
func (e *HTTPEngine) countResolved(ctx context.Context, sourceCampaignID uuid.UUID) (int64, error) {
	const page = 1000
	var total int64
	cursor := ""
	for {
		names, err := e.store.ListResolvedDomains(ctx, sourceCampaignID, cursor, page)
		if err != nil {
			return 0, err
		}
		total += int64(len(names))
		if len(names) < page {
			return total, nil
		}
		cursor = names[len(names)-1]
	}
}

func (e *HTTPEngine) RunBatch(ctx context.Context, job *campaigns.CampaignJob, workerID string) (bool, error) {
	var payload campaigns.HTTPKeywordJobPayload
	if err := campaigns.DecodeJobPayload(job, &payload); err != nil {
		return false, permanentf(err)
	}

	keywordSet, ok := e.appConfig.GetKeywordSet(payload.KeywordSetID)
	if !ok {
		return false, permanentf(fmt.Errorf("keyword set '%s' not found", payload.KeywordSetID))
	}

	batch := payload.BatchSize
	if batch <= 0 {
		batch = e.defaultBatch
	}

	names, err := e.store.ListResolvedDomains(ctx, payload.SourceCampaignID, payload.LastDomain, batch)
	if err != nil {
		return false, err
	}
	if len(names) == 0 {
		return true, nil
	}

	delta := campaigns.CounterDelta{}
	campaign, err := e.store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		return false, err
	}
	if campaign.TotalItems == 0 {
		total, countErr := e.countResolved(ctx, payload.SourceCampaignID)
		if countErr != nil {
			return false, countErr
		}
		delta.SetTotal = &total
	}

	useProxies := payload.ProxySelection != ""
	results := e.validator.ValidateWithKeywords(ctx, job.CampaignID, names, payload.PersonaIDs, keywordSet, useProxies)

	for _, r := range results {
		switch r.Status {
		case campaigns.ValidationMatch, campaigns.ValidationNoMatch:
			delta.Successful++
		default:
			delta.Failed++
		}
	}
	delta.Processed = int64(len(results))

	payload.LastDomain = names[len(names)-1]
	newPayload, err := campaigns.EncodeJobPayload(payload)
	if err != nil {
		return false, permanentf(err)
	}

	cp := &campaigns.BatchCheckpoint{
		JobID:       job.ID,
		WorkerID:    workerID,
		CampaignID:  job.CampaignID,
		JobPayload:  newPayload,
		Delta:       delta,
		HTTPResults: results,
	}
	if err := e.store.CommitBatch(ctx, cp); err != nil {
		return false, err
	}
	job.Payload = newPayload

	return len(names) < batch, nil
}

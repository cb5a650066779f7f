package worker

import (
	"context"
	"log"
	"sync"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/dnsvalidator"
)

// DNSEngine validates generated domains over DNS. Input is consumed from the
// source campaign's generated domains in offset order; the payload's
// NextOffset cursor makes interrupted jobs resume exactly where the last
// committed batch ended.
type DNSEngine struct {
	store        campaigns.Store
	appConfig    *config.AppConfig
	defaultBatch int

	mu         sync.Mutex
	personaIdx int
}

func NewDNSEngine(store campaigns.Store, appCfg *config.AppConfig, defaultBatch int) *DNSEngine {
	if defaultBatch <= 0 {
		defaultBatch = 100
	}
	return &DNSEngine{store: store, appConfig: appCfg, defaultBatch: defaultBatch}
}

func (e *DNSEngine) Type() campaigns.CampaignType { return campaigns.TypeDNSValidation }

// validatorFor builds the validator for one batch. Personas rotate per batch
// so a multi-persona campaign spreads queries across resolver configurations.
func (e *DNSEngine) validatorFor(personaIDs []string) *dnsvalidator.DNSValidator {
	cfg := e.appConfig.DNSValidator
	if len(personaIDs) > 0 {
		e.mu.Lock()
		id := personaIDs[e.personaIdx%len(personaIDs)]
		e.personaIdx++
		e.mu.Unlock()
		if persona, ok := e.appConfig.GetDNSPersona(id); ok {
			cfg = config.ConvertJSONToDNSConfig(persona.Config)
		} else {
			log.Printf("DNSEngine: DNS Persona ID '%s' not found. Using server default resolver config.", id)
		}
	}
	return dnsvalidator.New(cfg)
}

func (e *DNSEngine) RunBatch(ctx context.Context, job *campaigns.CampaignJob, workerID string) (bool, error) {
	var payload campaigns.DNSValidationJobPayload
	if err := campaigns.DecodeJobPayload(job, &payload); err != nil {
		return false, permanentf(err)
	}

	batch := payload.BatchSize
	if batch <= 0 {
		batch = e.defaultBatch
	}

	rows, err := e.store.ListGeneratedDomains(ctx, payload.SourceCampaignID, payload.NextOffset, batch)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return true, nil
	}

	delta := campaigns.CounterDelta{}
	campaign, err := e.store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		return false, err
	}
	if campaign.TotalItems == 0 {
		total, countErr := e.store.CountGeneratedDomains(ctx, payload.SourceCampaignID)
		if countErr != nil {
			return false, countErr
		}
		delta.SetTotal = &total
	}

	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.DomainName
	}

	validator := e.validatorFor(payload.PersonaIDs)
	results := validator.ValidateDomains(ctx, names)

	resultRows := make([]campaigns.DNSValidationResult, len(results))
	for i, vr := range results {
		resultRows[i] = vr.ToCampaignResult(job.CampaignID)
		if resultRows[i].Status == campaigns.ValidationResolved {
			delta.Successful++
		} else {
			delta.Failed++
		}
	}
	delta.Processed = int64(len(resultRows))

	payload.NextOffset = rows[len(rows)-1].OffsetIndex
	newPayload, err := campaigns.EncodeJobPayload(payload)
	if err != nil {
		return false, permanentf(err)
	}

	cp := &campaigns.BatchCheckpoint{
		JobID:      job.ID,
		WorkerID:   workerID,
		CampaignID: job.CampaignID,
		JobPayload: newPayload,
		Delta:      delta,
		DNSResults: resultRows,
	}
	if err := e.store.CommitBatch(ctx, cp); err != nil {
		return false, err
	}
	job.Payload = newPayload

	return len(rows) < batch, nil
}

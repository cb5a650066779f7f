package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/domaingen"
)

// GenerationEngine produces domains for domain generation jobs. Each batch
// commits the generated rows, the advanced payload offset and the shared
// configuration cursor atomically, so a crash never repeats offsets.
type GenerationEngine struct {
	store        campaigns.Store
	defaultBatch int
}

func NewGenerationEngine(store campaigns.Store, defaultBatch int) *GenerationEngine {
	if defaultBatch <= 0 {
		defaultBatch = 100
	}
	return &GenerationEngine{store: store, defaultBatch: defaultBatch}
}

func (e *GenerationEngine) Type() campaigns.CampaignType { return campaigns.TypeDomainGeneration }

func (e *GenerationEngine) RunBatch(ctx context.Context, job *campaigns.CampaignJob, workerID string) (bool, error) {
	var payload campaigns.DomainGenerationJobPayload
	if err := campaigns.DecodeJobPayload(job, &payload); err != nil {
		return false, permanentf(err)
	}

	gen, err := domaingen.New(domaingen.Config{
		PatternType:    domaingen.PatternType(payload.PatternType),
		ConstantPart:   payload.ConstantPart,
		VariableLength: payload.VariableLength,
		CharacterSet:   payload.CharacterSet,
		TLD:            payload.TLD,
	})
	if err != nil {
		return false, permanentf(err)
	}

	target := payload.TargetCount
	if target <= 0 || target > gen.Total() {
		target = gen.Total()
	}

	campaign, err := e.store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		return false, err
	}
	produced := campaign.ProcessedItems
	if produced >= target {
		return true, nil
	}

	offset := payload.CurrentOffset
	// Campaigns sharing a configuration hash share an offset cursor; never
	// re-emit offsets another campaign already generated.
	if st, stErr := e.store.GetGenerationState(ctx, gen.Hash()); stErr == nil {
		if st.LastOffset > offset {
			offset = st.LastOffset
		}
	} else if !errors.Is(stErr, campaigns.ErrNotFound) {
		return false, stErr
	}

	batch := payload.BatchSize
	if batch <= 0 {
		batch = e.defaultBatch
	}
	if remaining := target - produced; int64(batch) > remaining {
		batch = int(remaining)
	}

	domains, newOffset, exhausted, err := gen.Generate(offset, batch)
	if err != nil {
		return false, permanentf(err)
	}

	now := time.Now().UTC()
	rows := make([]campaigns.GeneratedDomain, len(domains))
	for i, d := range domains {
		rows[i] = campaigns.GeneratedDomain{
			ID:          uuid.New(),
			CampaignID:  job.CampaignID,
			DomainName:  d,
			OffsetIndex: offset + int64(i),
			GeneratedAt: now,
		}
	}

	payload.CurrentOffset = newOffset
	newPayload, err := campaigns.EncodeJobPayload(payload)
	if err != nil {
		return false, permanentf(err)
	}

	delta := campaigns.CounterDelta{
		Processed:  int64(len(rows)),
		Successful: int64(len(rows)),
	}
	if campaign.TotalItems != target {
		delta.SetTotal = &target
	}

	cp := &campaigns.BatchCheckpoint{
		JobID:            job.ID,
		WorkerID:         workerID,
		CampaignID:       job.CampaignID,
		JobPayload:       newPayload,
		Delta:            delta,
		GeneratedDomains: rows,
		GenerationState: &campaigns.DomainGenerationConfigState{
			ConfigHash: gen.Hash(),
			LastOffset: newOffset,
			UpdatedAt:  now,
		},
	}
	if err := e.store.CommitBatch(ctx, cp); err != nil {
		return false, err
	}
	job.Payload = newPayload

	return exhausted || produced+int64(len(rows)) >= target, nil
}

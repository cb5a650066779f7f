// Package worker runs the job processing pipeline: a pool of claim-execute
// loops, the per-type campaign engines and the orchestrator that manages
// campaign lifecycles.
package worker

import (
	"context"
	"errors"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

// ErrPermanent marks job failures that retrying cannot fix, such as invalid
// generation parameters or a missing keyword set. Jobs failing with it are
// failed immediately regardless of remaining attempts.
var ErrPermanent = errors.New("worker: permanent job error")

// Engine processes jobs of one campaign type batch by batch. RunBatch
// executes one batch and commits its checkpoint through the store; done is
// true when the job has no work left. Engines must leave the job payload
// updated to the committed cursor so the pool's next call resumes correctly.
type Engine interface {
	Type() campaigns.CampaignType
	RunBatch(ctx context.Context, job *campaigns.CampaignJob, workerID string) (done bool, err error)
}

func permanentf(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}

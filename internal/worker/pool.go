package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/progress"
)

// Pool runs N worker goroutines that claim jobs from the store and drive
// them through their engines batch by batch, plus a janitor that requeues
// jobs whose workers died. Pause and cancel requests are honored at batch
// boundaries, after the running batch's checkpoint commits.
type Pool struct {
	store       campaigns.Store
	broadcaster *progress.Broadcaster
	engines     map[campaigns.CampaignType]Engine
	cfg         config.WorkerConfig
	instanceID  string
}

func NewPool(store campaigns.Store, broadcaster *progress.Broadcaster, cfg config.WorkerConfig, engines ...Engine) *Pool {
	p := &Pool{
		store:       store,
		broadcaster: broadcaster,
		engines:     make(map[campaigns.CampaignType]Engine, len(engines)),
		cfg:         cfg,
		instanceID:  uuid.New().String()[:8],
	}
	for _, e := range engines {
		p.engines[e.Type()] = e
	}
	return p
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs to release.
func (p *Pool) Run(ctx context.Context) error {
	log.Printf("WorkerPool: Starting %d workers (instance %s)", p.cfg.NumWorkers, p.instanceID)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.NumWorkers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("worker-%s-%d", p.instanceID, i)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, workerID)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.janitorLoop(ctx)
	}()
	wg.Wait()
	log.Printf("WorkerPool: All workers stopped (instance %s)", p.instanceID)
	return ctx.Err()
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, found, err := p.store.ClaimNextJob(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("WorkerPool: %s claim error: %v", workerID, err)
			p.sleep(ctx)
			continue
		}
		if !found {
			p.sleep(ctx)
			continue
		}

		p.runJob(ctx, workerID, job)
	}
}

// sleep waits one poll interval plus jitter, so idle workers do not hammer
// the store in lockstep.
func (p *Pool) sleep(ctx context.Context) {
	delay := p.cfg.PollInterval
	if p.cfg.PollJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.cfg.PollJitter)))
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (p *Pool) janitorLoop(ctx context.Context) {
	interval := p.cfg.JanitorInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.RequeueStuckJobs(ctx, p.cfg.StuckJobAge)
			if err != nil {
				log.Printf("WorkerPool: Janitor requeue error: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("WorkerPool: Janitor requeued %d stuck jobs", n)
			}
		}
	}
}

func (p *Pool) runJob(ctx context.Context, workerID string, job *campaigns.CampaignJob) {
	engine, ok := p.engines[job.Type]
	if !ok {
		log.Printf("WorkerPool: %s no engine for job type %s, failing job %s", workerID, job.Type, job.ID)
		p.release(ctx, job, workerID, campaigns.JobOutcome{
			Status:    campaigns.JobStatusFailed,
			LastError: fmt.Sprintf("no engine registered for job type %s", job.Type),
		})
		p.settleCampaign(ctx, job.CampaignID)
		return
	}

	campaign, err := p.store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		log.Printf("WorkerPool: %s cannot load campaign %s: %v", workerID, job.CampaignID, err)
		p.release(ctx, job, workerID, campaigns.JobOutcome{
			Status:          campaigns.JobStatusRetry,
			LastError:       err.Error(),
			NextExecutionAt: time.Now().Add(p.retryDelay(job.Attempts)),
		})
		return
	}

	// First job of a queued campaign moves it to running. A lost CAS means
	// another worker got there first, which is fine.
	if campaign.Status == campaigns.StatusQueued {
		err := p.store.UpdateCampaignStatus(ctx, campaign.ID, campaigns.StatusQueued, campaigns.StatusRunning, "")
		if err != nil && !errors.Is(err, campaigns.ErrConflict) {
			log.Printf("WorkerPool: %s start transition for campaign %s: %v", workerID, campaign.ID, err)
		}
		if err == nil {
			campaign.Status = campaigns.StatusRunning
			p.publishStatus(ctx, campaign.ID)
		}
	}

	for {
		campaign, err = p.store.GetCampaign(ctx, job.CampaignID)
		if err != nil {
			p.release(ctx, job, workerID, campaigns.JobOutcome{
				Status:          campaigns.JobStatusRetry,
				LastError:       err.Error(),
				NextExecutionAt: time.Now().Add(p.retryDelay(job.Attempts)),
			})
			return
		}

		switch campaign.Status {
		case campaigns.StatusPausing, campaigns.StatusPaused:
			// Committed progress stays; the job goes back to the queue and
			// the campaign settles to paused once nothing is running.
			p.release(ctx, job, workerID, campaigns.JobOutcome{Status: campaigns.JobStatusQueued})
			p.finalizePause(ctx, job.CampaignID)
			return
		case campaigns.StatusCancelled:
			p.release(ctx, job, workerID, campaigns.JobOutcome{Status: campaigns.JobStatusCancelled})
			return
		case campaigns.StatusCompleted, campaigns.StatusFailed:
			// Campaign already settled; nothing useful left for this job.
			p.release(ctx, job, workerID, campaigns.JobOutcome{Status: campaigns.JobStatusCancelled})
			return
		}

		if ctx.Err() != nil {
			// Shutdown: release cleanly so another worker can resume from
			// the last committed checkpoint.
			p.release(context.WithoutCancel(ctx), job, workerID, campaigns.JobOutcome{Status: campaigns.JobStatusQueued})
			return
		}

		done, err := engine.RunBatch(ctx, job, workerID)
		if err != nil {
			p.handleBatchError(ctx, workerID, job, err)
			return
		}

		p.publishProgress(ctx, job.CampaignID)

		if done {
			p.release(ctx, job, workerID, campaigns.JobOutcome{Status: campaigns.JobStatusCompleted})
			p.settleCampaign(ctx, job.CampaignID)
			return
		}
	}
}

func (p *Pool) handleBatchError(ctx context.Context, workerID string, job *campaigns.CampaignJob, batchErr error) {
	if errors.Is(batchErr, campaigns.ErrConflict) {
		// Lost the lock; whoever reclaimed the job owns it now.
		log.Printf("WorkerPool: %s lost lock on job %s, abandoning", workerID, job.ID)
		return
	}

	if errors.Is(batchErr, ErrPermanent) {
		log.Printf("WorkerPool: %s job %s failed permanently: %v", workerID, job.ID, batchErr)
		p.release(ctx, job, workerID, campaigns.JobOutcome{
			Status:    campaigns.JobStatusFailed,
			LastError: batchErr.Error(),
		})
		p.settleCampaign(ctx, job.CampaignID)
		return
	}

	if job.Attempts >= job.MaxAttempts {
		log.Printf("WorkerPool: %s job %s exhausted %d attempts: %v", workerID, job.ID, job.Attempts, batchErr)
		p.release(ctx, job, workerID, campaigns.JobOutcome{
			Status:    campaigns.JobStatusFailed,
			LastError: batchErr.Error(),
		})
		p.settleCampaign(ctx, job.CampaignID)
		return
	}

	delay := p.retryDelay(job.Attempts)
	log.Printf("WorkerPool: %s job %s attempt %d/%d failed, retrying in %s: %v", workerID, job.ID, job.Attempts, job.MaxAttempts, delay, batchErr)
	p.release(ctx, job, workerID, campaigns.JobOutcome{
		Status:          campaigns.JobStatusRetry,
		LastError:       batchErr.Error(),
		NextExecutionAt: time.Now().Add(delay),
	})
}

// retryDelay computes the exponential backoff for the given completed attempt
// count.
func (p *Pool) retryDelay(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBackoffBase
	bo.MaxInterval = p.cfg.RetryBackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0

	delay := bo.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

func (p *Pool) release(ctx context.Context, job *campaigns.CampaignJob, workerID string, outcome campaigns.JobOutcome) {
	if err := p.store.ReleaseJob(ctx, job.ID, workerID, outcome); err != nil {
		if errors.Is(err, campaigns.ErrConflict) {
			log.Printf("WorkerPool: %s release of job %s lost to reclaim", workerID, job.ID)
			return
		}
		log.Printf("WorkerPool: %s release of job %s failed: %v", workerID, job.ID, err)
	}
}

// finalizePause moves a pausing campaign to paused once none of its jobs are
// held by a worker.
func (p *Pool) finalizePause(ctx context.Context, campaignID uuid.UUID) {
	jobs, err := p.store.ListJobs(ctx, campaignID)
	if err != nil {
		log.Printf("WorkerPool: finalize pause for %s: %v", campaignID, err)
		return
	}
	for _, j := range jobs {
		if j.Status == campaigns.JobStatusRunning || j.Status == campaigns.JobStatusProcessing {
			return
		}
	}
	err = p.store.UpdateCampaignStatus(ctx, campaignID, campaigns.StatusPausing, campaigns.StatusPaused, "")
	if err != nil && !errors.Is(err, campaigns.ErrConflict) {
		log.Printf("WorkerPool: pause transition for campaign %s: %v", campaignID, err)
		return
	}
	if err == nil {
		p.publishStatus(ctx, campaignID)
	}
}

// settleCampaign checks whether every job of a campaign reached a terminal
// status and, if so, applies the per-type completion policy.
func (p *Pool) settleCampaign(ctx context.Context, campaignID uuid.UUID) {
	campaign, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		log.Printf("WorkerPool: settle campaign %s: %v", campaignID, err)
		return
	}
	if campaign.Status.Terminal() {
		return
	}

	jobs, err := p.store.ListJobs(ctx, campaignID)
	if err != nil {
		log.Printf("WorkerPool: settle campaign %s: %v", campaignID, err)
		return
	}

	completed, failed := 0, 0
	for _, j := range jobs {
		if !j.Status.Terminal() {
			return
		}
		switch j.Status {
		case campaigns.JobStatusCompleted:
			completed++
		case campaigns.JobStatusFailed:
			failed++
		}
	}

	target, errorMessage := settleOutcome(campaign.Type, completed, failed)

	err = p.store.UpdateCampaignStatus(ctx, campaignID, campaign.Status, target, errorMessage)
	if err != nil {
		if !errors.Is(err, campaigns.ErrConflict) {
			log.Printf("WorkerPool: settle transition for campaign %s: %v", campaignID, err)
		}
		return
	}
	p.publishStatus(ctx, campaignID)
	if p.broadcaster != nil {
		p.broadcaster.CampaignCompleted(campaignID)
	}
}

// settleOutcome applies the per-type failure policy. A generation campaign
// with any failed job is failed: its output space has a hole validation
// campaigns would silently inherit. Validation campaigns tolerate partial
// failure and only fail when no job completed.
func settleOutcome(campaignType campaigns.CampaignType, completed, failed int) (campaigns.CampaignStatus, string) {
	switch campaignType {
	case campaigns.TypeDomainGeneration:
		if failed > 0 {
			return campaigns.StatusFailed, fmt.Sprintf("%d generation jobs failed", failed)
		}
	default:
		if failed > 0 && completed == 0 {
			return campaigns.StatusFailed, fmt.Sprintf("all %d jobs failed", failed)
		}
	}
	return campaigns.StatusCompleted, ""
}

func (p *Pool) publishProgress(ctx context.Context, campaignID uuid.UUID) {
	if p.broadcaster == nil {
		return
	}
	campaign, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return
	}
	p.broadcaster.Publish(campaign.ID, progress.Event{
		Type:                      progress.EventCampaignProgress,
		Phase:                     campaign.Type,
		Status:                    campaign.Status,
		ProgressPercent:           campaign.ProgressPercent(),
		TotalItems:                campaign.TotalItems,
		ProcessedItems:            campaign.ProcessedItems,
		SuccessfulItems:           campaign.SuccessfulItems,
		FailedItems:               campaign.FailedItems,
		EstimatedSecondsRemaining: estimateRemaining(campaign),
	})
}

func (p *Pool) publishStatus(ctx context.Context, campaignID uuid.UUID) {
	if p.broadcaster == nil {
		return
	}
	campaign, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return
	}
	p.broadcaster.Publish(campaign.ID, progress.Event{
		Type:            progress.EventCampaignStatus,
		Phase:           campaign.Type,
		Status:          campaign.Status,
		ProgressPercent: campaign.ProgressPercent(),
		TotalItems:      campaign.TotalItems,
		ProcessedItems:  campaign.ProcessedItems,
		SuccessfulItems: campaign.SuccessfulItems,
		FailedItems:     campaign.FailedItems,
		ErrorMessage:    campaign.ErrorMessage,
	})
}

// estimateRemaining projects completion time from the observed processing
// rate since the campaign started.
func estimateRemaining(c *campaigns.Campaign) int64 {
	if c.StartedAt == nil || c.TotalItems <= 0 || c.ProcessedItems <= 0 {
		return 0
	}
	elapsed := time.Since(*c.StartedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	rate := float64(c.ProcessedItems) / elapsed
	if rate <= 0 {
		return 0
	}
	remaining := float64(c.TotalItems-c.ProcessedItems) / rate
	if remaining < 0 {
		return 0
	}
	return int64(remaining)
}

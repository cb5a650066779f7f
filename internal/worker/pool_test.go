package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/memorystore"
	"github.com/fntelecomllc/studio-sub001/internal/progress"
)

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		NumWorkers:       2,
		PollInterval:     5 * time.Millisecond,
		PollJitter:       0,
		BatchSize:        3,
		MaxAttempts:      3,
		RetryBackoffBase: time.Millisecond,
		RetryBackoffMax:  5 * time.Millisecond,
		StuckJobAge:      time.Minute,
		JanitorInterval:  time.Minute,
	}
}

// stubEngine lets tests script batch outcomes per call.
type stubEngine struct {
	typ campaigns.CampaignType
	run func(call int, job *campaigns.CampaignJob) (bool, error)

	mu    sync.Mutex
	calls int
}

func (s *stubEngine) Type() campaigns.CampaignType { return s.typ }

func (s *stubEngine) RunBatch(_ context.Context, job *campaigns.CampaignJob, _ string) (bool, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.run(call, job)
}

func (s *stubEngine) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func seedCampaignWithJob(t *testing.T, store *memorystore.Store, typ campaigns.CampaignType, maxAttempts int) (*campaigns.Campaign, *campaigns.CampaignJob) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	c := &campaigns.Campaign{
		ID:        uuid.New(),
		Name:      "seeded",
		Type:      typ,
		Status:    campaigns.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateCampaign(ctx, c))
	j := &campaigns.CampaignJob{
		ID:              uuid.New(),
		CampaignID:      c.ID,
		Type:            typ,
		Status:          campaigns.JobStatusQueued,
		ScheduledAt:     now,
		NextExecutionAt: now,
		MaxAttempts:     maxAttempts,
		Payload:         []byte(`{}`),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, store.CreateJob(ctx, j))
	return c, j
}

func runPool(t *testing.T, pool *Pool) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("pool did not stop after cancel")
		}
	})
	return cancel
}

func TestGenerationCampaignRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	broadcaster := progress.NewBroadcaster(0, 0, time.Minute)
	orch := NewOrchestrator(store, config.DefaultConfig())

	c, err := orch.CreateDomainGenerationCampaign(ctx, DomainGenerationRequest{
		Name:           "digits",
		PatternType:    "prefix",
		ConstantPart:   "x",
		VariableLength: 1,
		CharacterSet:   "0123456789",
		TLD:            "com",
		TargetCount:    50,
		BatchSize:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, campaigns.StatusPending, c.Status)
	assert.Equal(t, int64(10), c.TotalItems, "target beyond the combination space clamps to it")

	sub := broadcaster.Subscribe(c.ID, 0)
	defer broadcaster.Unsubscribe(sub)

	_, err = orch.StartCampaign(ctx, c.ID)
	require.NoError(t, err)

	pool := NewPool(store, broadcaster, testWorkerConfig(), NewGenerationEngine(store, 3))
	runPool(t, pool)

	require.Eventually(t, func() bool {
		got, err := store.GetCampaign(ctx, c.ID)
		return err == nil && got.Status == campaigns.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	got, err := store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.TotalItems)
	assert.Equal(t, int64(10), got.ProcessedItems)
	assert.Equal(t, int64(10), got.SuccessfulItems)
	assert.Equal(t, int64(0), got.FailedItems)

	domains, err := store.ListGeneratedDomains(ctx, c.ID, -1, 100)
	require.NoError(t, err)
	require.Len(t, domains, 10)
	assert.Equal(t, "x0.com", domains[0].DomainName)
	assert.Equal(t, "x9.com", domains[9].DomainName)
	for i, d := range domains {
		assert.Equal(t, int64(i), d.OffsetIndex)
	}

	jobs, err := store.ListJobs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, campaigns.JobStatusCompleted, jobs[0].Status)
	assert.Empty(t, jobs[0].LockedBy)

	// The subscription saw ordered progress and a final completed status.
	var events []progress.Event
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case ev := <-sub.Events:
			events = append(events, ev)
			if ev.Type == progress.EventCampaignStatus && ev.Status == campaigns.StatusCompleted {
				break collect
			}
		case <-deadline:
			t.Fatal("did not receive completion event")
		}
	}
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].SequenceNumber+1, events[i].SequenceNumber)
	}
	last := events[len(events)-1]
	assert.Equal(t, campaigns.StatusCompleted, last.Status)
}

func TestTransientErrorRetriesThenCompletes(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	_, job := seedCampaignWithJob(t, store, campaigns.TypeDNSValidation, 3)

	engine := &stubEngine{
		typ: campaigns.TypeDNSValidation,
		run: func(call int, _ *campaigns.CampaignJob) (bool, error) {
			if call == 1 {
				return false, errors.New("resolver unreachable")
			}
			return true, nil
		},
	}
	pool := NewPool(store, nil, testWorkerConfig(), engine)
	runPool(t, pool)

	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, job.ID)
		return err == nil && got.Status == campaigns.JobStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 2, engine.callCount())
}

func TestJobFailsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	c, job := seedCampaignWithJob(t, store, campaigns.TypeDNSValidation, 2)

	engine := &stubEngine{
		typ: campaigns.TypeDNSValidation,
		run: func(int, *campaigns.CampaignJob) (bool, error) {
			return false, errors.New("resolver unreachable")
		},
	}
	pool := NewPool(store, nil, testWorkerConfig(), engine)
	runPool(t, pool)

	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, job.ID)
		return err == nil && got.Status == campaigns.JobStatusFailed
	}, 5*time.Second, 5*time.Millisecond)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Contains(t, got.LastError, "resolver unreachable")

	// All jobs failed, so the validation campaign fails too.
	require.Eventually(t, func() bool {
		gotC, err := store.GetCampaign(ctx, c.ID)
		return err == nil && gotC.Status == campaigns.StatusFailed
	}, 5*time.Second, 5*time.Millisecond)
}

func TestPermanentErrorFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	c, job := seedCampaignWithJob(t, store, campaigns.TypeDomainGeneration, 3)

	engine := &stubEngine{
		typ: campaigns.TypeDomainGeneration,
		run: func(int, *campaigns.CampaignJob) (bool, error) {
			return false, permanentf(errors.New("unknown pattern type"))
		},
	}
	pool := NewPool(store, nil, testWorkerConfig(), engine)
	runPool(t, pool)

	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, job.ID)
		return err == nil && got.Status == campaigns.JobStatusFailed
	}, 5*time.Second, 5*time.Millisecond)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts, "permanent errors must not be retried")

	require.Eventually(t, func() bool {
		gotC, err := store.GetCampaign(ctx, c.ID)
		return err == nil && gotC.Status == campaigns.StatusFailed
	}, 5*time.Second, 5*time.Millisecond)
}

func TestPauseSettlesAtBatchBoundary(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	c, job := seedCampaignWithJob(t, store, campaigns.TypeDomainGeneration, 3)

	engine := &stubEngine{
		typ: campaigns.TypeDomainGeneration,
		run: func(call int, _ *campaigns.CampaignJob) (bool, error) {
			if call == 1 {
				// A pause request lands while the batch is in flight.
				err := store.UpdateCampaignStatus(ctx, c.ID, campaigns.StatusRunning, campaigns.StatusPausing, "")
				return false, err
			}
			return true, nil
		},
	}
	pool := NewPool(store, nil, testWorkerConfig(), engine)
	runPool(t, pool)

	require.Eventually(t, func() bool {
		got, err := store.GetCampaign(ctx, c.ID)
		return err == nil && got.Status == campaigns.StatusPaused
	}, 5*time.Second, 5*time.Millisecond)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, campaigns.JobStatusQueued, got.Status)
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockedAt)

	// Paused campaigns keep their jobs parked until resumed.
	assert.Equal(t, 1, engine.callCount())
}

func TestResumeContinuesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	broadcaster := progress.NewBroadcaster(0, 0, time.Minute)
	orch := NewOrchestrator(store, config.DefaultConfig())

	c, err := orch.CreateDomainGenerationCampaign(ctx, DomainGenerationRequest{
		Name:           "resumable",
		PatternType:    "suffix",
		ConstantPart:   "shop",
		VariableLength: 1,
		CharacterSet:   "abcd",
		TLD:            "net",
		BatchSize:      1,
	})
	require.NoError(t, err)
	_, err = orch.StartCampaign(ctx, c.ID)
	require.NoError(t, err)

	engine := NewGenerationEngine(store, 1)
	pausing := &stubEngine{typ: campaigns.TypeDomainGeneration}
	pausing.run = func(call int, job *campaigns.CampaignJob) (bool, error) {
		done, err := engine.RunBatch(ctx, job, "test-worker")
		if call == 2 {
			// Pause after two committed batches.
			if casErr := store.UpdateCampaignStatus(ctx, c.ID, campaigns.StatusRunning, campaigns.StatusPausing, ""); casErr != nil {
				return done, casErr
			}
		}
		return done, err
	}

	pool := NewPool(store, broadcaster, testWorkerConfig(), pausing)
	runPool(t, pool)

	require.Eventually(t, func() bool {
		got, err := store.GetCampaign(ctx, c.ID)
		return err == nil && got.Status == campaigns.StatusPaused
	}, 5*time.Second, 5*time.Millisecond)

	paused, err := store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), paused.ProcessedItems)

	_, err = orch.ResumeCampaign(ctx, c.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.GetCampaign(ctx, c.ID)
		return err == nil && got.Status == campaigns.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	domains, err := store.ListGeneratedDomains(ctx, c.ID, -1, 100)
	require.NoError(t, err)
	require.Len(t, domains, 4, "no duplicates after resume")
	assert.Equal(t, "ashop.net", domains[0].DomainName)
	assert.Equal(t, "dshop.net", domains[3].DomainName)
}

func TestCancelCampaignCancelsPendingJobs(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	orch := NewOrchestrator(store, config.DefaultConfig())

	c, err := orch.CreateDomainGenerationCampaign(ctx, DomainGenerationRequest{
		Name:           "doomed",
		PatternType:    "prefix",
		ConstantPart:   "a",
		VariableLength: 1,
		CharacterSet:   "ab",
		TLD:            "com",
	})
	require.NoError(t, err)

	cancelled, err := orch.CancelCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaigns.StatusCancelled, cancelled.Status)

	jobs, err := store.ListJobs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, campaigns.JobStatusCancelled, jobs[0].Status)

	// Cancelling again is a no-op, not an error.
	again, err := orch.CancelCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaigns.StatusCancelled, again.Status)
}

func TestSettleOutcomePerCampaignType(t *testing.T) {
	status, msg := settleOutcome(campaigns.TypeDomainGeneration, 2, 1)
	assert.Equal(t, campaigns.StatusFailed, status, "a generation gap fails the campaign")
	assert.NotEmpty(t, msg)

	status, _ = settleOutcome(campaigns.TypeDomainGeneration, 3, 0)
	assert.Equal(t, campaigns.StatusCompleted, status)

	status, _ = settleOutcome(campaigns.TypeDNSValidation, 1, 4)
	assert.Equal(t, campaigns.StatusCompleted, status, "partial validation failure still completes")

	status, msg = settleOutcome(campaigns.TypeDNSValidation, 0, 4)
	assert.Equal(t, campaigns.StatusFailed, status)
	assert.NotEmpty(t, msg)

	status, _ = settleOutcome(campaigns.TypeHTTPKeywordValidation, 2, 2)
	assert.Equal(t, campaigns.StatusCompleted, status)
}

func TestJanitorRequeuesStuckJobs(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	store := memorystore.NewStoreWithClock(50*time.Millisecond, func() time.Time { return clock() })
	_, job := seedCampaignWithJob(t, store, campaigns.TypeDNSValidation, 3)

	// Simulate a crashed worker holding the claim.
	claimed, found, err := store.ClaimNextJob(ctx, "crashed-worker")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, job.ID, claimed.ID)

	// Time passes beyond the staleness threshold.
	later := now.Add(time.Second)
	clock = func() time.Time { return later }

	engine := &stubEngine{
		typ: campaigns.TypeDNSValidation,
		run: func(int, *campaigns.CampaignJob) (bool, error) { return true, nil },
	}
	cfg := testWorkerConfig()
	cfg.StuckJobAge = 50 * time.Millisecond
	cfg.JanitorInterval = 5 * time.Millisecond
	pool := NewPool(store, nil, cfg, engine)
	runPool(t, pool)

	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, job.ID)
		return err == nil && got.Status == campaigns.JobStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
}

func TestSharedConfigCursorPreventsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore(time.Minute)
	orch := NewOrchestrator(store, config.DefaultConfig())
	pool := NewPool(store, nil, testWorkerConfig(), NewGenerationEngine(store, 2))
	runPool(t, pool)

	req := DomainGenerationRequest{
		Name:           "first pass",
		PatternType:    "prefix",
		ConstantPart:   "m",
		VariableLength: 1,
		CharacterSet:   "xy",
		TLD:            "org",
	}
	first, err := orch.CreateDomainGenerationCampaign(ctx, req)
	require.NoError(t, err)
	_, err = orch.StartCampaign(ctx, first.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.GetCampaign(ctx, first.ID)
		return err == nil && got.Status == campaigns.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	firstRows, err := store.ListGeneratedDomains(ctx, first.ID, -1, 10)
	require.NoError(t, err)
	require.Len(t, firstRows, 2)

	// A second campaign over the same configuration shares the offset cursor
	// and finds the space already exhausted.
	req.Name = "second pass"
	second, err := orch.CreateDomainGenerationCampaign(ctx, req)
	require.NoError(t, err)
	_, err = orch.StartCampaign(ctx, second.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.GetCampaign(ctx, second.ID)
		return err == nil && got.Status == campaigns.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	secondRows, err := store.ListGeneratedDomains(ctx, second.ID, -1, 10)
	require.NoError(t, err)
	assert.Empty(t, secondRows, "exhausted shared cursor must not re-emit offsets")
}

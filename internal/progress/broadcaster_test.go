package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

func drain(sub *Subscription, n int, timeout time.Duration) []Event {
	out := make([]Event, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublishAssignsStrictlyIncreasingSequences(t *testing.T) {
	b := NewBroadcaster(0, 0, 0)
	id := uuid.New()

	var published []int64
	for i := 0; i < 20; i++ {
		ev := b.Publish(id, Event{Type: EventCampaignProgress, Phase: campaigns.TypeDomainGeneration})
		published = append(published, ev.SequenceNumber)
	}
	for i, seq := range published {
		assert.EqualValues(t, i+1, seq)
	}
}

func TestConcurrentPublishersNoDuplicateSequences(t *testing.T) {
	b := NewBroadcaster(1024, 1024, 0)
	id := uuid.New()

	const publishers = 8
	const perPublisher = 50
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				ev := b.Publish(id, Event{Type: EventCampaignProgress})
				mu.Lock()
				require.False(t, seen[ev.SequenceNumber], "duplicate sequence %d", ev.SequenceNumber)
				seen[ev.SequenceNumber] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, publishers*perPublisher)
	assert.EqualValues(t, publishers*perPublisher, b.LastSequence(id))
}

func TestSubscribeReplaysThenLiveInOrder(t *testing.T) {
	b := NewBroadcaster(64, 64, 0)
	id := uuid.New()

	for i := 0; i < 10; i++ {
		b.Publish(id, Event{Type: EventCampaignProgress})
	}

	sub := b.Subscribe(id, 5)
	defer b.Unsubscribe(sub)
	assert.False(t, sub.ResyncRequired)

	b.Publish(id, Event{Type: EventCampaignProgress})
	b.Publish(id, Event{Type: EventCampaignProgress})

	events := drain(sub, 7, time.Second)
	require.Len(t, events, 7)
	for i, ev := range events {
		assert.EqualValues(t, 6+i, ev.SequenceNumber)
	}
}

func TestSubscribeResumeWithinBuffer(t *testing.T) {
	// Buffer holds sequences 3..20; resuming from 5 yields exactly 6..20.
	b := NewBroadcaster(18, 64, 0)
	id := uuid.New()
	for i := 0; i < 20; i++ {
		b.Publish(id, Event{Type: EventCampaignProgress})
	}

	sub := b.Subscribe(id, 5)
	defer b.Unsubscribe(sub)
	assert.False(t, sub.ResyncRequired)

	events := drain(sub, 15, time.Second)
	require.Len(t, events, 15)
	assert.EqualValues(t, 6, events[0].SequenceNumber)
	assert.EqualValues(t, 20, events[14].SequenceNumber)
}

func TestSubscribeGapBeyondBufferRequiresResync(t *testing.T) {
	b := NewBroadcaster(4, 64, 0)
	id := uuid.New()
	for i := 0; i < 20; i++ {
		b.Publish(id, Event{Type: EventCampaignProgress})
	}
	// Buffer now holds 17..20. Resuming from 5 has lost 6..16.
	sub := b.Subscribe(id, 5)
	defer b.Unsubscribe(sub)
	assert.True(t, sub.ResyncRequired)

	events := drain(sub, 4, time.Second)
	require.Len(t, events, 4)
	assert.EqualValues(t, 17, events[0].SequenceNumber)
}

func TestFreshSubscriberNoResync(t *testing.T) {
	b := NewBroadcaster(4, 64, 0)
	id := uuid.New()
	sub := b.Subscribe(id, 0)
	defer b.Unsubscribe(sub)
	assert.False(t, sub.ResyncRequired)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroadcaster(256, 2, 0)
	id := uuid.New()

	slow := b.Subscribe(id, 0)
	defer b.Unsubscribe(slow)
	fast := b.Subscribe(id, 0)
	defer b.Unsubscribe(fast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(id, Event{Type: EventCampaignProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	// The fast subscriber, drained concurrently with nothing pending, still
	// observes in-order (possibly gappy for the slow one) sequences.
	events := drain(fast, 2, time.Second)
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].SequenceNumber, events[i-1].SequenceNumber)
	}
}

func TestCampaignCompletedEvictsAfterGrace(t *testing.T) {
	b := NewBroadcaster(16, 16, 20*time.Millisecond)
	id := uuid.New()
	b.Publish(id, Event{Type: EventCampaignStatus, Status: campaigns.StatusCompleted})
	sub := b.Subscribe(id, 0)

	b.CampaignCompleted(id)
	time.Sleep(100 * time.Millisecond)

	// Channel closed by eviction.
	drain(sub, 1, 100*time.Millisecond)
	_, open := <-sub.Events
	assert.False(t, open)
	assert.EqualValues(t, 0, b.LastSequence(id))
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := NewBroadcaster(16, 16, 0)
	id := uuid.New()
	sub := b.Subscribe(id, 0)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
}

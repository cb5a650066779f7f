// Package progress implements the in-process pub/sub that turns worker batch
// checkpoints into sequenced, resumable progress events for WebSocket
// delivery.
package progress

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

// EventType discriminates progress messages on the wire.
type EventType string

const (
	EventCampaignProgress EventType = "campaign_progress"
	EventCampaignStatus   EventType = "campaign_status"
)

// Event is one progress message. SequenceNumber is strictly increasing per
// campaign and assigned by the Broadcaster at publish time, never by callers.
type Event struct {
	MessageID      uuid.UUID `json:"messageId"`
	Timestamp      time.Time `json:"timestamp"`
	Type           EventType `json:"type"`
	SequenceNumber int64     `json:"sequenceNumber"`

	CampaignID uuid.UUID                `json:"campaignId"`
	Phase      campaigns.CampaignType   `json:"phase"`
	Status     campaigns.CampaignStatus `json:"status"`

	ProgressPercent float64 `json:"progressPercent"`
	TotalItems      int64   `json:"totalItems"`
	ProcessedItems  int64   `json:"processedItems"`
	SuccessfulItems int64   `json:"successfulItems"`
	FailedItems     int64   `json:"failedItems"`

	// EstimatedSecondsRemaining is 0 when no estimate is available.
	EstimatedSecondsRemaining int64 `json:"estimatedSecondsRemaining,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Subscription is one subscriber's ordered view of a campaign's events.
type Subscription struct {
	// ID identifies the subscription for Unsubscribe.
	ID uuid.UUID
	// CampaignID is the campaign this subscription follows.
	CampaignID uuid.UUID
	// Events delivers replayed then live events in sequence order. Closed on
	// Unsubscribe or campaign eviction.
	Events <-chan Event
	// ResyncRequired is true when the requested resume point had already been
	// evicted from the replay buffer. The subscriber received only what the
	// buffer still held and must fetch full campaign state to fill the gap.
	ResyncRequired bool

	ch chan Event
}

// subscriber tracks per-subscriber delivery state inside a topic.
type subscriber struct {
	sub *Subscription
}

// topic holds the sequence counter, bounded replay buffer and subscriber set
// for one campaign.
type topic struct {
	seq     int64
	buffer  []Event // ordered by SequenceNumber, bounded by Broadcaster.bufferSize
	subs    map[uuid.UUID]*subscriber
	evictAt *time.Timer
}

// Broadcaster fans progress events out to subscribers with per-campaign
// ordering and bounded replay. It is an explicitly constructed object: all
// connection and sequence state lives here, not in package globals.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[uuid.UUID]*topic

	bufferSize     int
	subscriberSize int
	grace          time.Duration
}

const (
	defaultBufferSize     = 512
	defaultSubscriberSize = 256
	defaultEvictionGrace  = 30 * time.Second
)

// NewBroadcaster creates a Broadcaster. bufferSize bounds the per-campaign
// replay buffer, subscriberSize bounds each subscriber's delivery channel and
// grace is how long a completed campaign's buffer is kept for late resumes.
// Zero values select defaults.
func NewBroadcaster(bufferSize, subscriberSize int, grace time.Duration) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if subscriberSize <= 0 {
		subscriberSize = defaultSubscriberSize
	}
	if grace <= 0 {
		grace = defaultEvictionGrace
	}
	return &Broadcaster{
		topics:         make(map[uuid.UUID]*topic),
		bufferSize:     bufferSize,
		subscriberSize: subscriberSize,
		grace:          grace,
	}
}

// Publish stamps ev with the campaign's next sequence number and delivers it
// to all subscribers. A slow subscriber never blocks publication: its oldest
// pending event is dropped to make room.
func (b *Broadcaster) Publish(campaignID uuid.UUID, ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	tp := b.topic(campaignID)
	tp.seq++
	ev.SequenceNumber = tp.seq
	ev.CampaignID = campaignID
	if ev.MessageID == uuid.Nil {
		ev.MessageID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	tp.buffer = append(tp.buffer, ev)
	if len(tp.buffer) > b.bufferSize {
		tp.buffer = tp.buffer[len(tp.buffer)-b.bufferSize:]
	}

	for _, s := range tp.subs {
		deliver(s.sub.ch, ev)
	}
	return ev
}

// deliver sends without ever blocking: when the subscriber channel is full
// the oldest pending event is discarded first.
func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Subscribe registers a subscriber for a campaign. Buffered events with
// sequence > fromSequence are replayed into the subscription first, then live
// events follow in order. When fromSequence predates the oldest buffered
// event the subscription is flagged ResyncRequired.
func (b *Broadcaster) Subscribe(campaignID uuid.UUID, fromSequence int64) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	tp := b.topic(campaignID)

	replay := make([]Event, 0, len(tp.buffer))
	for _, ev := range tp.buffer {
		if ev.SequenceNumber > fromSequence {
			replay = append(replay, ev)
		}
	}

	resync := false
	if fromSequence < tp.seq {
		if len(tp.buffer) == 0 || tp.buffer[0].SequenceNumber > fromSequence+1 {
			resync = true
		}
	}

	size := b.subscriberSize
	if size < len(replay)+1 {
		size = len(replay) + 1
	}
	ch := make(chan Event, size)
	sub := &Subscription{
		ID:             uuid.New(),
		CampaignID:     campaignID,
		Events:         ch,
		ResyncRequired: resync,
		ch:             ch,
	}
	for _, ev := range replay {
		ch <- ev
	}
	tp.subs[sub.ID] = &subscriber{sub: sub}
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// for already-removed subscriptions.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tp, ok := b.topics[sub.CampaignID]
	if !ok {
		return
	}
	if _, ok := tp.subs[sub.ID]; !ok {
		return
	}
	delete(tp.subs, sub.ID)
	close(sub.ch)
}

// CampaignCompleted schedules eviction of the campaign's replay buffer after
// the grace period, keeping it available for clients that resume promptly.
func (b *Broadcaster) CampaignCompleted(campaignID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tp, ok := b.topics[campaignID]
	if !ok {
		return
	}
	if tp.evictAt != nil {
		tp.evictAt.Stop()
	}
	tp.evictAt = time.AfterFunc(b.grace, func() { b.evict(campaignID) })
}

func (b *Broadcaster) evict(campaignID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tp, ok := b.topics[campaignID]
	if !ok {
		return
	}
	for id, s := range tp.subs {
		delete(tp.subs, id)
		close(s.sub.ch)
	}
	delete(b.topics, campaignID)
	log.Printf("Broadcaster: Evicted progress buffer for campaign %s", campaignID)
}

// LastSequence returns the most recently assigned sequence number for a
// campaign (0 if none published yet).
func (b *Broadcaster) LastSequence(campaignID uuid.UUID) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tp, ok := b.topics[campaignID]; ok {
		return tp.seq
	}
	return 0
}

// topic returns the campaign's topic, creating it on first use. Caller must
// hold b.mu.
func (b *Broadcaster) topic(campaignID uuid.UUID) *topic {
	tp, ok := b.topics[campaignID]
	if !ok {
		tp = &topic{subs: make(map[uuid.UUID]*subscriber)}
		b.topics[campaignID] = tp
	}
	if tp.evictAt != nil {
		// Activity on a completed campaign keeps the buffer alive a little
		// longer for resuming clients.
		tp.evictAt.Reset(b.grace)
	}
	return tp
}

// String implements fmt.Stringer for logging.
func (e Event) String() string {
	return fmt.Sprintf("seq=%d campaign=%s phase=%s status=%s %d/%d", e.SequenceNumber, e.CampaignID, e.Phase, e.Status, e.ProcessedItems, e.TotalItems)
}

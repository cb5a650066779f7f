package memorystore

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

// Store is the in-memory implementation of campaigns.Store. A single mutex
// guards all maps; CommitBatch is therefore atomic the same way the Postgres
// store's transaction is.
type Store struct {
	mu sync.RWMutex

	campaigns map[uuid.UUID]*campaigns.Campaign
	jobs      map[uuid.UUID]*campaigns.CampaignJob

	generated     map[uuid.UUID][]campaigns.GeneratedDomain           // per campaign, ordered by OffsetIndex
	generatedSeen map[uuid.UUID]map[int64]struct{}                    // per campaign, offsets already stored
	dnsResults    map[uuid.UUID]map[string]*campaigns.DNSValidationResult // per campaign, keyed by domain
	httpResults   map[uuid.UUID]map[string]*campaigns.HTTPKeywordResult   // per campaign, keyed by domain
	genStates     map[string]*campaigns.DomainGenerationConfigState

	lockStaleness time.Duration
	now           func() time.Time
}

var _ campaigns.Store = (*Store)(nil)

const defaultLockStaleness = 5 * time.Minute

// NewStore creates a Store whose claim logic treats locks older than
// lockStaleness as expired. Zero selects the default threshold.
func NewStore(lockStaleness time.Duration) *Store {
	return NewStoreWithClock(lockStaleness, time.Now)
}

// NewStoreWithClock is NewStore with an injectable clock, used by tests to
// simulate stuck locks without sleeping.
func NewStoreWithClock(lockStaleness time.Duration, now func() time.Time) *Store {
	if lockStaleness <= 0 {
		lockStaleness = defaultLockStaleness
	}
	return &Store{
		campaigns:     make(map[uuid.UUID]*campaigns.Campaign),
		jobs:          make(map[uuid.UUID]*campaigns.CampaignJob),
		generated:     make(map[uuid.UUID][]campaigns.GeneratedDomain),
		generatedSeen: make(map[uuid.UUID]map[int64]struct{}),
		dnsResults:    make(map[uuid.UUID]map[string]*campaigns.DNSValidationResult),
		httpResults:   make(map[uuid.UUID]map[string]*campaigns.HTTPKeywordResult),
		genStates:     make(map[string]*campaigns.DomainGenerationConfigState),
		lockStaleness: lockStaleness,
		now:           now,
	}
}

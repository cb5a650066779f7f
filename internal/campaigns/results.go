package campaigns

import (
	"time"

	"github.com/google/uuid"
)

// ValidationStatus is the persisted outcome of a single domain validation.
type ValidationStatus string

const (
	ValidationResolved   ValidationStatus = "resolved"
	ValidationUnresolved ValidationStatus = "unresolved"
	ValidationMatch      ValidationStatus = "match"
	ValidationNoMatch    ValidationStatus = "no_match"
	ValidationTimeout    ValidationStatus = "timeout"
	ValidationError      ValidationStatus = "error"
)

// GeneratedDomain is an append-only row produced by a domain generation job.
// OffsetIndex is the deterministic position of the domain within its
// generation configuration's combination space.
type GeneratedDomain struct {
	ID          uuid.UUID `json:"id"`
	CampaignID  uuid.UUID `json:"campaignId"`
	DomainName  string    `json:"domainName"`
	OffsetIndex int64     `json:"offsetIndex"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// DNSValidationResult is an append-only row produced by a DNS validation job.
// Only the retry bookkeeping fields (Attempts, LastCheckedAt) are ever
// updated after creation.
type DNSValidationResult struct {
	ID            uuid.UUID        `json:"id"`
	CampaignID    uuid.UUID        `json:"campaignId"`
	DomainName    string           `json:"domainName"`
	Status        ValidationStatus `json:"status"`
	IPs           []string         `json:"ips,omitempty"`
	Resolver      string           `json:"resolver,omitempty"`
	Error         string           `json:"error,omitempty"`
	Attempts      int              `json:"attempts"`
	LastCheckedAt time.Time        `json:"lastCheckedAt"`
}

// KeywordMatch records one keyword rule hit inside a fetched page.
type KeywordMatch struct {
	Pattern     string   `json:"pattern"`
	MatchedText string   `json:"matchedText"`
	Category    string   `json:"category,omitempty"`
	Contexts    []string `json:"contexts,omitempty"`
}

// HTTPKeywordResult is an append-only row produced by an HTTP keyword
// validation job.
type HTTPKeywordResult struct {
	ID             uuid.UUID        `json:"id"`
	CampaignID     uuid.UUID        `json:"campaignId"`
	DomainName     string           `json:"domainName"`
	Status         ValidationStatus `json:"status"`
	HTTPStatusCode int              `json:"httpStatusCode,omitempty"`
	FinalURL       string           `json:"finalUrl,omitempty"`
	ContentHash    string           `json:"contentHash,omitempty"`
	Matches        []KeywordMatch   `json:"matches,omitempty"`
	Error          string           `json:"error,omitempty"`
	Attempts       int              `json:"attempts"`
	LastCheckedAt  time.Time        `json:"lastCheckedAt"`
}

// DomainGenerationConfigState is the content-addressed cursor for a domain
// generation configuration. The same configuration hash always resumes from
// LastOffset, which is what prevents duplicate generation across restarts.
type DomainGenerationConfigState struct {
	ConfigHash string    `json:"configHash"`
	LastOffset int64     `json:"lastOffset"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

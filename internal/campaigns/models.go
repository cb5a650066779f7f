package campaigns

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CampaignType represents the type of a campaign.
type CampaignType string

const (
	// TypeDomainGeneration is the type for domain generation campaigns.
	TypeDomainGeneration CampaignType = "domain_generation"
	// TypeDNSValidation is the type for DNS validation campaigns.
	TypeDNSValidation CampaignType = "dns_validation"
	// TypeHTTPKeywordValidation is the type for HTTP keyword validation campaigns.
	TypeHTTPKeywordValidation CampaignType = "http_keyword_validation"
)

// IsValid reports whether t is a known campaign type.
func (t CampaignType) IsValid() bool {
	switch t {
	case TypeDomainGeneration, TypeDNSValidation, TypeHTTPKeywordValidation:
		return true
	}
	return false
}

// CampaignStatus defines the possible statuses of a campaign.
type CampaignStatus string

const (
	StatusPending   CampaignStatus = "pending"
	StatusQueued    CampaignStatus = "queued"
	StatusRunning   CampaignStatus = "running"
	StatusPausing   CampaignStatus = "pausing"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
	StatusFailed    CampaignStatus = "failed"
	StatusCancelled CampaignStatus = "cancelled"
)

// Terminal reports whether s is a final status from which no further
// transitions are allowed.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// validCampaignTransitions enumerates the status transitions the orchestrator
// is allowed to perform. Anything not listed here is rejected.
var validCampaignTransitions = map[CampaignStatus][]CampaignStatus{
	StatusPending: {StatusQueued, StatusCancelled},
	StatusQueued:  {StatusRunning, StatusPausing, StatusCancelled},
	StatusRunning: {StatusPausing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPausing: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusQueued, StatusCancelled},
}

// ValidTransition reports whether a campaign may move from one status to
// another.
func ValidTransition(from, to CampaignStatus) bool {
	for _, allowed := range validCampaignTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Campaign is a user-initiated unit of work composed of one or more jobs.
// All counters are int64: totals for large generation campaigns overflow
// 32-bit and 53-bit-safe representations.
type Campaign struct {
	ID           uuid.UUID      `json:"campaignId"`
	Name         string         `json:"campaignName"`
	Type         CampaignType   `json:"campaignType"`
	Status       CampaignStatus `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`

	TotalItems      int64 `json:"totalItems"`
	ProcessedItems  int64 `json:"processedItems"`
	SuccessfulItems int64 `json:"successfulItems"`
	FailedItems     int64 `json:"failedItems"`

	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`

	Metadata json.RawMessage `json:"metadata,omitempty"`

	AuditLog []CampaignAuditEntry `json:"auditLog,omitempty"`
}

// ProgressPercent returns campaign completion as 0.0..100.0. A campaign with
// an unknown total reports 0 until the total is established.
func (c *Campaign) ProgressPercent() float64 {
	if c.TotalItems <= 0 {
		return 0
	}
	pct := float64(c.ProcessedItems) / float64(c.TotalItems) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// CampaignAuditEntry records a significant event in a campaign's lifecycle.
type CampaignAuditEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
}

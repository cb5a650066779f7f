package httpvalidator

import (
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/keywordextractor"
)

// ValidationResult holds the raw HTTP outcome for a single domain.
type ValidationResult struct {
	Domain              string              `json:"domain"`
	Status              string              `json:"status"` // e.g., "OK", "Not Found", "Error", "Timeout", "Cancelled"
	StatusCode          int                 `json:"statusCode,omitempty"`
	FinalURL            string              `json:"finalUrl,omitempty"`
	ContentHash         string              `json:"contentHash,omitempty"`
	ContentLength       int                 `json:"contentLength,omitempty"`
	ActualContentLength int64               `json:"actualContentLength,omitempty"`
	ContentHashError    string              `json:"contentHashError,omitempty"`
	ResponseHeaders     map[string][]string `json:"responseHeaders,omitempty"`
	AntiBotIndicators   map[string]string   `json:"antiBotIndicators,omitempty"`
	Error               string              `json:"error,omitempty"`
	Timestamp           string              `json:"timestamp"`
	DurationMs          int64               `json:"durationMs"`
	Body                []byte              `json:"-"` // decompressed UTF-8 body, consumed by keyword extraction
}

// ToCampaignResult combines the HTTP outcome with keyword matches into the
// persisted result row. A fetched page is a match only when at least one rule
// hit; fetch failures carry their transport status through.
func (vr ValidationResult) ToCampaignResult(campaignID uuid.UUID, matches []keywordextractor.KeywordExtractionResult) campaigns.HTTPKeywordResult {
	var status campaigns.ValidationStatus
	switch {
	case vr.Status == "Timeout":
		status = campaigns.ValidationTimeout
	case vr.Status == "Error" || vr.Status == "Cancelled":
		status = campaigns.ValidationError
	case vr.StatusCode >= 200 && vr.StatusCode < 400:
		if len(matches) > 0 {
			status = campaigns.ValidationMatch
		} else {
			status = campaigns.ValidationNoMatch
		}
	default:
		status = campaigns.ValidationError
	}

	result := campaigns.HTTPKeywordResult{
		ID:             uuid.New(),
		CampaignID:     campaignID,
		DomainName:     vr.Domain,
		Status:         status,
		HTTPStatusCode: vr.StatusCode,
		FinalURL:       vr.FinalURL,
		ContentHash:    vr.ContentHash,
		Error:          vr.Error,
		Attempts:       1,
		LastCheckedAt:  time.Now().UTC(),
	}
	for _, m := range matches {
		result.Matches = append(result.Matches, campaigns.KeywordMatch{
			Pattern:     m.MatchedPattern,
			MatchedText: m.MatchedText,
			Category:    m.Category,
			Contexts:    m.Contexts,
		})
	}
	return result
}

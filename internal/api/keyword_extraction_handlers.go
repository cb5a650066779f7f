package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fntelecomllc/studio-sub001/internal/keywordextractor"
)

const maxExtractionBatchItems = 50

// KeywordExtractionRequestItem defines a single content item for ad-hoc
// keyword extraction.
type KeywordExtractionRequestItem struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

// BatchKeywordExtractionRequest defines the request for batch keyword
// extraction against one keyword set.
type BatchKeywordExtractionRequest struct {
	KeywordSetID string                         `json:"keywordSetId"`
	Items        []KeywordExtractionRequestItem `json:"items"`
}

// KeywordExtractionAPIResult defines the extraction outcome for a single item.
type KeywordExtractionAPIResult struct {
	ID      string                                     `json:"id,omitempty"`
	Matches []keywordextractor.KeywordExtractionResult `json:"matches,omitempty"`
	Error   string                                     `json:"error,omitempty"`
}

// BatchKeywordExtractionResponse defines the response for batch keyword
// extraction.
type BatchKeywordExtractionResponse struct {
	KeywordSetID string                       `json:"keywordSetId"`
	Results      []KeywordExtractionAPIResult `json:"results"`
}

// BatchExtractKeywordsHandler runs a keyword set against user-supplied HTML
// content without creating a campaign. Useful for tuning rules before a run.
func (h *APIHandler) BatchExtractKeywordsHandler(w http.ResponseWriter, r *http.Request) {
	var req BatchKeywordExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	defer r.Body.Close()

	if len(req.Items) == 0 {
		respondWithError(w, http.StatusBadRequest, "items cannot be empty")
		return
	}
	if len(req.Items) > maxExtractionBatchItems {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("too many items: %d (max %d)", len(req.Items), maxExtractionBatchItems))
		return
	}
	keywordSet, ok := h.Config.GetKeywordSet(req.KeywordSetID)
	if !ok {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Keyword set '%s' not found", req.KeywordSetID))
		return
	}

	results := make([]KeywordExtractionAPIResult, len(req.Items))
	for i, item := range req.Items {
		results[i] = KeywordExtractionAPIResult{ID: item.ID}
		matches, err := keywordextractor.ExtractKeywords([]byte(item.Content), keywordSet.Rules)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Matches = matches
	}

	respondWithJSON(w, http.StatusOK, BatchKeywordExtractionResponse{
		KeywordSetID: req.KeywordSetID,
		Results:      results,
	})
}

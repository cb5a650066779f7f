package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/worker"
)

// CreateGenerationCampaignHandler creates a domain generation campaign with
// its queued job. The campaign starts in pending status and must be started
// explicitly.
func (h *APIHandler) CreateGenerationCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req worker.DomainGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	defer r.Body.Close()

	campaign, err := h.Orchestrator.CreateDomainGenerationCampaign(r.Context(), req)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("API: Created generation campaign %s (%q)", campaign.ID, campaign.Name)
	respondWithJSON(w, http.StatusCreated, campaign)
}

// CreateDNSCampaignHandler creates a DNS validation campaign over a completed
// generation campaign's output.
func (h *APIHandler) CreateDNSCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req worker.DNSValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	defer r.Body.Close()

	campaign, err := h.Orchestrator.CreateDNSValidationCampaign(r.Context(), req)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("API: Created DNS validation campaign %s (%q)", campaign.ID, campaign.Name)
	respondWithJSON(w, http.StatusCreated, campaign)
}

// CreateHTTPCampaignHandler creates an HTTP keyword validation campaign over
// a DNS validation campaign's resolved domains.
func (h *APIHandler) CreateHTTPCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req worker.HTTPKeywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	defer r.Body.Close()

	campaign, err := h.Orchestrator.CreateHTTPKeywordCampaign(r.Context(), req)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("API: Created HTTP keyword campaign %s (%q)", campaign.ID, campaign.Name)
	respondWithJSON(w, http.StatusCreated, campaign)
}

// ListCampaignsHandler lists campaigns, optionally filtered by ?status=.
func (h *APIHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	status := campaigns.CampaignStatus(r.URL.Query().Get("status"))
	list, err := h.Orchestrator.ListCampaigns(r.Context(), status)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

// GetCampaignHandler returns one campaign with its current progress counters.
func (h *APIHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	campaign, err := h.Orchestrator.GetCampaign(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, campaign)
}

// StartCampaignHandler moves a pending campaign into the job queue.
func (h *APIHandler) StartCampaignHandler(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Orchestrator.StartCampaign)
}

// PauseCampaignHandler requests a pause; workers settle it at their next
// batch boundary.
func (h *APIHandler) PauseCampaignHandler(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Orchestrator.PauseCampaign)
}

// ResumeCampaignHandler re-queues a paused campaign.
func (h *APIHandler) ResumeCampaignHandler(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Orchestrator.ResumeCampaign)
}

// CancelCampaignHandler cancels a campaign and its pending jobs.
func (h *APIHandler) CancelCampaignHandler(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Orchestrator.CancelCampaign)
}

// ListCampaignJobsHandler lists the jobs of a campaign with their attempt and
// lock state.
func (h *APIHandler) ListCampaignJobsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	jobs, err := h.Store.ListJobs(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, jobs)
}

func (h *APIHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error)) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}
	campaign, err := op(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, campaign)
}

func (h *APIHandler) campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := mux.Vars(r)["campaignId"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Campaign ID missing")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid campaign ID: "+err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// parsePagination reads limit/offset style query parameters with defaults.
func parsePagination(r *http.Request, limitDefault, limitMax int) int {
	limit := limitDefault
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > limitMax {
		limit = limitMax
	}
	return limit
}

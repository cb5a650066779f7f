package api

import (
	"net/http"
	"strconv"
)

const (
	defaultResultsPageSize = 100
	maxResultsPageSize     = 1000
)

// GetGeneratedDomainsHandler pages a generation campaign's output in offset
// order. ?afterOffset= is the exclusive resume point, -1 (the default) starts
// from the beginning.
func (h *APIHandler) GetGeneratedDomainsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	afterOffset := int64(-1)
	if raw := r.URL.Query().Get("afterOffset"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid afterOffset: "+err.Error())
			return
		}
		afterOffset = v
	}
	limit := parsePagination(r, defaultResultsPageSize, maxResultsPageSize)

	domains, err := h.Store.ListGeneratedDomains(r.Context(), id, afterOffset, limit)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	next := afterOffset
	if len(domains) > 0 {
		next = domains[len(domains)-1].OffsetIndex
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"domains":    domains,
		"nextOffset": next,
	})
}

// GetResolvedDomainsHandler pages a DNS validation campaign's resolved
// domains in lexicographic order. ?afterDomain= is the exclusive resume key.
func (h *APIHandler) GetResolvedDomainsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	afterDomain := r.URL.Query().Get("afterDomain")
	limit := parsePagination(r, defaultResultsPageSize, maxResultsPageSize)

	domains, err := h.Store.ListResolvedDomains(r.Context(), id, afterDomain, limit)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	next := afterDomain
	if len(domains) > 0 {
		next = domains[len(domains)-1]
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"domains":    domains,
		"nextDomain": next,
	})
}

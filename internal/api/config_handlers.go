package api

import (
	"net/http"

	"github.com/fntelecomllc/studio-sub001/internal/config"
)

// DNSPersonaListItem defines the structure for listing DNS personas.
type DNSPersonaListItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListDNSPersonasHandler lists all available DNS personas.
func (h *APIHandler) ListDNSPersonasHandler(w http.ResponseWriter, r *http.Request) {
	personas := h.Config.DNSPersonas
	responseItems := make([]DNSPersonaListItem, len(personas))
	for i, p := range personas {
		responseItems[i] = DNSPersonaListItem{ID: p.ID, Name: p.Name, Description: p.Description}
	}
	respondWithJSON(w, http.StatusOK, responseItems)
}

// HTTPPersonaListItem defines the structure for listing HTTP personas.
type HTTPPersonaListItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	UserAgent   string `json:"userAgent,omitempty"`
}

// ListHTTPPersonasHandler lists all available HTTP personas.
func (h *APIHandler) ListHTTPPersonasHandler(w http.ResponseWriter, r *http.Request) {
	personas := h.Config.HTTPPersonas
	responseItems := make([]HTTPPersonaListItem, len(personas))
	for i, p := range personas {
		responseItems[i] = HTTPPersonaListItem{ID: p.ID, Name: p.Name, Description: p.Description, UserAgent: p.UserAgent}
	}
	respondWithJSON(w, http.StatusOK, responseItems)
}

// ProxyListItem lists a configured proxy without its credentials.
type ProxyListItem struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
	Enabled  bool   `json:"enabled"`
}

// ListProxiesHandler lists configured proxies. Credentials are never exposed.
func (h *APIHandler) ListProxiesHandler(w http.ResponseWriter, r *http.Request) {
	proxies := h.Config.Proxies
	responseItems := make([]ProxyListItem, len(proxies))
	for i, p := range proxies {
		responseItems[i] = ProxyListItem{
			ID:       p.ID,
			Name:     p.Name,
			Protocol: p.Protocol,
			Address:  p.Address,
			Enabled:  p.Enabled(),
		}
	}
	respondWithJSON(w, http.StatusOK, responseItems)
}

// GetProxyStatusesHandler reports the live health of every managed proxy.
func (h *APIHandler) GetProxyStatusesHandler(w http.ResponseWriter, r *http.Request) {
	if h.ProxyMgr == nil {
		respondWithJSON(w, http.StatusOK, []any{})
		return
	}
	respondWithJSON(w, http.StatusOK, h.ProxyMgr.Statuses())
}

// KeywordSetListItem defines the structure for listing keyword sets.
type KeywordSetListItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RuleCount   int    `json:"ruleCount"`
}

// ListKeywordSetsHandler lists all available keyword sets.
func (h *APIHandler) ListKeywordSetsHandler(w http.ResponseWriter, r *http.Request) {
	keywordSets := h.Config.KeywordSets
	if keywordSets == nil {
		keywordSets = []config.KeywordSet{}
	}

	responseItems := make([]KeywordSetListItem, len(keywordSets))
	for i, ks := range keywordSets {
		responseItems[i] = KeywordSetListItem{
			ID:          ks.ID,
			Name:        ks.Name,
			Description: ks.Description,
			RuleCount:   len(ks.Rules),
		}
	}
	respondWithJSON(w, http.StatusOK, responseItems)
}

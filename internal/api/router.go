package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/progress"
	"github.com/fntelecomllc/studio-sub001/internal/proxymanager"
	"github.com/fntelecomllc/studio-sub001/internal/worker"
)

func NewRouter(cfg *config.AppConfig, proxyMgr *proxymanager.ProxyManager, orch *worker.Orchestrator, store campaigns.Store, broadcaster *progress.Broadcaster) *mux.Router {
	router := mux.NewRouter()
	apiHandler := NewAPIHandler(cfg, proxyMgr, orch, store, broadcaster)

	router.Use(LoggingMiddleware)
	router.Use(CORSMiddleware)

	router.HandleFunc("/ping", apiHandler.PingHandler).Methods(http.MethodGet, http.MethodOptions)

	apiV1 := router.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(APIKeyAuthMiddleware(cfg.Server.APIKey))

	// Campaign commands
	apiV1.HandleFunc("/campaigns/generation", apiHandler.CreateGenerationCampaignHandler).Methods(http.MethodPost, http.MethodOptions)
	apiV1.HandleFunc("/campaigns/dns-validation", apiHandler.CreateDNSCampaignHandler).Methods(http.MethodPost, http.MethodOptions)
	apiV1.HandleFunc("/campaigns/http-keyword", apiHandler.CreateHTTPCampaignHandler).Methods(http.MethodPost, http.MethodOptions)
	apiV1.HandleFunc("/campaigns", apiHandler.ListCampaignsHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/campaigns/{campaignId}", apiHandler.GetCampaignHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/campaigns/{campaignId}/start", apiHandler.StartCampaignHandler).Methods(http.MethodPost, http.MethodOptions)
	apiV1.HandleFunc("/campaigns/{campaignId}/pause", apiHandler.PauseCampaignHandler).Methods(http.MethodPost, http.MethodOptions)
	apiV1.HandleFunc("/campaigns/{campaignId}/resume", apiHandler.ResumeCampaignHandler).Methods(http.MethodPost, http.MethodOptions)
	apiV1.HandleFunc("/campaigns/{campaignId}/cancel", apiHandler.CancelCampaignHandler).Methods(http.MethodPost, http.MethodOptions)
	apiV1.HandleFunc("/campaigns/{campaignId}/jobs", apiHandler.ListCampaignJobsHandler).Methods(http.MethodGet, http.MethodOptions)

	// Campaign results
	apiV1.HandleFunc("/campaigns/{campaignId}/results/generated", apiHandler.GetGeneratedDomainsHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/campaigns/{campaignId}/results/resolved", apiHandler.GetResolvedDomainsHandler).Methods(http.MethodGet, http.MethodOptions)

	// Progress streams: a per-campaign socket and a multiplexed one driven
	// by subscribe/unsubscribe control frames.
	apiV1.HandleFunc("/campaigns/{campaignId}/events", apiHandler.CampaignEventsHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/ws", apiHandler.EventStreamHandler).Methods(http.MethodGet)

	// Personas, proxies, keyword sets
	apiV1.HandleFunc("/dns/personas", apiHandler.ListDNSPersonasHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/http/personas", apiHandler.ListHTTPPersonasHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/proxies", apiHandler.ListProxiesHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/proxies/status", apiHandler.GetProxyStatusesHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/keywords/sets", apiHandler.ListKeywordSetsHandler).Methods(http.MethodGet, http.MethodOptions)

	// Keyword Extraction
	apiV1.HandleFunc("/extract/keywords", apiHandler.BatchExtractKeywordsHandler).Methods(http.MethodPost, http.MethodOptions)

	return router
}

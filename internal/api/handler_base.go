package api

import (
	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/progress"
	"github.com/fntelecomllc/studio-sub001/internal/proxymanager"
	"github.com/fntelecomllc/studio-sub001/internal/worker"
)

// APIHandler holds the shared dependencies of the HTTP handlers.
type APIHandler struct {
	Config       *config.AppConfig
	ProxyMgr     *proxymanager.ProxyManager
	Orchestrator *worker.Orchestrator
	Store        campaigns.Store
	Broadcaster  *progress.Broadcaster
}

// NewAPIHandler creates an APIHandler with its dependencies.
func NewAPIHandler(cfg *config.AppConfig, pm *proxymanager.ProxyManager, orch *worker.Orchestrator, store campaigns.Store, broadcaster *progress.Broadcaster) *APIHandler {
	return &APIHandler{
		Config:       cfg,
		ProxyMgr:     pm,
		Orchestrator: orch,
		Store:        store,
		Broadcaster:  broadcaster,
	}
}

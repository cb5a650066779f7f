// Package proxymanager hands out configured proxies for outbound HTTP
// validation traffic and tracks their health. Proxies that keep failing are
// put on a cooldown and skipped until it expires.
package proxymanager

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/fntelecomllc/studio-sub001/internal/config"
)

const (
	SelectionRoundRobin = "round_robin"
	SelectionRandom     = "random"

	defaultFailureThreshold = 3
	defaultCooldown         = 2 * time.Minute
)

type proxyHealth struct {
	consecutiveFailures int
	cooldownUntil       time.Time
}

type ProxyManager struct {
	mu               sync.Mutex
	proxies          []config.ProxyConfigEntry
	health           map[string]*proxyHealth
	selection        string
	nextIdx          int
	failureThreshold int
	cooldown         time.Duration
}

func NewProxyManager(proxies []config.ProxyConfigEntry, selection string) *ProxyManager {
	if selection == "" {
		selection = SelectionRoundRobin
	}
	var enabled []config.ProxyConfigEntry
	for _, p := range proxies {
		if p.Enabled() {
			enabled = append(enabled, p)
		}
	}
	log.Printf("ProxyManager: Initialized with %d enabled proxies (strategy %s)", len(enabled), selection)
	return &ProxyManager{
		proxies:          enabled,
		health:           make(map[string]*proxyHealth),
		selection:        selection,
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultCooldown,
	}
}

// GetProxy returns the next healthy proxy according to the selection strategy.
func (pm *ProxyManager) GetProxy() (*config.ProxyConfigEntry, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if len(pm.proxies) == 0 {
		return nil, fmt.Errorf("no proxies configured")
	}

	now := time.Now()
	candidates := make([]int, 0, len(pm.proxies))
	for i := range pm.proxies {
		h := pm.health[pm.proxies[i].ID]
		if h != nil && now.Before(h.cooldownUntil) {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("all %d proxies are cooling down", len(pm.proxies))
	}

	var idx int
	switch pm.selection {
	case SelectionRandom:
		idx = candidates[rand.Intn(len(candidates))]
	default:
		idx = candidates[pm.nextIdx%len(candidates)]
		pm.nextIdx++
	}
	entry := pm.proxies[idx]
	return &entry, nil
}

// ReportProxyHealth records the outcome of using a proxy. After the failure
// threshold is hit the proxy goes on cooldown.
func (pm *ProxyManager) ReportProxyHealth(proxyID string, ok bool, cause error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	h := pm.health[proxyID]
	if h == nil {
		h = &proxyHealth{}
		pm.health[proxyID] = h
	}
	if ok {
		h.consecutiveFailures = 0
		h.cooldownUntil = time.Time{}
		return
	}
	h.consecutiveFailures++
	log.Printf("ProxyManager: Proxy '%s' failure %d/%d: %v", proxyID, h.consecutiveFailures, pm.failureThreshold, cause)
	if h.consecutiveFailures >= pm.failureThreshold {
		h.cooldownUntil = time.Now().Add(pm.cooldown)
		log.Printf("ProxyManager: Proxy '%s' placed on cooldown until %s", proxyID, h.cooldownUntil.Format(time.RFC3339))
	}
}

// HealthyProxyCount reports how many proxies are currently usable.
func (pm *ProxyManager) HealthyProxyCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	now := time.Now()
	n := 0
	for i := range pm.proxies {
		h := pm.health[pm.proxies[i].ID]
		if h == nil || !now.Before(h.cooldownUntil) {
			n++
		}
	}
	return n
}

// ProxyStatus is a point-in-time health snapshot of one managed proxy.
type ProxyStatus struct {
	ID                  string     `json:"id"`
	Protocol            string     `json:"protocol"`
	Address             string     `json:"address"`
	Healthy             bool       `json:"healthy"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	CooldownUntil       *time.Time `json:"cooldownUntil,omitempty"`
}

// Statuses reports the current health of every managed proxy.
func (pm *ProxyManager) Statuses() []ProxyStatus {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	now := time.Now()
	out := make([]ProxyStatus, 0, len(pm.proxies))
	for i := range pm.proxies {
		p := &pm.proxies[i]
		st := ProxyStatus{
			ID:       p.ID,
			Protocol: p.Protocol,
			Address:  p.Address,
			Healthy:  true,
		}
		if h := pm.health[p.ID]; h != nil {
			st.ConsecutiveFailures = h.consecutiveFailures
			if now.Before(h.cooldownUntil) {
				st.Healthy = false
				t := h.cooldownUntil
				st.CooldownUntil = &t
			}
		}
		out = append(out, st)
	}
	return out
}

// IsProxyRelatedError reports whether an error message looks like a proxy
// connectivity failure rather than a target-site failure.
func IsProxyRelatedError(errMsg, proxyAddress string) bool {
	if errMsg == "" {
		return false
	}
	lowerMsg := strings.ToLower(errMsg)
	if proxyAddress != "" && strings.Contains(lowerMsg, strings.ToLower(proxyAddress)) {
		return true
	}
	for _, marker := range []string{
		"proxyconnect",
		"socks connect",
		"proxy authentication required",
		"cannot connect to proxy",
	} {
		if strings.Contains(lowerMsg, marker) {
			return true
		}
	}
	return false
}

// ProxyURL builds the URL form of a proxy entry, including credentials.
func ProxyURL(entry *config.ProxyConfigEntry) (*url.URL, error) {
	if entry == nil {
		return nil, fmt.Errorf("nil proxy entry")
	}
	scheme := strings.ToLower(entry.Protocol)
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{Scheme: scheme, Host: entry.Address}
	if entry.Username != "" {
		if entry.Password != "" {
			u.User = url.UserPassword(entry.Username, entry.Password)
		} else {
			u.User = url.User(entry.Username)
		}
	}
	return u, nil
}

// GetHTTPTransportForProxy clones the base transport and routes it through
// the given proxy. HTTP/HTTPS proxies use the transport's Proxy function;
// SOCKS5 proxies replace the dialer.
func GetHTTPTransportForProxy(entry *config.ProxyConfigEntry, base *http.Transport) (*http.Transport, error) {
	if entry == nil {
		return nil, fmt.Errorf("nil proxy entry")
	}
	transport := base.Clone()

	switch strings.ToLower(entry.Protocol) {
	case "http", "https":
		proxyURL, err := ProxyURL(entry)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		return transport, nil
	case "socks5":
		var auth *proxy.Auth
		if entry.Username != "" {
			auth = &proxy.Auth{User: entry.Username, Password: entry.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", entry.Address, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer for %s: %w", entry.Address, err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer for %s does not support context dialing", entry.Address)
		}
		transport.Proxy = nil
		transport.DialContext = contextDialer.DialContext
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported proxy protocol '%s' for proxy '%s'", entry.Protocol, entry.ID)
	}
}

package httpvalidator

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
)

func testAppConfig() *config.AppConfig {
	cfg := config.DefaultConfig()
	cfg.HTTPValidator.RequestTimeout = 5 * time.Second
	cfg.HTTPValidator.RateLimitDPS = 1000
	cfg.HTTPValidator.RateLimitBurst = 1000
	cfg.HTTPValidator.MaxConcurrentGoroutines = 4
	return cfg
}

func keywordSet() *config.KeywordSet {
	return &config.KeywordSet{
		ID:   "ks-test",
		Name: "test set",
		Rules: []config.KeywordRule{
			{ID: "r1", Pattern: "premium domains", Type: "string", CaseSensitive: false, Category: "sales", ContextChars: 20},
		},
	}
}

func serverHost(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestValidateWithKeywordsMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body><h1>Buy Premium Domains here</h1></body></html>"))
	}))
	defer srv.Close()

	hv := New(testAppConfig(), nil)
	campaignID := uuid.New()
	results := hv.ValidateWithKeywords(context.Background(), campaignID, []string{serverHost(t, srv)}, nil, keywordSet(), false)

	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, campaigns.ValidationMatch, r.Status)
	assert.Equal(t, http.StatusOK, r.HTTPStatusCode)
	assert.Equal(t, campaignID, r.CampaignID)
	assert.NotEmpty(t, r.ContentHash)
	require.Len(t, r.Matches, 1)
	assert.Equal(t, "premium domains", r.Matches[0].Pattern)
	assert.Equal(t, "Premium Domains", r.Matches[0].MatchedText)
	assert.Equal(t, "sales", r.Matches[0].Category)
}

func TestValidateWithKeywordsNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>nothing interesting</body></html>"))
	}))
	defer srv.Close()

	hv := New(testAppConfig(), nil)
	results := hv.ValidateWithKeywords(context.Background(), uuid.New(), []string{serverHost(t, srv)}, nil, keywordSet(), false)

	require.Len(t, results, 1)
	assert.Equal(t, campaigns.ValidationNoMatch, results[0].Status)
	assert.Empty(t, results[0].Matches)
}

func TestValidateWithKeywordsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	hv := New(testAppConfig(), nil)
	results := hv.ValidateWithKeywords(context.Background(), uuid.New(), []string{serverHost(t, srv)}, nil, keywordSet(), false)

	require.Len(t, results, 1)
	assert.Equal(t, campaigns.ValidationError, results[0].Status)
	assert.Equal(t, http.StatusInternalServerError, results[0].HTTPStatusCode)
}

func TestGzipBodyDecodedBeforeMatching(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("<html><body>premium domains for sale</body></html>"))
		gz.Close()
	}))
	defer srv.Close()

	hv := New(testAppConfig(), nil)
	results := hv.ValidateWithKeywords(context.Background(), uuid.New(), []string{serverHost(t, srv)}, nil, keywordSet(), false)

	require.Len(t, results, 1)
	assert.Equal(t, campaigns.ValidationMatch, results[0].Status)
}

func TestUnreachableDomainReportsError(t *testing.T) {
	cfg := testAppConfig()
	cfg.HTTPValidator.RequestTimeout = 500 * time.Millisecond

	hv := New(cfg, nil)
	// Reserved TEST-NET-1 address, nothing listens there.
	results := hv.ValidateWithKeywords(context.Background(), uuid.New(), []string{"192.0.2.1:9"}, nil, keywordSet(), false)

	require.Len(t, results, 1)
	assert.Contains(t, []campaigns.ValidationStatus{campaigns.ValidationError, campaigns.ValidationTimeout}, results[0].Status)
	assert.NotEmpty(t, results[0].Error)
}

func TestPersonaUserAgentApplied(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	cfg := testAppConfig()
	cfg.HTTPPersonas = []config.HTTPPersona{
		{ID: "persona-1", Name: "crawler", UserAgent: "CustomAgent/2.0", Headers: map[string]string{"X-Probe": "yes"}},
	}

	hv := New(cfg, nil)
	results := hv.ValidateWithKeywords(context.Background(), uuid.New(), []string{serverHost(t, srv)}, []string{"persona-1"}, keywordSet(), false)

	require.Len(t, results, 1)
	assert.Equal(t, "CustomAgent/2.0", gotUA)
	assert.Equal(t, campaigns.ValidationNoMatch, results[0].Status)
}

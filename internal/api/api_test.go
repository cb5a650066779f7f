package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/memorystore"
	"github.com/fntelecomllc/studio-sub001/internal/progress"
	"github.com/fntelecomllc/studio-sub001/internal/worker"
)

const testAPIKey = "test-api-key"

type testEnv struct {
	router      *mux.Router
	store       *memorystore.Store
	broadcaster *progress.Broadcaster
	cfg         *config.AppConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.APIKey = testAPIKey
	cfg.KeywordSets = []config.KeywordSet{{
		ID:   "ks-1",
		Name: "Sale Indicators",
		Rules: []config.KeywordRule{
			{ID: "r1", Pattern: "for sale", Type: "string"},
		},
	}}
	store := memorystore.NewStore(time.Minute)
	broadcaster := progress.NewBroadcaster(0, 0, time.Minute)
	orch := worker.NewOrchestrator(store, cfg)
	router := NewRouter(cfg, nil, orch, store, broadcaster)
	return &testEnv{router: router, store: store, broadcaster: broadcaster, cfg: cfg}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeCampaign(t *testing.T, rec *httptest.ResponseRecorder) campaigns.Campaign {
	t.Helper()
	var c campaigns.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return c
}

func TestPingRequiresNoAuth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pong")
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing Authorization header")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong key")

	rec = env.do(t, http.MethodGet, "/api/v1/campaigns", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCampaignLifecycleOverAPI(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/campaigns/generation", worker.DomainGenerationRequest{
		Name:           "api campaign",
		PatternType:    "prefix",
		ConstantPart:   "shop",
		VariableLength: 1,
		CharacterSet:   "abc",
		TLD:            "com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeCampaign(t, rec)
	assert.Equal(t, campaigns.StatusPending, created.Status)
	assert.Equal(t, int64(3), created.TotalItems)

	base := "/api/v1/campaigns/" + created.ID.String()

	rec = env.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, campaigns.StatusQueued, decodeCampaign(t, rec).Status)

	// Starting twice conflicts.
	rec = env.do(t, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, campaigns.StatusQueued, decodeCampaign(t, rec).Status)

	rec = env.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, campaigns.StatusPausing, decodeCampaign(t, rec).Status)

	rec = env.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, campaigns.StatusCancelled, decodeCampaign(t, rec).Status)

	rec = env.do(t, http.MethodGet, base+"/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []campaigns.CampaignJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, campaigns.JobStatusCancelled, jobs[0].Status)
}

func TestCreateGenerationCampaignRejectsBadConfig(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/campaigns/generation", worker.DomainGenerationRequest{
		Name:        "bad",
		PatternType: "diagonal",
		TLD:         "com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "pattern type")
}

func TestGetCampaignNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/campaigns/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/campaigns/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGeneratedResultsPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := &campaigns.Campaign{ID: uuid.New(), Name: "seeded", Type: campaigns.TypeDomainGeneration, Status: campaigns.StatusQueued}
	require.NoError(t, env.store.CreateCampaign(ctx, c))
	j := &campaigns.CampaignJob{ID: uuid.New(), CampaignID: c.ID, Type: c.Type, Status: campaigns.JobStatusQueued, MaxAttempts: 3}
	require.NoError(t, env.store.CreateJob(ctx, j))
	_, found, err := env.store.ClaimNextJob(ctx, "w1")
	require.NoError(t, err)
	require.True(t, found)

	rows := make([]campaigns.GeneratedDomain, 5)
	for i := range rows {
		rows[i] = campaigns.GeneratedDomain{
			CampaignID:  c.ID,
			DomainName:  fmt.Sprintf("d%d.com", i),
			OffsetIndex: int64(i),
		}
	}
	require.NoError(t, env.store.CommitBatch(ctx, &campaigns.BatchCheckpoint{
		JobID: j.ID, WorkerID: "w1", CampaignID: c.ID, GeneratedDomains: rows,
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/campaigns/"+c.ID.String()+"/results/generated?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Domains    []campaigns.GeneratedDomain `json:"domains"`
		NextOffset int64                       `json:"nextOffset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Domains, 3)
	assert.Equal(t, int64(2), page.NextOffset)

	rec = env.do(t, http.MethodGet, "/api/v1/campaigns/"+c.ID.String()+"/results/generated?afterOffset=2&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Domains, 2)
	assert.Equal(t, "d3.com", page.Domains[0].DomainName)
}

func TestListKeywordSets(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/keywords/sets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []KeywordSetListItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "ks-1", items[0].ID)
	assert.Equal(t, 1, items[0].RuleCount)
}

func TestBatchExtractKeywords(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/extract/keywords", BatchKeywordExtractionRequest{
		KeywordSetID: "ks-1",
		Items: []KeywordExtractionRequestItem{
			{ID: "a", Content: "<html><body><p>This domain is FOR SALE today.</p></body></html>"},
			{ID: "b", Content: "<html><body><p>Nothing to see here.</p></body></html>"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp BatchKeywordExtractionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.NotEmpty(t, resp.Results[0].Matches)
	assert.Empty(t, resp.Results[1].Matches)

	rec = env.do(t, http.MethodPost, "/api/v1/extract/keywords", BatchKeywordExtractionRequest{
		KeywordSetID: "missing",
		Items:        []KeywordExtractionRequestItem{{Content: "x"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaignEventsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	campaignID := uuid.New()

	// An event published before the client connects is replayed on subscribe.
	env.broadcaster.Publish(campaignID, progress.Event{
		Type:           progress.EventCampaignProgress,
		Phase:          campaigns.TypeDomainGeneration,
		Status:         campaigns.StatusRunning,
		ProcessedItems: 1,
	})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/campaigns/" + campaignID.String() + "/events"
	header := http.Header{"Authorization": []string{"Bearer " + testAPIKey}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello wsHello
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)
	assert.Equal(t, campaignID.String(), hello.CampaignID)
	assert.False(t, hello.ResyncRequired)

	var replayed progress.Event
	require.NoError(t, conn.ReadJSON(&replayed))
	assert.Equal(t, int64(1), replayed.SequenceNumber)
	assert.Equal(t, int64(1), replayed.ProcessedItems)

	env.broadcaster.Publish(campaignID, progress.Event{
		Type:           progress.EventCampaignStatus,
		Phase:          campaigns.TypeDomainGeneration,
		Status:         campaigns.StatusCompleted,
		ProcessedItems: 3,
	})

	var live progress.Event
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, int64(2), live.SequenceNumber)
	assert.Equal(t, campaigns.StatusCompleted, live.Status)
}

func TestWebSocketRejectsBadResumePoint(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/campaigns/" + uuid.New().String() + "/events?lastSequenceNumber=oops"
	header := http.Header{"Authorization": []string{"Bearer " + testAPIKey}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMultiplexedEventStream(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	first := uuid.New()
	second := uuid.New()
	env.broadcaster.Publish(first, progress.Event{
		Type:           progress.EventCampaignProgress,
		Phase:          campaigns.TypeDomainGeneration,
		Status:         campaigns.StatusRunning,
		ProcessedItems: 4,
	})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	header := http.Header{"Authorization": []string{"Bearer " + testAPIKey}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":     "subscribe",
		"campaignId": first.String(),
	}))

	var ack wsAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, first.String(), ack.CampaignID)
	assert.False(t, ack.ResyncRequired)
	assert.Equal(t, int64(1), ack.LastSequence)

	var replayed progress.Event
	require.NoError(t, conn.ReadJSON(&replayed))
	assert.Equal(t, first, replayed.CampaignID)
	assert.Equal(t, int64(1), replayed.SequenceNumber)

	// A second campaign joins the same connection.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":     "subscribe",
		"campaignId": second.String(),
	}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, second.String(), ack.CampaignID)

	env.broadcaster.Publish(second, progress.Event{
		Type:           progress.EventCampaignStatus,
		Phase:          campaigns.TypeDNSValidation,
		Status:         campaigns.StatusCompleted,
		ProcessedItems: 9,
	})

	var live progress.Event
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, second, live.CampaignID)
	assert.Equal(t, campaigns.StatusCompleted, live.Status)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":     "unsubscribe",
		"campaignId": second.String(),
	}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "unsubscribed", ack.Type)

	// Events for the dropped campaign no longer arrive; the first campaign
	// still streams.
	env.broadcaster.Publish(second, progress.Event{
		Type:           progress.EventCampaignProgress,
		Phase:          campaigns.TypeDNSValidation,
		Status:         campaigns.StatusRunning,
		ProcessedItems: 10,
	})
	env.broadcaster.Publish(first, progress.Event{
		Type:           progress.EventCampaignProgress,
		Phase:          campaigns.TypeDomainGeneration,
		Status:         campaigns.StatusRunning,
		ProcessedItems: 5,
	})
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, first, live.CampaignID)
	assert.Equal(t, int64(5), live.ProcessedItems)
}

func TestMultiplexedEventStreamRejectsBadControlFrames(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	header := http.Header{"Authorization": []string{"Bearer " + testAPIKey}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":     "subscribe",
		"campaignId": "not-a-uuid",
	}))
	var ack wsAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "error", ack.Type)
	assert.Equal(t, "invalid campaignId", ack.Error)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":     "replay",
		"campaignId": uuid.New().String(),
	}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "error", ack.Type)
	assert.Equal(t, "unknown action", ack.Error)
}

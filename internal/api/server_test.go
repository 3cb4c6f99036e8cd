package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiguard/internal/chain"
	"github.com/defiguard/internal/dispatcher"
	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/storage"
	"github.com/defiguard/internal/types"
	"github.com/defiguard/internal/worker"
)

const testWallet = "0x52908400098527886E0F7030069857D2E4169EE7"

type testEnv struct {
	server *Server
	hub    *Hub
	alerts *storage.AlertRepository
}

func newTestEnv(t *testing.T, cfg *ServerConfig) *testEnv {
	t.Helper()
	kv := storage.NewMemoryStore()
	portfolios := storage.NewPortfolioRepository(kv)
	alerts := storage.NewAlertRepository(kv)
	sessions := storage.NewSessionRepository(kv)
	hub := NewHub(0)

	d := dispatcher.New(dispatcher.Config{
		Registry:   chain.DefaultRegistry(),
		Portfolios: portfolios,
		Alerts:     alerts,
		Sessions:   sessions,
		Outbox:     hub,
	})

	if cfg == nil {
		cfg = &ServerConfig{Host: "127.0.0.1", Port: "0"}
	}
	srv, err := NewServer(cfg, Deps{
		Dispatcher:    d,
		Hub:           hub,
		Portfolios:    portfolios,
		Alerts:        alerts,
		Sessions:      sessions,
		KnowledgeMode: "fallback",
		StorageMode:   "memory",
	})
	require.NoError(t, err)
	return &testEnv{server: srv, hub: hub, alerts: alerts}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestEventFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/events", EventRequest{Type: EventStart, Sender: "alice"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var ack EventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.NotEmpty(t, ack.EventID)

	rec = env.do(t, http.MethodPost, "/v1/events", EventRequest{Type: EventText, Sender: "alice", Text: "register " + testWallet + " ethereum,bsc"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/messages/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []models.OutboundMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	assert.Contains(t, body.Messages[0].Text, "Welcome to DeFiGuard")
	assert.Equal(t, "alice", body.Messages[1].Recipient)

	rec = env.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Sessions)
	assert.Equal(t, 1, status.Portfolios)
	assert.Equal(t, "memory", status.StorageMode)
	assert.Nil(t, status.Worker)

	rec = env.do(t, http.MethodPost, "/v1/events", EventRequest{Type: EventEnd, Sender: "alice"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = env.do(t, http.MethodGet, "/status", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 0, status.Sessions)
}

func TestEventValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing sender", EventRequest{Type: EventStart}},
		{"unknown type", EventRequest{Type: "typing", Sender: "bob"}},
		{"empty text", EventRequest{Type: EventText, Sender: "bob", Text: "  "}},
		{"unknown field", map[string]string{"type": "start", "sender": "bob", "extra": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), ErrCodeInvalidInput)
		})
	}
	assert.Empty(t, env.hub.Messages("bob"))
}

func TestEventRateLimit(t *testing.T) {
	env := newTestEnv(t, &ServerConfig{EventsPerSecond: 0.001, EventBurst: 2})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/v1/events", EventRequest{Type: EventText, Sender: "carol", Text: "help"})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/v1/events", EventRequest{Type: EventText, Sender: "carol", Text: "help"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// other senders have their own bucket
	rec = env.do(t, http.MethodPost, "/v1/events", EventRequest{Type: EventText, Sender: "dave", Text: "help"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestReportDelivery(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/events", EventRequest{Type: EventStart, Sender: "erin"}).Code)

	report := models.RiskReport{
		UserID:          "erin",
		Level:           types.RiskCritical,
		Score:           0.91,
		Concerns:        []string{"PEPE is classified as critical risk"},
		Recommendations: []string{"Review flagged high-risk assets"},
		ShouldAlert:     true,
		Timestamp:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	rec := env.do(t, http.MethodPost, "/v1/reports", report)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Stored)
	assert.True(t, resp.Delivered)

	msgs := env.hub.Messages("erin")
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Text, "DeFiGuard Alert")

	count, err := env.alerts.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	report.ShouldAlert = false
	rec = env.do(t, http.MethodPost, "/v1/reports", report)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Stored)
	assert.False(t, resp.Delivered)
}

func TestReportValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/v1/reports", models.RiskReport{Level: "severe", Score: 1.5})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "user_id is required")
	assert.Contains(t, body, "unknown risk_level")
	assert.Contains(t, body, "risk_score must be within")
}

type failingHandler struct{ err error }

func (f failingHandler) Handle(context.Context, dispatcher.Event) error { return f.err }
func (f failingHandler) DeliverAlert(context.Context, *models.RiskReport) (bool, error) {
	return false, f.err
}

type fixedWorker struct{}

func (fixedWorker) GetStatus() worker.ScanWorkerStatus {
	return worker.ScanWorkerStatus{Running: true, Interval: "5m0s", Cycles: 3}
}

func TestBackendFailuresMapToStatus(t *testing.T) {
	kv := storage.NewMemoryStore()
	srv, err := NewServer(&ServerConfig{}, Deps{
		Dispatcher: failingHandler{err: apperrors.NewStorageError("set", errors.New("redis down"))},
		Hub:        NewHub(0),
		Portfolios: storage.NewPortfolioRepository(kv),
		Alerts:     storage.NewAlertRepository(kv),
		Sessions:   storage.NewSessionRepository(kv),
		Worker:     fixedWorker{},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(`{"type":"start","sender":"x"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrCodeServiceUnavailable)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.Worker)
	assert.Equal(t, 3, status.Worker.Cycles)
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(&ServerConfig{}, Deps{})
	assert.Error(t, err)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

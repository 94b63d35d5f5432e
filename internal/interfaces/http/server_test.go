package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/crabdrop/internal/airdrop"
	"github.com/sawpanic/crabdrop/internal/executor"
	httpContracts "github.com/sawpanic/crabdrop/internal/http"
	"github.com/sawpanic/crabdrop/internal/interfaces/http/handlers"
	"github.com/sawpanic/crabdrop/internal/metrics"
	"github.com/sawpanic/crabdrop/internal/net/ratelimit"
	"github.com/sawpanic/crabdrop/internal/persistence/memory"
	"github.com/sawpanic/crabdrop/internal/verify"
)

type stubExecutor struct{}

func (stubExecutor) Disburse(ctx context.Context, req executor.Request) (*executor.Response, error) {
	return &executor.Response{Accepted: true, TxHandle: "tx-" + req.Wallet}, nil
}

type testServer struct {
	store  *memory.Store
	server *Server
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()

	store := memory.NewStore()
	repo := store.Repository()
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	const cap = 2
	guard := airdrop.NewCountGuard(repo.Disbursements, cap)
	recorder := airdrop.NewRecorder(repo, guard, cap, m)
	gate := airdrop.NewGate(airdrop.Config{Cap: cap, Amount: 420, Token: "CRAB", Mode: airdrop.CapModeCount},
		repo, guard, stubExecutor{}, recorder, m)
	service := verify.NewService(repo.Identities, gate, m)

	h := handlers.NewHandlers(service, recorder, store, func() string { return "closed" }, nil)
	return &testServer{
		store:  store,
		server: NewServer(DefaultServerConfig(), h, limiter, m, reg),
	}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.RemoteAddr = "203.0.113.7:51000"
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpContracts.ErrorResponse {
	t.Helper()
	var resp httpContracts.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestVerifyEndpoint_Success(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.Seed("alice", "CODE-1", "W1")

	rec := ts.do(http.MethodPost, "/claim/verify",
		`{"claim_code":"CODE-1","proof_url":"https://x.com/alice/status/123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp httpContracts.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Verified)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "alice", resp.LinkedHandle)
	assert.Equal(t, "123456", resp.PostID)
	require.NotNil(t, resp.Airdrop)
	assert.Equal(t, "disbursed", resp.Airdrop.Status)
	assert.Equal(t, "tx-W1", resp.Airdrop.TxHandle)
	assert.Equal(t, int64(420), resp.Airdrop.Amount)

	// The code is consumed
	rec = ts.do(http.MethodPost, "/claim/verify",
		`{"claim_code":"CODE-1","proof_url":"https://x.com/alice/status/123456"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "code_not_found", decodeError(t, rec).Code)
}

func TestVerifyEndpoint_Errors(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.Seed("alice", "CODE-1", "W1")

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed_json", `{"claim_code":`, http.StatusBadRequest, "invalid_request"},
		{"missing_code", `{"proof_url":"https://x.com/alice/status/1"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown_code", `{"claim_code":"NOPE","proof_url":"https://x.com/alice/status/1"}`, http.StatusNotFound, "code_not_found"},
		{"bad_host", `{"claim_code":"CODE-1","proof_url":"https://example.com/alice/status/123"}`, http.StatusBadRequest, "invalid_proof_format"},
		{"bad_id", `{"claim_code":"CODE-1","proof_url":"https://twitter.com/alice/status/abc"}`, http.StatusBadRequest, "invalid_proof_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/claim/verify", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestVerifyEndpoint_RateLimited(t *testing.T) {
	ts := newTestServer(t, ratelimit.NewLimiter(0.01, 2))
	body := `{"claim_code":"NOPE","proof_url":"https://x.com/alice/status/1"}`

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/claim/verify", body).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/claim/verify", body).Code)

	rec := ts.do(http.MethodPost, "/claim/verify", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Stats is not limited
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/airdrop/stats", "").Code)
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.Seed("alice", "CODE-1", "W1")
	ts.do(http.MethodPost, "/claim/verify", `{"claim_code":"CODE-1","proof_url":"https://x.com/alice/status/1"}`)

	rec := ts.do(http.MethodGet, "/airdrop/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp httpContracts.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Cap)
	assert.Equal(t, int64(1), resp.Reserved)
	assert.Equal(t, int64(1), resp.Finalized)
	assert.Equal(t, int64(1), resp.Remaining)
	assert.Equal(t, "count", resp.Mode)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health httpContracts.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.Store.Healthy)
	assert.Equal(t, "closed", health.Circuits["executor"].State)

	ts.do(http.MethodPost, "/claim/verify", `{"claim_code":"NOPE","proof_url":"x"}`)
	rec = ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `crabdrop_verifications_total{result="code_not_found"} 1`)
}

func TestRouting(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "endpoint_not_found", decodeError(t, rec).Code)

	rec = ts.do(http.MethodGet, "/claim/verify", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", decodeError(t, rec).Code)
}

func TestClientAddr(t *testing.T) {
	s := &Server{config: ServerConfig{TrustProxy: true}}
	req := httptest.NewRequest(http.MethodPost, "/claim/verify", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", s.clientAddr(req))

	s.config.TrustProxy = false
	assert.Equal(t, "10.0.0.1", s.clientAddr(req))
}

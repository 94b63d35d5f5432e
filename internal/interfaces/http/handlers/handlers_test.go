package handlers

import (
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

	"github.com/sawpanic/crabdrop/internal/airdrop"
	httpContracts "github.com/sawpanic/crabdrop/internal/http"
	"github.com/sawpanic/crabdrop/internal/persistence"
	"github.com/sawpanic/crabdrop/internal/verify"
)

type stubVerifier struct {
	result *verify.Result
	err    error
}

func (s stubVerifier) Verify(ctx context.Context, req verify.Request) (*verify.Result, error) {
	return s.result, s.err
}

type stubStats struct{ err error }

func (s stubStats) Stats(ctx context.Context) (*airdrop.Stats, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &airdrop.Stats{Cap: 420, Mode: airdrop.CapModeStrict, Remaining: 420}, nil
}

type stubHealth struct{ check persistence.HealthCheck }

func (s stubHealth) Health(ctx context.Context) persistence.HealthCheck { return s.check }
func (s stubHealth) Ping(ctx context.Context) error                      { return nil }

const dsnError = "dial postgres://crab:hunter2@db:5432/crabs: connection refused"

func postVerify(h *Handlers) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/claim/verify",
		strings.NewReader(`{"claim_code":"CODE-1","proof_url":"https://x.com/a/status/1"}`))
	req = req.WithContext(WithRequestID(req.Context(), "abcd1234"))
	rec := httptest.NewRecorder()
	h.Verify(rec, req)
	return rec
}

func TestVerify_StoreUnavailable(t *testing.T) {
	h := NewHandlers(stubVerifier{err: errors.New(dsnError)}, stubStats{}, stubHealth{}, nil, nil)

	rec := postVerify(h)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp httpContracts.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "store_unavailable", resp.Code)
	assert.Equal(t, "abcd1234", resp.RequestID)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestVerify_AlreadyVerified(t *testing.T) {
	h := NewHandlers(stubVerifier{err: verify.ErrAlreadyVerified}, stubStats{}, stubHealth{}, nil, nil)

	rec := postVerify(h)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_verified")
}

func TestVerify_AirdropErrorStillSucceeds(t *testing.T) {
	at := time.Now().UTC()
	result := &verify.Result{
		Identity:     persistence.Identity{ID: "c1", Username: "alice", Verified: true, VerifiedAt: &at},
		AirdropError: "airdrop temporarily unavailable",
	}
	h := NewHandlers(stubVerifier{result: result}, stubStats{}, stubHealth{}, nil, nil)

	rec := postVerify(h)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp httpContracts.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Verified)
	require.NotNil(t, resp.Airdrop)
	assert.Equal(t, "error", resp.Airdrop.Status)
}

func TestHealth(t *testing.T) {
	down := stubHealth{check: persistence.HealthCheck{Healthy: false, Errors: []string{"ping failed: " + dsnError}}}
	h := NewHandlers(stubVerifier{}, stubStats{}, down, nil, nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"down"`)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	up := stubHealth{check: persistence.HealthCheck{Healthy: true}}
	h = NewHandlers(stubVerifier{}, stubStats{}, up, func() string { return "open" }, nil)

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestStats(t *testing.T) {
	h := NewHandlers(stubVerifier{}, stubStats{}, stubHealth{}, nil, nil)
	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/airdrop/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"strict"`)

	h = NewHandlers(stubVerifier{}, stubStats{err: errors.New("timeout")}, stubHealth{}, nil, nil)
	rec = httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/airdrop/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"request_id":"unknown"`)
}

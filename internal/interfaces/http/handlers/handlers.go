package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/crabdrop/internal/airdrop"
	httpContracts "github.com/sawpanic/crabdrop/internal/http"
	"github.com/sawpanic/crabdrop/internal/persistence"
	"github.com/sawpanic/crabdrop/internal/secrets"
	"github.com/sawpanic/crabdrop/internal/verify"
)

type contextKey string

// RequestIDKey carries the per-request ID set by the server middleware
const RequestIDKey contextKey = "request_id"

// WithRequestID stores a request ID on ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request ID on ctx, or "unknown"
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}

// Verifier consumes claim codes
type Verifier interface {
	Verify(ctx context.Context, req verify.Request) (*verify.Result, error)
}

// StatsSource reports disbursement totals against the cap
type StatsSource interface {
	Stats(ctx context.Context) (*airdrop.Stats, error)
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	verifier      Verifier
	stats         StatsSource
	health        persistence.RepositoryHealth
	executorState func() string
	redactor      *secrets.Redactor
}

// NewHandlers creates a new handlers instance. executorState may be nil.
func NewHandlers(verifier Verifier, stats StatsSource, health persistence.RepositoryHealth,
	executorState func() string, redactor *secrets.Redactor) *Handlers {
	if redactor == nil {
		redactor = secrets.NewRedactor()
	}
	return &Handlers{
		verifier:      verifier,
		stats:         stats,
		health:        health,
		executorState: executorState,
		redactor:      redactor,
	}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	errorResp := httpContracts.ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	}

	h.writeJSON(w, status, errorResp)
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// MethodNotAllowed handles 405 responses
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed",
		"The endpoint does not support "+r.Method)
}

// RateLimited handles requests rejected by the per-client limiter
func (h *Handlers) RateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	h.writeError(w, r, http.StatusTooManyRequests, "rate_limited",
		"Too many verification attempts, retry later")
}

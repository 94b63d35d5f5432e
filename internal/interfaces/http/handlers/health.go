package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	httpContracts "github.com/sawpanic/crabdrop/internal/http"
)

// Health handles GET /health. The store decides healthy vs down; an open
// executor breaker only degrades, since verification still works without it.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	check := h.health.Health(r.Context())

	response := httpContracts.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Store: httpContracts.StoreHealth{
			Healthy:        check.Healthy,
			Errors:         redactAll(h, check.Errors),
			ConnectionPool: check.ConnectionPool,
			ResponseTimeMS: check.ResponseTimeMS,
		},
	}

	if h.executorState != nil {
		state := h.executorState()
		response.Circuits = map[string]httpContracts.CircuitHealth{
			"executor": {Name: "executor", State: state},
		}
		if state != "closed" {
			response.Status = "degraded"
		}
	}

	status := http.StatusOK
	if !check.Healthy {
		response.Status = "down"
		status = http.StatusServiceUnavailable
		log.Warn().Strs("errors", response.Store.Errors).Msg("Health check failed")
	}

	h.writeJSON(w, status, response)
}

// Stats handles GET /airdrop/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		log.Error().
			Str("request_id", RequestID(r.Context())).
			Str("error", h.redactor.RedactError(err)).
			Msg("Failed to load airdrop stats")
		h.writeError(w, r, http.StatusServiceUnavailable, "store_unavailable",
			"Airdrop stats are temporarily unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, httpContracts.StatsResponse{
		Cap:       stats.Cap,
		Reserved:  stats.Reserved,
		Finalized: stats.Finalized,
		Remaining: stats.Remaining,
		Mode:      string(stats.Mode),
		Timestamp: time.Now().UTC(),
	})
}

func redactAll(h *Handlers, in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = h.redactor.RedactString(s)
	}
	return out
}

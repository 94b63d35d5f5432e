package http

import "time"

// VerifyRequest is the body of POST /claim/verify
type VerifyRequest struct {
	ClaimCode string `json:"claim_code"`
	ProofURL  string `json:"proof_url"`
}

// VerifyResponse reports a committed verification and what the airdrop did
type VerifyResponse struct {
	Verified     bool         `json:"verified"`
	IdentityID   string       `json:"identity_id"`
	Username     string       `json:"username"`
	LinkedHandle string       `json:"linked_handle"`
	PostID       string       `json:"post_id"`
	VerifiedAt   *time.Time   `json:"verified_at,omitempty"`
	Airdrop      *AirdropInfo `json:"airdrop,omitempty"`
}

// AirdropInfo is the airdrop outcome attached to a verification.
// Status "error" means the airdrop could not run and will be retried out of band.
type AirdropInfo struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Wallet   string `json:"wallet,omitempty"`
	TxHandle string `json:"tx_handle,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
	Message  string `json:"message,omitempty"`
}

// StatsResponse represents GET /airdrop/stats
type StatsResponse struct {
	Cap       int64     `json:"cap"`
	Reserved  int64     `json:"reserved"`
	Finalized int64     `json:"finalized"`
	Remaining int64     `json:"remaining"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"` // healthy, degraded, down
	Timestamp time.Time                `json:"timestamp"`
	Store     StoreHealth              `json:"store"`
	Circuits  map[string]CircuitHealth `json:"circuits,omitempty"`
}

// StoreHealth represents identity store connectivity
type StoreHealth struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool,omitempty"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// CircuitHealth represents circuit breaker status
type CircuitHealth struct {
	Name  string `json:"name"`
	State string `json:"state"` // closed, open, half-open
}

// ErrorResponse represents API error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

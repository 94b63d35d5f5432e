package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

var (
	// ErrUnavailable covers transport failures, timeouts, non-2xx answers and an open breaker
	ErrUnavailable = errors.New("disbursement executor unavailable")
	// ErrUnauthorized is returned when the executor rejects the shared secret
	ErrUnauthorized = errors.New("disbursement executor rejected credentials")
	// ErrRejected is returned when the executor answers but does not accept the transfer
	ErrRejected = errors.New("disbursement rejected by executor")
)

// maxResponseBytes bounds how much of an executor answer is read
const maxResponseBytes = 64 << 10

// Config holds executor endpoint, credentials and call bounds
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	Secret   string        `yaml:"-"`
	Timeout  time.Duration `yaml:"timeout"`

	// Breaker settings
	BreakerMaxRequests         uint32        `yaml:"breaker_max_requests"`
	BreakerInterval            time.Duration `yaml:"breaker_interval"`
	BreakerTimeout             time.Duration `yaml:"breaker_timeout"`
	BreakerConsecutiveFailures uint32        `yaml:"breaker_consecutive_failures"`
}

// DefaultConfig returns conservative executor settings
func DefaultConfig() Config {
	return Config{
		Timeout:                    10 * time.Second,
		BreakerMaxRequests:         1,
		BreakerInterval:            time.Minute,
		BreakerTimeout:             30 * time.Second,
		BreakerConsecutiveFailures: 5,
	}
}

// Request is the transfer instruction sent to the executor
type Request struct {
	Wallet         string `json:"wallet"`
	IdentityHandle string `json:"identity_handle"`
	Amount         int64  `json:"amount"`
	Token          string `json:"token"`
}

// Response is the executor's answer. A transaction handle means the transfer was
// broadcast; pending means it was queued and will be reconciled out of band.
type Response struct {
	Accepted bool   `json:"accepted"`
	TxHandle string `json:"tx_handle,omitempty"`
	Pending  bool   `json:"pending,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Final reports whether the response carries a final transaction handle
func (r *Response) Final() bool {
	return r.Accepted && !r.Pending && r.TxHandle != ""
}

// Disburser is the boundary the airdrop gate calls
type Disburser interface {
	Disburse(ctx context.Context, req Request) (*Response, error)
}

// Client calls the out-of-process executor over HTTP
type Client struct {
	config  Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates an executor client. httpClient may be nil.
func NewClient(config Config, httpClient *http.Client) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("executor endpoint is required")
	}
	if config.Secret == "" {
		return nil, fmt.Errorf("executor shared secret is required")
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("executor timeout must be positive")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	settings := gobreaker.Settings{
		Name:        "disbursement-executor",
		MaxRequests: config.BreakerMaxRequests,
		Interval:    config.BreakerInterval,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.BreakerConsecutiveFailures > 0 &&
				counts.ConsecutiveFailures >= config.BreakerConsecutiveFailures
		},
		// An explicit refusal means the executor is up
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Executor circuit breaker changed state")
		},
	}

	return &Client{
		config:  config,
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// Disburse submits one transfer. It never retries; a failed or timed-out call
// leaves retry to the reconciliation job.
func (c *Client) Disburse(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}

	return result.(*Response), nil
}

// State returns the breaker state for health reporting
func (c *Client) State() string {
	return c.breaker.State().String()
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal executor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build executor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.Secret)
	httpReq.Header.Set("X-Idempotency-Key", req.Wallet)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("wallet", req.Wallet).
		Msg("Executor responded")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}

	if !out.Accepted {
		reason := out.Error
		if reason == "" {
			reason = "no reason given"
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	// Accepted without a handle is a queued transfer
	if out.TxHandle == "" {
		out.Pending = true
	}

	return &out, nil
}

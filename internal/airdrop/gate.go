package airdrop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/crabdrop/internal/executor"
	"github.com/sawpanic/crabdrop/internal/metrics"
	"github.com/sawpanic/crabdrop/internal/persistence"
)

// Status is the result class of one TryDisburse call
type Status string

const (
	StatusNotApplicable Status = "not_applicable"
	StatusSkipped       Status = "skipped"
	StatusDisbursed     Status = "disbursed"
	StatusPending       Status = "pending"
	StatusFailed        Status = "failed"
)

// Reason qualifies skipped, not-applicable, pending and failed outcomes
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNoWallet             Reason = "no_wallet"
	ReasonAlreadyReceived      Reason = "already_received"
	ReasonCapReached           Reason = "cap_reached"
	ReasonWalletAlreadyUsed    Reason = "wallet_already_used"
	ReasonQueued               Reason = "queued"
	ReasonReceiptUnrecorded    Reason = "receipt_unrecorded"
	ReasonExecutorUnavailable  Reason = "executor_unavailable"
	ReasonExecutorUnauthorized Reason = "executor_unauthorized"
	ReasonExecutorRejected     Reason = "executor_rejected"
)

// Outcome is what the airdrop did for one identity
type Outcome struct {
	Status   Status `json:"status"`
	Reason   Reason `json:"reason,omitempty"`
	Wallet   string `json:"wallet,omitempty"`
	TxHandle string `json:"tx_handle,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
}

// Config holds the fixed disbursement parameters
type Config struct {
	Cap    int64   `yaml:"cap"`
	Amount int64   `yaml:"amount"`
	Token  string  `yaml:"token"`
	Mode   CapMode `yaml:"cap_mode"`
}

// Validate checks the airdrop parameters
func (c Config) Validate() error {
	if c.Cap < 0 {
		return fmt.Errorf("airdrop cap cannot be negative")
	}
	if c.Amount <= 0 {
		return fmt.Errorf("airdrop amount must be positive")
	}
	if c.Token == "" {
		return fmt.Errorf("airdrop token identifier is required")
	}
	switch c.Mode {
	case CapModeCount, CapModeStrict:
	default:
		return fmt.Errorf("unknown cap mode %q", c.Mode)
	}
	return nil
}

// Gate decides whether an identity may receive the airdrop and carries it out.
// The wallet reservation is a single conditional insert made before the executor
// is called, so a concurrent request for the same wallet sees it taken.
type Gate struct {
	config   Config
	repo     *persistence.Repository
	guard    CapGuard
	executor executor.Disburser
	recorder *Recorder
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewGate creates an airdrop eligibility gate
func NewGate(config Config, repo *persistence.Repository, guard CapGuard,
	exec executor.Disburser, recorder *Recorder, m *metrics.Registry) *Gate {
	return &Gate{
		config:   config,
		repo:     repo,
		guard:    guard,
		executor: exec,
		recorder: recorder,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// TryDisburse runs the airdrop for a verified identity. Skips and executor failures
// are outcomes; an error means the store was unavailable.
func (g *Gate) TryDisburse(ctx context.Context, identity persistence.Identity) (*Outcome, error) {
	outcome, err := g.tryDisburse(ctx, identity)
	if err != nil {
		g.metrics.RecordAirdrop("error", "store_unavailable")
		return nil, err
	}
	g.metrics.RecordAirdrop(string(outcome.Status), string(outcome.Reason))
	return outcome, nil
}

func (g *Gate) tryDisburse(ctx context.Context, identity persistence.Identity) (*Outcome, error) {
	if !identity.HasWallet() {
		return &Outcome{Status: StatusNotApplicable, Reason: ReasonNoWallet}, nil
	}
	wallet := *identity.Wallet

	if identity.HasReceipt() {
		return &Outcome{Status: StatusNotApplicable, Reason: ReasonAlreadyReceived, Wallet: wallet}, nil
	}

	logger := log.With().
		Str("identity_id", identity.ID).
		Str("username", identity.Username).
		Str("wallet", wallet).
		Logger()

	if err := g.guard.Acquire(ctx); err != nil {
		if errors.Is(err, ErrCapReached) {
			logger.Info().Int64("cap", g.config.Cap).Msg("Airdrop skipped: cap reached")
			return &Outcome{Status: StatusSkipped, Reason: ReasonCapReached, Wallet: wallet}, nil
		}
		return nil, fmt.Errorf("failed to check airdrop cap: %w", err)
	}

	err := g.repo.Disbursements.Reserve(ctx, persistence.Reservation{
		Wallet:     wallet,
		IdentityID: identity.ID,
		Amount:     g.config.Amount,
		ReservedAt: g.now(),
	})
	if err != nil {
		if releaseErr := g.guard.Release(ctx); releaseErr != nil {
			logger.Error().Err(releaseErr).Msg("Failed to return unused cap slot")
		}
		if errors.Is(err, persistence.ErrConflict) {
			logger.Info().Msg("Airdrop skipped: wallet already used")
			return &Outcome{Status: StatusSkipped, Reason: ReasonWalletAlreadyUsed, Wallet: wallet}, nil
		}
		return nil, fmt.Errorf("failed to reserve wallet: %w", err)
	}

	handle := identity.Username
	if identity.LinkedHandle != nil && *identity.LinkedHandle != "" {
		handle = *identity.LinkedHandle
	}

	start := time.Now()
	resp, err := g.executor.Disburse(ctx, executor.Request{
		Wallet:         wallet,
		IdentityHandle: handle,
		Amount:         g.config.Amount,
		Token:          g.config.Token,
	})
	elapsed := time.Since(start)

	if err != nil {
		// The reservation stays: only the reconciliation job may release it
		reason := executorReason(err)
		g.metrics.ObserveExecutor("error", elapsed)
		logger.Warn().Err(err).Dur("latency", elapsed).Str("reason", string(reason)).
			Msg("Disbursement not completed, reservation kept for reconciliation")
		return &Outcome{Status: StatusFailed, Reason: reason, Wallet: wallet, Amount: g.config.Amount}, nil
	}

	if !resp.Final() {
		g.metrics.ObserveExecutor("pending", elapsed)
		logger.Info().Dur("latency", elapsed).Msg("Disbursement queued by executor")
		return &Outcome{Status: StatusPending, Reason: ReasonQueued, Wallet: wallet, Amount: g.config.Amount}, nil
	}

	g.metrics.ObserveExecutor("final", elapsed)

	if err := g.recorder.Finalize(ctx, wallet, resp.TxHandle); err != nil {
		// Tokens moved but the receipt is not durable yet; reconciliation finalizes it
		logger.Error().Err(err).Str("tx_handle", resp.TxHandle).Msg("Failed to record disbursement receipt")
		return &Outcome{
			Status:   StatusPending,
			Reason:   ReasonReceiptUnrecorded,
			Wallet:   wallet,
			TxHandle: resp.TxHandle,
			Amount:   g.config.Amount,
		}, nil
	}

	return &Outcome{
		Status:   StatusDisbursed,
		Wallet:   wallet,
		TxHandle: resp.TxHandle,
		Amount:   g.config.Amount,
	}, nil
}

func executorReason(err error) Reason {
	switch {
	case errors.Is(err, executor.ErrUnauthorized):
		return ReasonExecutorUnauthorized
	case errors.Is(err, executor.ErrRejected):
		return ReasonExecutorRejected
	default:
		return ReasonExecutorUnavailable
	}
}

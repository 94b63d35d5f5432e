package airdrop

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/crabdrop/internal/metrics"
	"github.com/sawpanic/crabdrop/internal/persistence"
)

// Stats summarizes the disbursement record against the cap
type Stats struct {
	Cap       int64   `json:"cap"`
	Reserved  int64   `json:"reserved"`
	Finalized int64   `json:"finalized"`
	Remaining int64   `json:"remaining"`
	Mode      CapMode `json:"mode"`
}

// Recorder persists disbursement outcomes. Finalize and Release are also the
// operations the out-of-process reconciliation job drives; both are safe to repeat.
type Recorder struct {
	repo    *persistence.Repository
	guard   CapGuard
	cap     int64
	metrics *metrics.Registry
	now     func() time.Time
}

// NewRecorder creates a disbursement recorder
func NewRecorder(repo *persistence.Repository, guard CapGuard, cap int64, m *metrics.Registry) *Recorder {
	return &Recorder{
		repo:    repo,
		guard:   guard,
		cap:     cap,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Finalize records a final transaction handle for a wallet: the record row first,
// then the owning identity's receipt. Repeating it with the same handle is a no-op.
func (r *Recorder) Finalize(ctx context.Context, wallet, txHandle string) error {
	if wallet == "" || txHandle == "" {
		return fmt.Errorf("wallet and transaction handle are required")
	}

	res, err := r.repo.Disbursements.GetByWallet(ctx, wallet)
	if err != nil {
		return fmt.Errorf("failed to load reservation for %s: %w", wallet, err)
	}

	if err := r.repo.Disbursements.Finalize(ctx, wallet, txHandle, r.now()); err != nil {
		return fmt.Errorf("failed to finalize reservation for %s: %w", wallet, err)
	}

	if err := r.repo.Identities.SetReceipt(ctx, res.IdentityID, txHandle); err != nil {
		return fmt.Errorf("failed to write receipt for identity %s: %w", res.IdentityID, err)
	}

	log.Info().
		Str("wallet", wallet).
		Str("identity_id", res.IdentityID).
		Str("tx_handle", txHandle).
		Msg("Disbursement finalized")

	return nil
}

// Release drops a pending reservation that never finalized and returns its cap slot.
// Final reservations are refused with persistence.ErrConflict.
func (r *Recorder) Release(ctx context.Context, wallet string) error {
	if err := r.repo.Disbursements.Release(ctx, wallet); err != nil {
		return fmt.Errorf("failed to release reservation for %s: %w", wallet, err)
	}

	if err := r.guard.Release(ctx); err != nil {
		// The row is gone; a strict budget that is one slot short only under-spends
		log.Error().Err(err).Str("wallet", wallet).Msg("Failed to return cap slot after release")
	}

	log.Info().Str("wallet", wallet).Msg("Pending reservation released")
	return nil
}

// Pending lists reservations that have been pending for longer than age
func (r *Recorder) Pending(ctx context.Context, age time.Duration, limit int) ([]persistence.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := r.repo.Disbursements.ListPending(ctx, r.now().Add(-age), limit)
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// Stats reports record totals against the cap and refreshes the gauges
func (r *Recorder) Stats(ctx context.Context) (*Stats, error) {
	reserved, final, err := r.repo.Disbursements.Count(ctx)
	if err != nil {
		return nil, err
	}

	remaining := r.cap - reserved
	if remaining < 0 {
		remaining = 0
	}

	r.metrics.SetRecordCounts(reserved, final, r.cap)

	return &Stats{
		Cap:       r.cap,
		Reserved:  reserved,
		Finalized: final,
		Remaining: remaining,
		Mode:      r.guard.Mode(),
	}, nil
}

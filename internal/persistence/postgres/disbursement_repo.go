package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/crabdrop/internal/persistence"
)

const reservationColumns = `wallet, identity_id, status, tx_handle, amount, reserved_at, finalized_at`

// disbursementRepo implements DisbursementRepo interface for PostgreSQL
type disbursementRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDisbursementRepo creates a new PostgreSQL disbursement record repository
func NewDisbursementRepo(db *sqlx.DB, timeout time.Duration) persistence.DisbursementRepo {
	return &disbursementRepo{
		db:      db,
		timeout: timeout,
	}
}

// Reserve inserts a pending row for the wallet. The primary key on wallet makes the
// insert itself the uniqueness check; there is no preceding lookup.
func (r *disbursementRepo) Reserve(ctx context.Context, res persistence.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if res.Wallet == "" {
		return fmt.Errorf("wallet is required")
	}

	query := `
		INSERT INTO airdrop_disbursements (wallet, identity_id, status, amount, reserved_at)
		VALUES ($1, $2, 'pending', $3, $4)
		ON CONFLICT (wallet) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, res.Wallet, res.IdentityID, res.Amount, res.ReservedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return persistence.ErrConflict
		}
		return fmt.Errorf("failed to reserve wallet: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return persistence.ErrConflict
	}

	return nil
}

// Finalize marks the wallet's reservation final; repeating with the same handle is a no-op
func (r *disbursementRepo) Finalize(ctx context.Context, wallet, txHandle string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE airdrop_disbursements
		SET status = 'final', tx_handle = $2, finalized_at = COALESCE(finalized_at, $3)
		WHERE wallet = $1 AND (status = 'pending' OR tx_handle = $2)`

	result, err := r.db.ExecContext(ctx, query, wallet, txHandle, at)
	if err != nil {
		return fmt.Errorf("failed to finalize disbursement: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	return r.missOrConflict(ctx, wallet)
}

// Release removes a pending reservation
func (r *disbursementRepo) Release(ctx context.Context, wallet string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		DELETE FROM airdrop_disbursements
		WHERE wallet = $1 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, wallet)
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	return r.missOrConflict(ctx, wallet)
}

// GetByWallet looks up the record row for a wallet
func (r *disbursementRepo) GetByWallet(ctx context.Context, wallet string) (*persistence.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + reservationColumns + `
		FROM airdrop_disbursements
		WHERE wallet = $1`

	var res persistence.Reservation
	err := r.db.QueryRowxContext(ctx, query, wallet).StructScan(&res)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reservation by wallet: %w", err)
	}

	return &res, nil
}

// Count returns reserved (pending + final) and final row counts
func (r *disbursementRepo) Count(ctx context.Context) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'final')
		FROM airdrop_disbursements`

	var reserved, final int64
	if err := r.db.QueryRowxContext(ctx, query).Scan(&reserved, &final); err != nil {
		return 0, 0, fmt.Errorf("failed to count disbursements: %w", err)
	}

	return reserved, final, nil
}

// ListPending returns pending reservations older than the cutoff, oldest first
func (r *disbursementRepo) ListPending(ctx context.Context, before time.Time, limit int) ([]persistence.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + reservationColumns + `
		FROM airdrop_disbursements
		WHERE status = 'pending' AND reserved_at < $1
		ORDER BY reserved_at ASC
		LIMIT $2`

	var reservations []persistence.Reservation
	if err := r.db.SelectContext(ctx, &reservations, query, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending reservations: %w", err)
	}

	return reservations, nil
}

// missOrConflict distinguishes an absent wallet from one in a state the write refused
func (r *disbursementRepo) missOrConflict(ctx context.Context, wallet string) error {
	var status string
	err := r.db.QueryRowxContext(ctx,
		`SELECT status FROM airdrop_disbursements WHERE wallet = $1`, wallet).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrNotFound
		}
		return fmt.Errorf("failed to inspect reservation: %w", err)
	}
	return persistence.ErrConflict
}

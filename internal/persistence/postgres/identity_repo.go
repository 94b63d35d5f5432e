package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/crabdrop/internal/persistence"
)

const identityColumns = `id, username, verified, claim_code, linked_handle, linked_post_id,
		wallet, disbursement_receipt, verified_at, created_at`

// identityRepo implements IdentityRepo interface for PostgreSQL
type identityRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewIdentityRepo creates a new PostgreSQL identity repository
func NewIdentityRepo(db *sqlx.DB, timeout time.Duration) persistence.IdentityRepo {
	return &identityRepo{
		db:      db,
		timeout: timeout,
	}
}

// GetByClaimCode finds the identity currently holding the claim code
func (r *identityRepo) GetByClaimCode(ctx context.Context, code string) (*persistence.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + identityColumns + `
		FROM crabs
		WHERE claim_code = $1
		LIMIT 1`

	var identity persistence.Identity
	err := r.db.QueryRowxContext(ctx, query, code).StructScan(&identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get identity by claim code: %w", err)
	}

	return &identity, nil
}

// GetByID finds an identity by its stable identifier
func (r *identityRepo) GetByID(ctx context.Context, id string) (*persistence.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + identityColumns + `
		FROM crabs
		WHERE id = $1`

	var identity persistence.Identity
	err := r.db.QueryRowxContext(ctx, query, id).StructScan(&identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get identity by id: %w", err)
	}

	return &identity, nil
}

// MarkVerified consumes the claim code in a single conditional update. The WHERE
// clause re-checks the code read by the caller, so of two racing requests only one
// sees a returned row.
func (r *identityRepo) MarkVerified(ctx context.Context, update persistence.VerificationUpdate) (*persistence.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE crabs
		SET verified = true,
			claim_code = NULL,
			linked_handle = $3,
			linked_post_id = $4,
			verified_at = $5
		WHERE id = $1 AND claim_code = $2 AND verified = false
		RETURNING ` + identityColumns

	var identity persistence.Identity
	err := r.db.QueryRowxContext(ctx, query,
		update.IdentityID, update.ClaimCode, update.LinkedHandle,
		update.LinkedPostID, update.VerifiedAt).
		StructScan(&identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrConflict
		}
		return nil, fmt.Errorf("failed to mark identity verified: %w", err)
	}

	return &identity, nil
}

// SetReceipt writes the disbursement receipt only while none is recorded
func (r *identityRepo) SetReceipt(ctx context.Context, identityID, txHandle string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE crabs
		SET disbursement_receipt = $2
		WHERE id = $1
			AND (disbursement_receipt IS NULL OR disbursement_receipt = '' OR disbursement_receipt = $2)`

	result, err := r.db.ExecContext(ctx, query, identityID, txHandle)
	if err != nil {
		return fmt.Errorf("failed to set disbursement receipt: %w", err)
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

package persistence

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a point lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write loses against a concurrent writer
	ErrConflict = errors.New("conditional write conflict")
)

// Identity is the slice of a registered agent (crab) profile that verification and
// disbursement read and write. The registration flow owns the rest of the row.
type Identity struct {
	ID                  string     `json:"id" db:"id"`
	Username            string     `json:"username" db:"username"`
	Verified            bool       `json:"verified" db:"verified"`
	ClaimCode           *string    `json:"-" db:"claim_code"`
	LinkedHandle        *string    `json:"linked_handle,omitempty" db:"linked_handle"`
	LinkedPostID        *string    `json:"linked_post_id,omitempty" db:"linked_post_id"`
	Wallet              *string    `json:"wallet,omitempty" db:"wallet"`
	DisbursementReceipt *string    `json:"disbursement_receipt,omitempty" db:"disbursement_receipt"`
	VerifiedAt          *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}

// HasWallet reports whether a non-empty wallet was supplied at registration
func (i Identity) HasWallet() bool {
	return i.Wallet != nil && *i.Wallet != ""
}

// HasReceipt reports whether a disbursement receipt has been recorded
func (i Identity) HasReceipt() bool {
	return i.DisbursementReceipt != nil && *i.DisbursementReceipt != ""
}

// VerificationUpdate carries the fields written when a claim code is consumed
type VerificationUpdate struct {
	IdentityID   string
	ClaimCode    string // the code read before the write; the update is conditioned on it
	LinkedHandle string
	LinkedPostID string
	VerifiedAt   time.Time
}

// ReservationStatus is the lifecycle of a wallet row in the disbursement record
type ReservationStatus string

const (
	ReservationPending ReservationStatus = "pending"
	ReservationFinal   ReservationStatus = "final"
)

// Reservation is one row of the disbursement record, keyed by wallet
type Reservation struct {
	Wallet      string            `json:"wallet" db:"wallet"`
	IdentityID  string            `json:"identity_id" db:"identity_id"`
	Status      ReservationStatus `json:"status" db:"status"`
	TxHandle    *string           `json:"tx_handle,omitempty" db:"tx_handle"`
	Amount      int64             `json:"amount" db:"amount"`
	ReservedAt  time.Time         `json:"reserved_at" db:"reserved_at"`
	FinalizedAt *time.Time        `json:"finalized_at,omitempty" db:"finalized_at"`
}

// IdentityRepo provides the narrow identity reads/writes used by verification
type IdentityRepo interface {
	// GetByClaimCode finds the identity currently holding the claim code
	GetByClaimCode(ctx context.Context, code string) (*Identity, error)

	// GetByID finds an identity by its stable identifier
	GetByID(ctx context.Context, id string) (*Identity, error)

	// MarkVerified consumes the claim code and links the external handle in one
	// conditional write. Returns ErrConflict when the code was consumed concurrently.
	MarkVerified(ctx context.Context, update VerificationUpdate) (*Identity, error)

	// SetReceipt writes the final disbursement receipt only if none is recorded.
	// Writing the same handle twice is not an error.
	SetReceipt(ctx context.Context, identityID, txHandle string) error
}

// DisbursementRepo is the per-wallet disbursement record
type DisbursementRepo interface {
	// Reserve inserts a pending row for the wallet unless one exists.
	// Returns ErrConflict when the wallet is already reserved or finalized.
	Reserve(ctx context.Context, r Reservation) error

	// Finalize marks a pending reservation final with the transaction handle.
	// Finalizing again with the same handle is a no-op; a different handle is ErrConflict.
	Finalize(ctx context.Context, wallet, txHandle string, at time.Time) error

	// Release removes a pending reservation. Final rows are never removed.
	Release(ctx context.Context, wallet string) error

	// GetByWallet looks up the record row for a wallet
	GetByWallet(ctx context.Context, wallet string) (*Reservation, error)

	// Count returns reserved (pending + final) and final row counts
	Count(ctx context.Context) (reserved int64, final int64, err error)

	// ListPending returns pending reservations reserved before the cutoff, oldest first
	ListPending(ctx context.Context, before time.Time, limit int) ([]Reservation, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Identities    IdentityRepo
	Disbursements DisbursementRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error
}

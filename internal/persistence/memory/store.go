// Package memory provides a mutex-guarded in-process implementation of the
// persistence interfaces. Each method is one critical section, which gives it the
// same single-statement conditional semantics as the PostgreSQL repos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/crabdrop/internal/persistence"
)

// Store holds identities and the disbursement record in memory
type Store struct {
	mu         sync.Mutex
	identities map[string]persistence.Identity
	byCode     map[string]string
	records    map[string]persistence.Reservation
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		identities: make(map[string]persistence.Identity),
		byCode:     make(map[string]string),
		records:    make(map[string]persistence.Reservation),
	}
}

// Repository exposes the store through the persistence interfaces
func (s *Store) Repository() *persistence.Repository {
	return &persistence.Repository{
		Identities:    identities{s},
		Disbursements: disbursements{s},
	}
}

// Seed registers an unverified identity holding claimCode. It stands in for the
// registration flow in tests and local runs.
func (s *Store) Seed(username, claimCode, wallet string) persistence.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := persistence.Identity{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	if claimCode != "" {
		identity.ClaimCode = &claimCode
		s.byCode[claimCode] = identity.ID
	}
	if wallet != "" {
		identity.Wallet = &wallet
	}
	s.identities[identity.ID] = identity
	return copyIdentity(identity)
}

// Health always reports healthy; there is nothing to connect to
func (s *Store) Health(ctx context.Context) persistence.HealthCheck {
	s.mu.Lock()
	n := len(s.identities)
	s.mu.Unlock()

	return persistence.HealthCheck{
		Healthy:        true,
		ConnectionPool: map[string]int{"identities": n},
		LastCheck:      time.Now(),
	}
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type identities struct{ s *Store }

func (r identities) GetByClaimCode(ctx context.Context, code string) (*persistence.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.byCode[code]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	identity := copyIdentity(r.s.identities[id])
	return &identity, nil
}

func (r identities) GetByID(ctx context.Context, id string) (*persistence.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	identity, ok := r.s.identities[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	identity = copyIdentity(identity)
	return &identity, nil
}

func (r identities) MarkVerified(ctx context.Context, u persistence.VerificationUpdate) (*persistence.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	identity, ok := r.s.identities[u.IdentityID]
	if !ok || identity.Verified || identity.ClaimCode == nil || *identity.ClaimCode != u.ClaimCode {
		return nil, persistence.ErrConflict
	}

	delete(r.s.byCode, u.ClaimCode)
	handle, postID, at := u.LinkedHandle, u.LinkedPostID, u.VerifiedAt
	identity.Verified = true
	identity.ClaimCode = nil
	identity.LinkedHandle = &handle
	identity.LinkedPostID = &postID
	identity.VerifiedAt = &at
	r.s.identities[identity.ID] = identity

	out := copyIdentity(identity)
	return &out, nil
}

func (r identities) SetReceipt(ctx context.Context, identityID, txHandle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	identity, ok := r.s.identities[identityID]
	if !ok {
		return persistence.ErrConflict
	}
	if identity.HasReceipt() {
		if *identity.DisbursementReceipt == txHandle {
			return nil
		}
		return persistence.ErrConflict
	}
	identity.DisbursementReceipt = &txHandle
	r.s.identities[identityID] = identity
	return nil
}

type disbursements struct{ s *Store }

func (r disbursements) Reserve(ctx context.Context, res persistence.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.records[res.Wallet]; taken {
		return persistence.ErrConflict
	}
	res.Status = persistence.ReservationPending
	res.TxHandle = nil
	res.FinalizedAt = nil
	r.s.records[res.Wallet] = res
	return nil
}

func (r disbursements) Finalize(ctx context.Context, wallet, txHandle string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.records[wallet]
	if !ok {
		return persistence.ErrNotFound
	}
	if res.Status == persistence.ReservationFinal {
		if res.TxHandle != nil && *res.TxHandle == txHandle {
			return nil
		}
		return persistence.ErrConflict
	}
	res.Status = persistence.ReservationFinal
	res.TxHandle = &txHandle
	res.FinalizedAt = &at
	r.s.records[wallet] = res
	return nil
}

func (r disbursements) Release(ctx context.Context, wallet string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.records[wallet]
	if !ok {
		return persistence.ErrNotFound
	}
	if res.Status != persistence.ReservationPending {
		return persistence.ErrConflict
	}
	delete(r.s.records, wallet)
	return nil
}

func (r disbursements) GetByWallet(ctx context.Context, wallet string) (*persistence.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.records[wallet]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &res, nil
}

func (r disbursements) Count(ctx context.Context) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var final int64
	for _, res := range r.s.records {
		if res.Status == persistence.ReservationFinal {
			final++
		}
	}
	return int64(len(r.s.records)), final, nil
}

func (r disbursements) ListPending(ctx context.Context, before time.Time, limit int) ([]persistence.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var pending []persistence.Reservation
	for _, res := range r.s.records {
		if res.Status == persistence.ReservationPending && res.ReservedAt.Before(before) {
			pending = append(pending, res)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ReservedAt.Before(pending[j].ReservedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// copyIdentity detaches pointer fields so callers cannot mutate stored state
func copyIdentity(in persistence.Identity) persistence.Identity {
	out := in
	out.ClaimCode = clonePtr(in.ClaimCode)
	out.LinkedHandle = clonePtr(in.LinkedHandle)
	out.LinkedPostID = clonePtr(in.LinkedPostID)
	out.Wallet = clonePtr(in.Wallet)
	out.DisbursementReceipt = clonePtr(in.DisbursementReceipt)
	if in.VerifiedAt != nil {
		at := *in.VerifiedAt
		out.VerifiedAt = &at
	}
	return out
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

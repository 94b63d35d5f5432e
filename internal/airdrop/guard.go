package airdrop

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/crabdrop/internal/persistence"
)

// ErrCapReached is returned by a CapGuard when no disbursement slot is left
var ErrCapReached = errors.New("airdrop cap reached")

// CapMode selects how the global cap is enforced
type CapMode string

const (
	// CapModeCount compares the disbursement record row count to the cap. Pending
	// reservations count toward the cap alongside final receipts, so a queued or
	// unreconciled transfer holds its slot. Concurrent requests can all pass before
	// any reserves, so the cap may be exceeded by the number of in-flight disbursements.
	CapModeCount CapMode = "count"
	// CapModeStrict takes a slot from an atomic Redis counter; the cap is exact.
	CapModeStrict CapMode = "strict"
)

// CapGuard hands out disbursement slots under the global cap
type CapGuard interface {
	// Acquire takes one slot or returns ErrCapReached
	Acquire(ctx context.Context) error
	// Release returns a slot taken by Acquire whose disbursement never started
	Release(ctx context.Context) error
	// Mode names the enforcement strategy
	Mode() CapMode
}

// countGuard checks the record row count against the cap
type countGuard struct {
	records persistence.DisbursementRepo
	cap     int64
}

// NewCountGuard creates the row-count cap guard
func NewCountGuard(records persistence.DisbursementRepo, cap int64) CapGuard {
	return &countGuard{records: records, cap: cap}
}

func (g *countGuard) Acquire(ctx context.Context) error {
	reserved, _, err := g.records.Count(ctx)
	if err != nil {
		return err
	}
	if reserved >= g.cap {
		return ErrCapReached
	}
	return nil
}

// Release is a no-op: the slot is the reservation row itself
func (g *countGuard) Release(ctx context.Context) error {
	return nil
}

func (g *countGuard) Mode() CapMode {
	return CapModeCount
}

// RedisBudget is an exact cap counter: INCR takes a slot, and a result above the
// cap is rolled back with DECR.
type RedisBudget struct {
	client redis.Cmdable
	key    string
	cap    int64
}

// NewRedisBudget creates a strict cap guard on key
func NewRedisBudget(client redis.Cmdable, key string, cap int64) *RedisBudget {
	return &RedisBudget{
		client: client,
		key:    key,
		cap:    cap,
	}
}

// Sync seeds the counter from the record count when the key does not exist yet
func (b *RedisBudget) Sync(ctx context.Context, reserved int64) (bool, error) {
	set, err := b.client.SetNX(ctx, b.key, reserved, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to seed airdrop budget: %w", err)
	}
	return set, nil
}

func (b *RedisBudget) Acquire(ctx context.Context) error {
	n, err := b.client.Incr(ctx, b.key).Result()
	if err != nil {
		return fmt.Errorf("failed to take airdrop budget slot: %w", err)
	}
	if n > b.cap {
		if err := b.client.Decr(ctx, b.key).Err(); err != nil {
			return fmt.Errorf("failed to roll back airdrop budget slot: %w", err)
		}
		return ErrCapReached
	}
	return nil
}

func (b *RedisBudget) Release(ctx context.Context) error {
	if err := b.client.Decr(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("failed to return airdrop budget slot: %w", err)
	}
	return nil
}

func (b *RedisBudget) Mode() CapMode {
	return CapModeStrict
}

// Used returns the slots currently taken
func (b *RedisBudget) Used(ctx context.Context) (int64, error) {
	n, err := b.client.Get(ctx, b.key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read airdrop budget: %w", err)
	}
	return n, nil
}

package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/crabdrop/internal/airdrop"
	"github.com/sawpanic/crabdrop/internal/metrics"
	"github.com/sawpanic/crabdrop/internal/persistence"
	"github.com/sawpanic/crabdrop/internal/social"
)

var (
	// ErrCodeNotFound covers unknown and already-consumed claim codes alike
	ErrCodeNotFound = errors.New("claim code not found")
	// ErrAlreadyVerified is returned when the identity holding the code is verified
	ErrAlreadyVerified = errors.New("identity already verified")
	// ErrInvalidProofFormat is returned when the proof URL is not a supported status link
	ErrInvalidProofFormat = social.ErrInvalidProofFormat
)

// State is the verification state of an identity
type State string

const (
	StatePendingClaim State = "pending_claim"
	StateVerified     State = "verified"
)

// StateOf returns the verification state of an identity
func StateOf(identity persistence.Identity) State {
	if identity.Verified {
		return StateVerified
	}
	return StatePendingClaim
}

// Request is one claim verification attempt
type Request struct {
	ClaimCode string `json:"claim_code"`
	ProofURL  string `json:"proof_url"`
}

// Result describes a successful verification. Airdrop is nil only when no gate is
// configured; AirdropError is set when the airdrop could not run because the store failed.
type Result struct {
	Identity     persistence.Identity `json:"identity"`
	Proof        social.Proof         `json:"proof"`
	Airdrop      *airdrop.Outcome     `json:"airdrop,omitempty"`
	AirdropError string               `json:"airdrop_error,omitempty"`
}

// DefaultAirdropTimeout bounds the airdrop step when no timeout is configured
const DefaultAirdropTimeout = 30 * time.Second

// Disburser is the airdrop step run after a verification commits
type Disburser interface {
	TryDisburse(ctx context.Context, identity persistence.Identity) (*airdrop.Outcome, error)
}

// Service moves identities from PendingClaim to Verified
type Service struct {
	identities persistence.IdentityRepo
	airdrop    Disburser
	metrics    *metrics.Registry
	now        func() time.Time

	airdropTimeout time.Duration
}

// NewService creates a verification service. gate may be nil to verify without airdrops.
func NewService(identities persistence.IdentityRepo, gate Disburser, m *metrics.Registry) *Service {
	return &Service{
		identities: identities,
		airdrop:    gate,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },

		airdropTimeout: DefaultAirdropTimeout,
	}
}

// WithAirdropTimeout sets the bound on the airdrop step run after a verification commits
func (s *Service) WithAirdropTimeout(d time.Duration) *Service {
	if d > 0 {
		s.airdropTimeout = d
	}
	return s
}

// Verify consumes a claim code against a social proof URL. Client input errors leave
// the store untouched. Once the conditional write commits the call succeeds, whatever
// happens to the airdrop.
func (s *Service) Verify(ctx context.Context, req Request) (*Result, error) {
	result, err := s.verify(ctx, req)
	s.metrics.RecordVerification(resultLabel(err))
	return result, err
}

func (s *Service) verify(ctx context.Context, req Request) (*Result, error) {
	code := strings.TrimSpace(req.ClaimCode)
	if code == "" {
		return nil, ErrCodeNotFound
	}

	identity, err := s.identities.GetByClaimCode(ctx, code)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to look up claim code: %w", err)
	}

	if identity.Verified {
		return nil, ErrAlreadyVerified
	}

	proof, err := social.ParseProof(req.ProofURL)
	if err != nil {
		return nil, err
	}

	verified, err := s.identities.MarkVerified(ctx, persistence.VerificationUpdate{
		IdentityID:   identity.ID,
		ClaimCode:    code,
		LinkedHandle: proof.Handle,
		LinkedPostID: proof.PostID,
		VerifiedAt:   s.now(),
	})
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			// A concurrent request consumed the code between our read and write
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to mark identity verified: %w", err)
	}

	logger := log.With().
		Str("identity_id", verified.ID).
		Str("username", verified.Username).
		Str("linked_handle", proof.Handle).
		Logger()
	logger.Info().Str("post_id", proof.PostID).Msg("Identity verified")

	result := &Result{Identity: *verified, Proof: proof}
	if s.airdrop == nil {
		return result, nil
	}

	// The code is consumed, so the airdrop runs to an outcome even if the caller goes away.
	// Otherwise a cancelled request could leave a verified wallet with no reservation row.
	airdropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.airdropTimeout)
	defer cancel()

	outcome, err := s.airdrop.TryDisburse(airdropCtx, *verified)
	if err != nil {
		logger.Error().Err(err).Msg("Airdrop could not run after verification")
		result.AirdropError = "airdrop temporarily unavailable"
		return result, nil
	}

	result.Airdrop = outcome
	if outcome.TxHandle != "" && outcome.Status == airdrop.StatusDisbursed {
		handle := outcome.TxHandle
		result.Identity.DisbursementReceipt = &handle
	}

	logger.Info().
		Str("status", string(outcome.Status)).
		Str("reason", string(outcome.Reason)).
		Msg("Airdrop outcome")

	return result, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, ErrCodeNotFound):
		return "code_not_found"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrInvalidProofFormat):
		return "invalid_proof_format"
	default:
		return "store_unavailable"
	}
}

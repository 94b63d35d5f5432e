package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	httpContracts "github.com/sawpanic/crabdrop/internal/http"
	"github.com/sawpanic/crabdrop/internal/verify"
)

// maxVerifyBody bounds the POST /claim/verify body
const maxVerifyBody = 8 << 10

// Verify handles POST /claim/verify
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req httpContracts.VerifyRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxVerifyBody))
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request",
			"Body must be a JSON object with claim_code and proof_url")
		return
	}
	if strings.TrimSpace(req.ClaimCode) == "" {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "claim_code is required")
		return
	}

	result, err := h.verifier.Verify(r.Context(), verify.Request{
		ClaimCode: req.ClaimCode,
		ProofURL:  req.ProofURL,
	})
	if err != nil {
		h.writeVerifyError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toVerifyResponse(result))
}

func (h *Handlers) writeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, verify.ErrCodeNotFound):
		h.writeError(w, r, http.StatusNotFound, "code_not_found",
			"Claim code is invalid or has already been used")
	case errors.Is(err, verify.ErrAlreadyVerified):
		h.writeError(w, r, http.StatusConflict, "already_verified",
			"This identity is already verified")
	case errors.Is(err, verify.ErrInvalidProofFormat):
		h.writeError(w, r, http.StatusBadRequest, "invalid_proof_format",
			"proof_url must link to a post on x.com or twitter.com")
	default:
		log.Error().
			Str("request_id", RequestID(r.Context())).
			Str("error", h.redactor.RedactError(err)).
			Msg("Verification failed on store access")
		h.writeError(w, r, http.StatusServiceUnavailable, "store_unavailable",
			"Verification is temporarily unavailable, retry later")
	}
}

func toVerifyResponse(result *verify.Result) httpContracts.VerifyResponse {
	resp := httpContracts.VerifyResponse{
		Verified:     result.Identity.Verified,
		IdentityID:   result.Identity.ID,
		Username:     result.Identity.Username,
		LinkedHandle: result.Proof.Handle,
		PostID:       result.Proof.PostID,
		VerifiedAt:   result.Identity.VerifiedAt,
	}

	switch {
	case result.Airdrop != nil:
		resp.Airdrop = &httpContracts.AirdropInfo{
			Status:   string(result.Airdrop.Status),
			Reason:   string(result.Airdrop.Reason),
			Wallet:   result.Airdrop.Wallet,
			TxHandle: result.Airdrop.TxHandle,
			Amount:   result.Airdrop.Amount,
		}
	case result.AirdropError != "":
		resp.Airdrop = &httpContracts.AirdropInfo{
			Status:  "error",
			Message: result.AirdropError,
		}
	}

	return resp
}

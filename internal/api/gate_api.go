package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mediagate-bot/mediagate/internal/domain"
)

// Error codes surfaced to the bot layer. Store faults map to 503 so the bot
// can tell "try again shortly" apart from real denials.
const (
	codeStoreUnavailable   = "store_unavailable"
	codeTokenInvalid       = "token_invalid"
	codeInsufficientPoints = "insufficient_points"
	codeUserNotFound       = "user_not_found"
	codeBadRequest         = "bad_request"
)

type userRequest struct {
	UserID string `json:"user_id"`
}

type redeemRequest struct {
	Token string `json:"token"`
}

type grantRequest struct {
	UserID string `json:"user_id"`
	Days   int    `json:"days"`
}

type attributeRequest struct {
	UserID     string `json:"user_id"`
	ReferrerID string `json:"referrer_id"`
}

// POST /api/gate/evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}

	decision, err := s.engine.Evaluate(r.Context(), req.UserID)
	if err != nil {
		// Fail closed: the decision is a deny, but the bot gets a
		// distinguishable code so it doesn't show a quota message.
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "access check unavailable")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// POST /api/gate/challenge
func (s *Server) handleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}

	ch, err := s.engine.IssueChallenge(r.Context(), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// POST /api/gate/redeem
func (s *Server) handleRedeemChallenge(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "token is required")
		return
	}

	userID, err := s.engine.RedeemChallenge(r.Context(), req.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}

// GET /api/gate/status/{userID}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !requireUser(w, userID) {
		return
	}

	st, err := s.engine.GetStatus(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /api/gate/premium/grant
func (s *Server) handleGrantPremium(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	if req.Days <= 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "days must be positive")
		return
	}

	until, err := s.engine.GrantPremium(r.Context(), req.UserID, time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"premium_until": until})
}

// POST /api/gate/premium/revoke
func (s *Server) handleRevokePremium(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}

	if err := s.engine.RevokePremium(r.Context(), req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// POST /api/gate/referral/attribute
func (s *Server) handleAttribute(w http.ResponseWriter, r *http.Request) {
	var req attributeRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	if req.ReferrerID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "referrer_id is required")
		return
	}

	// Self-referral and re-attribution come back attributed=false — an
	// expected adversarial input, not an error status.
	ok, err := s.engine.Attribute(r.Context(), req.UserID, req.ReferrerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"attributed": ok})
}

// POST /api/gate/points/redeem
func (s *Server) handleRedeemPoints(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}

	until, err := s.engine.RedeemPoints(r.Context(), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"premium_until": until})
}

// GET /api/gate/points/history/{userID}
func (s *Server) handlePointsHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !requireUser(w, userID) {
		return
	}

	entries, err := s.engine.PointsHistory(r.Context(), userID, 20)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.PointsEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// POST /api/gate/reset
func (s *Server) handleResetUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}

	if err := s.engine.ResetUser(r.Context(), req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func requireUser(w http.ResponseWriter, userID string) bool {
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "user_id is required")
		return false
	}
	return true
}

// writeDomainError maps domain sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTokenInvalid):
		writeError(w, http.StatusGone, codeTokenInvalid, "token invalid or expired, request a new challenge")
	case errors.Is(err, domain.ErrInsufficientPoints):
		writeError(w, http.StatusConflict, codeInsufficientPoints, "not enough points")
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, codeUserNotFound, "unknown user")
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "store unavailable, try again shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

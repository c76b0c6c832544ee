package api

import (
	"errors"
	"net/http"

	"github.com/kjannette/bitmage-backend/internal/ledger"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/repository"
	"github.com/kjannette/bitmage-backend/internal/rewards"
	"github.com/kjannette/bitmage-backend/internal/risk"
	"github.com/kjannette/bitmage-backend/internal/round"
)

const defaultLedgerLimit = 20

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.game.Engine().Current(r.Context()))
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	p, ok := models.ParsePeriod(r.PathValue("period"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid period, expected one of 1D, 1W, 1M, 3M, 1Y")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	sess.Chart.Select(p)
	series, fresh := sess.Chart.Refresh(r.Context(), s.game.Engine())
	if !fresh {
		// another request switched period mid-refresh; answer for this one anyway
		series = s.game.Engine().Chart(r.Context(), p)
	}
	writeJSON(w, http.StatusOK, series)
}

// --- round ---

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Round.Snapshot())
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var wager models.Wager
	if !decodeBody(w, r, &wager) {
		return
	}
	view, err := sess.Round.Arm(wager)
	if err != nil {
		writeRoundError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var wager models.Wager
	if !decodeBody(w, r, &wager) {
		return
	}
	view, err := sess.Round.Confirm(r.Context(), wager)
	if err != nil {
		writeRoundError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func writeRoundError(w http.ResponseWriter, err error) {
	var verr *risk.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Msg)
	case errors.Is(err, round.ErrRoundInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to update round")
	}
}

// --- notifications ---

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var out []models.Notification
	if r.URL.Query().Get("all") == "true" {
		out = sess.Notes.List()
	} else {
		out = sess.Notes.Visible(s.now())
	}
	if out == nil {
		out = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if !sess.Notes.Dismiss(r.Context(), r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Notes.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// --- session balance and claims ---

type sessionBalanceResponse struct {
	Balance int64                  `json:"balance"`
	Stats   models.PredictionStats `json:"stats"`
	WinRate float64                `json:"winRate"`
	Pending int                    `json:"pending"`
}

func (s *Server) handleSessionBalance(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	st := sess.Stats()
	writeJSON(w, http.StatusOK, sessionBalanceResponse{
		Balance: sess.Balance(),
		Stats:   st,
		WinRate: st.WinRate(),
		Pending: len(sess.Recon.Pending()),
	})
}

func (s *Server) handleSessionClaimDaily(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.ClaimDaily(r.Context())
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessionStreak(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Streak(r.Context()))
}

func (s *Server) handleSessionClaimStreak(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.ClaimStreak(r.Context())
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessionClaimTier(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.ClaimTier(r.Context(), r.PathValue("tier"))
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeClaimError maps claim rejections to the status codes the points API
// client decodes.
func (s *Server) writeClaimError(w http.ResponseWriter, err error) {
	var cd *rewards.CooldownError
	switch {
	case errors.As(err, &cd):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":              err.Error(),
			"timeUntilNextClaim": cd.Remaining.Milliseconds(),
		})
	case errors.Is(err, rewards.ErrCooldown):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, rewards.ErrInvalidStreakDay):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rewards.ErrTierClaimed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rewards.ErrTierLocked):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, rewards.ErrUnknownTier):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error().Err(err).Msg("claim failed")
		writeError(w, http.StatusInternalServerError, "failed to claim")
	}
}

// --- ledger ---

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing Authorization header")
		return
	}
	rounds, err := s.game.Ledger().RecentRounds(r.Context(), id.UserID, parseLimit(r, defaultLedgerLimit))
	if err != nil {
		s.log.Error().Err(err).Str("user", id.UserID).Msg("ledger query failed")
		writeError(w, http.StatusInternalServerError, "failed to fetch round history")
		return
	}
	if rounds == nil {
		rounds = []ledger.RoundEntry{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/repository"
	"github.com/kjannette/bitmage-backend/internal/rewards"
)

const maxUsernameLen = 32

// pointsUser returns the caller's id when the points API is available.
func (s *Server) pointsUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.users == nil {
		writeError(w, http.StatusServiceUnavailable, errNoDatabase.Error())
		return "", false
	}
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing Authorization header")
		return "", false
	}
	return id.UserID, true
}

func (s *Server) writeRepoError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

type registerRequest struct {
	Username string `json:"username"`
}

type registerResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		writeError(w, http.StatusServiceUnavailable, errNoDatabase.Error())
		return
	}
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Username)
	if name == "" || len(name) > maxUsernameLen {
		writeError(w, http.StatusBadRequest, "username must be 1-32 characters")
		return
	}

	u, token, err := s.users.Create(r.Context(), name)
	if errors.Is(err, repository.ErrUsernameTaken) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeRepoError(w, err, "failed to create user")
		return
	}
	s.log.Info().Str("user", u.ID).Str("username", u.Username).Msg("user registered")
	writeJSON(w, http.StatusCreated, registerResponse{User: u, Token: token})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	if err := s.users.Delete(r.Context(), id); err != nil {
		s.writeRepoError(w, err, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	u, err := s.users.Get(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err, "failed to fetch profile")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, repository.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type balanceRequest struct {
	Balance   *int64           `json:"balance"`
	Operation models.BalanceOp `json:"operation"`
	Amount    int64            `json:"amount"`
}

func (s *Server) handleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	var req balanceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var bal int64
	var err error
	switch {
	case req.Balance != nil:
		if *req.Balance < 0 {
			writeError(w, http.StatusBadRequest, "balance cannot be negative")
			return
		}
		bal, err = s.users.SetBalance(r.Context(), id, *req.Balance)
	case req.Operation.Valid():
		if req.Amount < 0 {
			writeError(w, http.StatusBadRequest, "amount cannot be negative")
			return
		}
		bal, err = s.users.AdjustBalance(r.Context(), id, req.Operation, req.Amount)
	default:
		writeError(w, http.StatusBadRequest, "expected balance or operation add|subtract with amount")
		return
	}
	if err != nil {
		s.writeRepoError(w, err, "failed to update balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": bal})
}

func (s *Server) handleClaimDaily(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	res, err := s.users.ClaimDaily(r.Context(), id, s.now())
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecordPrediction(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	var rec models.OutcomeRecord
	if !decodeBody(w, r, &rec) {
		return
	}
	if rec.Outcome != models.Win && rec.Outcome != models.Lose {
		writeError(w, http.StatusBadRequest, "outcome must be win or lose")
		return
	}
	if rec.PointsDelta < 0 || rec.RiskAmount < 0 {
		writeError(w, http.StatusBadRequest, "points cannot be negative")
		return
	}

	res, err := s.users.RecordOutcome(r.Context(), id, rec)
	if err != nil {
		s.writeRepoError(w, err, "failed to record prediction")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePredictionStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	sum, err := s.users.StatsSummary(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err, "failed to fetch prediction stats")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	st, err := s.users.GetStreak(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err, "failed to fetch streak")
		return
	}
	writeJSON(w, http.StatusOK, rewards.ViewStreak(*st, s.now()))
}

type streakClaimRequest struct {
	Day int `json:"day"`
}

func (s *Server) handleClaimStreak(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	var req streakClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.users.ClaimStreak(r.Context(), id, req.Day, s.now())
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type tierStatus struct {
	rewards.Tier
	Unlocked bool `json:"unlocked"`
	Claimed  bool `json:"claimed"`
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	stats, err := s.users.GetStats(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err, "failed to fetch stats")
		return
	}
	claimed, err := s.users.ClaimedTiers(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err, "failed to fetch tiers")
		return
	}
	seen := make(map[string]bool, len(claimed))
	for _, c := range claimed {
		seen[c] = true
	}

	out := make([]tierStatus, 0, len(rewards.Tiers))
	for _, t := range rewards.Tiers {
		out = append(out, tierStatus{
			Tier:     t,
			Unlocked: stats.Wins >= t.RequiredWins,
			Claimed:  seen[t.ID] || t.Bonus == 0,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClaimTier(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	res, err := s.users.ClaimTier(r.Context(), id, r.PathValue("tier"), s.now())
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type deviceRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	var req deviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "device token is required")
		return
	}
	if err := s.users.RegisterDevice(r.Context(), id, req.Token); err != nil {
		s.writeRepoError(w, err, "failed to register device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pointsUser(w, r)
	if !ok {
		return
	}
	entries, err := s.users.Leaderboard(r.Context(), id, parseLimit(r, repository.LeaderboardSize))
	if err != nil {
		s.writeRepoError(w, err, "failed to fetch leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

package external_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjannette/bitmage-backend/internal/external"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/reconcile"
	"github.com/kjannette/bitmage-backend/internal/rewards"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newPointsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/user/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
			return
		}
		writeJSON(w, http.StatusOK, models.User{ID: "u1", Balance: 1200, Stats: models.PredictionStats{Wins: 3}})
	})
	mux.HandleFunc("POST /v1/user/balance", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Balance   *int64 `json:"balance"`
			Operation string `json:"operation"`
			Amount    int64  `json:"amount"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Amount == 777 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
			return
		}
		b := int64(1200)
		if body.Balance != nil {
			b = *body.Balance
		} else if body.Operation == "subtract" {
			b -= body.Amount
		}
		writeJSON(w, http.StatusOK, map[string]int64{"balance": b})
	})
	mux.HandleFunc("POST /v1/user/predictions", func(w http.ResponseWriter, r *http.Request) {
		var rec models.OutcomeRecord
		json.NewDecoder(r.Body).Decode(&rec)
		writeJSON(w, http.StatusOK, models.OutcomeResult{Balance: 1200 + rec.PointsDelta, Stats: models.PredictionStats{TotalPredictions: 1, Wins: 1}})
	})
	mux.HandleFunc("POST /v1/user/claim-daily", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "Daily claim not available yet", "timeUntilNextClaim": 3600000})
	})
	mux.HandleFunc("POST /v1/user/streak/claim", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid streak day progression"})
	})
	mux.HandleFunc("POST /v1/user/tiers/{tier}/claim", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": rewards.ErrTierClaimed.Error()})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPointsClient_Balance(t *testing.T) {
	srv := newPointsServer(t)
	c := external.NewPointsClient(srv.URL+"/", "tok", 2*time.Second)
	ctx := context.Background()

	b, err := c.GetBalance(ctx)
	if err != nil || b != 1200 {
		t.Fatalf("GetBalance: %d %v", b, err)
	}
	b, err = c.AdjustBalance(ctx, models.OpSubtract, 200)
	if err != nil || b != 1000 {
		t.Fatalf("AdjustBalance: %d %v", b, err)
	}
	b, err = c.SetBalance(ctx, 0)
	if err != nil || b != 0 {
		t.Fatalf("SetBalance(0): %d %v", b, err)
	}
	st, err := c.GetStats(ctx)
	if err != nil || st.Wins != 3 {
		t.Fatalf("GetStats: %+v %v", st, err)
	}
}

func TestPointsClient_RecordOutcome(t *testing.T) {
	srv := newPointsServer(t)
	c := external.NewPointsClient(srv.URL, "tok", 2*time.Second)

	res, err := c.RecordOutcome(context.Background(), models.OutcomeRecord{Outcome: models.Win, PointsDelta: 400})
	if err != nil || res.Balance != 1600 || res.Stats.Wins != 1 {
		t.Fatalf("RecordOutcome: %+v %v", res, err)
	}
}

func TestPointsClient_ErrorMapping(t *testing.T) {
	srv := newPointsServer(t)
	ctx := context.Background()

	bad := external.NewPointsClient(srv.URL, "wrong", 2*time.Second)
	if _, err := bad.GetBalance(ctx); !errors.Is(err, external.ErrUnauthorized) {
		t.Errorf("bad token: %v", err)
	}

	c := external.NewPointsClient(srv.URL, "tok", 2*time.Second)
	_, err := c.ClaimDaily(ctx)
	var ce *rewards.CooldownError
	if !errors.As(err, &ce) || ce.Remaining != time.Hour {
		t.Errorf("cooldown: %v", err)
	}
	if _, err := c.ClaimStreak(ctx, 3); !errors.Is(err, rewards.ErrInvalidStreakDay) {
		t.Errorf("streak: %v", err)
	}
	if _, err := c.ClaimTier(ctx, "seeker"); !errors.Is(err, rewards.ErrTierClaimed) {
		t.Errorf("tier: %v", err)
	}
	if _, err := c.GetStreak(ctx); !errors.Is(err, external.ErrNotFound) {
		t.Errorf("missing route: %v", err)
	}
}

func TestPointsClient_Unreachable(t *testing.T) {
	c := external.NewPointsClient("http://127.0.0.1:1", "tok", 500*time.Millisecond)
	_, err := c.GetBalance(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if reconcile.IsPermanent(err) {
		t.Errorf("transport error should be retryable: %v", err)
	}
}

func TestPointsClient_RejectionsArePermanent(t *testing.T) {
	srv := newPointsServer(t)
	ctx := context.Background()

	c := external.NewPointsClient(srv.URL, "tok", 2*time.Second)
	_, err := c.AdjustBalance(ctx, models.OpSubtract, 777)
	var apiErr *external.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("AdjustBalance(777): %v", err)
	}
	if !reconcile.IsPermanent(err) {
		t.Errorf("400 should be permanent: %v", err)
	}

	bad := external.NewPointsClient(srv.URL, "wrong", 2*time.Second)
	if _, err := bad.GetBalance(ctx); !reconcile.IsPermanent(err) {
		t.Errorf("unauthorized should be permanent: %v", err)
	}
	if (&external.APIError{Status: http.StatusTooManyRequests}).Permanent() {
		t.Error("429 should be retryable")
	}
}

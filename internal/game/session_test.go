package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/rewards"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixedPrice struct{ price float64 }

func (p fixedPrice) Current(context.Context) models.Quote { return models.Quote{Price: p.price} }

var errDown = errors.New("connection refused")

// stubBackend answers claims with a canned result or error.
type stubBackend struct {
	balance  int64
	claimErr error
	claims   int
	down     bool
}

func (b *stubBackend) GetBalance(context.Context) (int64, error) {
	if b.down {
		return 0, errDown
	}
	return b.balance, nil
}

func (b *stubBackend) SetBalance(_ context.Context, v int64) (int64, error) {
	if b.down {
		return 0, errDown
	}
	b.balance = v
	return v, nil
}

func (b *stubBackend) AdjustBalance(_ context.Context, op models.BalanceOp, amount int64) (int64, error) {
	if b.down {
		return 0, errDown
	}
	b.balance = models.ApplyBalance(b.balance, op, amount)
	return b.balance, nil
}

func (b *stubBackend) RecordOutcome(_ context.Context, rec models.OutcomeRecord) (*models.OutcomeResult, error) {
	if b.down {
		return nil, errDown
	}
	b.balance = models.ApplyBalance(b.balance, models.OpAdd, rec.PointsDelta)
	return &models.OutcomeResult{Balance: b.balance}, nil
}

func (b *stubBackend) GetStats(context.Context) (*models.PredictionStats, error) {
	if b.down {
		return nil, errDown
	}
	return &models.PredictionStats{}, nil
}

func (b *stubBackend) claim(points int64) (*models.ClaimResult, error) {
	b.claims++
	if b.claimErr != nil {
		return nil, b.claimErr
	}
	b.balance += points
	return &models.ClaimResult{Balance: b.balance, PointsAwarded: points}, nil
}

func (b *stubBackend) ClaimDaily(context.Context) (*models.ClaimResult, error) {
	return b.claim(rewards.DailyPoints)
}

func (b *stubBackend) GetStreak(context.Context) (*models.StreakView, error) {
	if b.down || b.claimErr != nil {
		return nil, errDown
	}
	v := rewards.ViewStreak(models.StreakState{}, time.Now())
	return &v, nil
}

func (b *stubBackend) ClaimStreak(_ context.Context, day int) (*models.ClaimResult, error) {
	res, err := b.claim(rewards.StreakReward(day))
	if res != nil {
		res.StreakDay = day
	}
	return res, err
}

func (b *stubBackend) ClaimTier(_ context.Context, tier string) (*models.ClaimResult, error) {
	t, _ := rewards.TierByID(tier)
	return b.claim(t.Bonus)
}

func newTestSession(t *testing.T, backend Backend, store kv.Store, clock *fakeClock) *Session {
	t.Helper()
	s := newSession(Identity{UserID: "alice", Token: "tok"}, sessionDeps{
		backend:         backend,
		store:           store,
		prices:          fixedPrice{price: 100},
		startingBalance: 10000,
		defaultPeriod:   models.Period1D,
		now:             clock.Now,
	})
	s.Init(context.Background())
	t.Cleanup(s.Close)
	return s
}

func TestSession_OfflineDailyClaim(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestSession(t, nil, kv.NewMemoryStore(64), clock)
	ctx := context.Background()

	res, err := s.ClaimDaily(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Balance != 10500 || s.Balance() != 10500 {
		t.Fatalf("balance after claim: result %d session %d", res.Balance, s.Balance())
	}

	clock.Advance(23 * time.Hour)
	if _, err := s.ClaimDaily(ctx); !errors.Is(err, rewards.ErrCooldown) {
		t.Fatalf("second claim should hit cooldown, got %v", err)
	}

	clock.Advance(time.Hour)
	if _, err := s.ClaimDaily(ctx); err != nil {
		t.Fatalf("claim after 24h: %v", err)
	}
	if s.Balance() != 11000 {
		t.Fatalf("balance: %d", s.Balance())
	}

	list := s.Notes.List()
	if len(list) != 2 || list[0].Type != models.NotifyStreakClaim {
		t.Fatalf("expected two daily notices, got %+v", list)
	}
}

func TestSession_ClaimMirrorSurvivesRestart(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := kv.NewMemoryStore(64)
	s := newTestSession(t, nil, store, clock)
	if _, err := s.ClaimDaily(context.Background()); err != nil {
		t.Fatal(err)
	}

	again := newTestSession(t, nil, store, clock)
	if again.Balance() != 10500 {
		t.Fatalf("restored balance: %d", again.Balance())
	}
	if _, err := again.ClaimDaily(context.Background()); !errors.Is(err, rewards.ErrCooldown) {
		t.Fatalf("restored session must keep the cooldown, got %v", err)
	}
}

func TestSession_BackendRejectionIsReturned(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	backend := &stubBackend{balance: 10000, claimErr: &rewards.CooldownError{Remaining: time.Hour}}
	s := newTestSession(t, backend, nil, clock)

	_, err := s.ClaimDaily(context.Background())
	if !errors.Is(err, rewards.ErrCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if s.Balance() != 10000 {
		t.Fatalf("rejected claim must not credit: %d", s.Balance())
	}
	if len(s.Notes.List()) != 0 {
		t.Fatal("rejected claim must not notify")
	}
}

func TestSession_UnreachableBackendFallsBackToLocal(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	backend := &stubBackend{balance: 10000}
	s := newTestSession(t, backend, nil, clock)

	backend.claimErr = errDown
	backend.down = true
	res, err := s.ClaimDaily(context.Background())
	if err != nil {
		t.Fatalf("fallback claim: %v", err)
	}
	if res.PointsAwarded != rewards.DailyPoints || s.Balance() != 10500 {
		t.Fatalf("fallback result %+v balance %d", res, s.Balance())
	}
	if n := len(s.Recon.Pending()); n != 1 {
		t.Fatalf("credit should be queued for replay, pending=%d", n)
	}

	backend.down = false
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if backend.balance != 10500 || s.Balance() != 10500 {
		t.Fatalf("after replay backend %d session %d", backend.balance, s.Balance())
	}
}

func TestSession_RemoteClaimAdoptsBalance(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	backend := &stubBackend{balance: 21000}
	s := newTestSession(t, backend, nil, clock)

	res, err := s.ClaimTier(context.Background(), "seeker")
	if err != nil {
		t.Fatalf("tier claim: %v", err)
	}
	if res.Balance != 26000 || s.Balance() != 26000 {
		t.Fatalf("adopted balance: %d / %d", res.Balance, s.Balance())
	}

	var sawTier, sawMilestone bool
	for _, n := range s.Notes.List() {
		switch n.Type {
		case models.NotifyAvatarUnlock:
			sawTier = true
		case models.NotifyMilestone:
			sawMilestone = true
		}
	}
	if !sawTier || !sawMilestone {
		t.Fatalf("expected tier and milestone notices, got %+v", s.Notes.List())
	}
}

func TestSession_OfflineTierRequiresWins(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestSession(t, nil, nil, clock)

	if _, err := s.ClaimTier(context.Background(), "seeker"); !errors.Is(err, rewards.ErrTierLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
	if _, err := s.ClaimTier(context.Background(), "dragon"); !errors.Is(err, rewards.ErrUnknownTier) {
		t.Fatalf("expected unknown tier, got %v", err)
	}
}

func TestSession_OfflineStreakCycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestSession(t, nil, nil, clock)
	ctx := context.Background()

	var total int64
	for day := 1; day <= rewards.StreakLength; day++ {
		res, err := s.ClaimStreak(ctx)
		if err != nil {
			t.Fatalf("day %d: %v", day, err)
		}
		if res.StreakDay != day {
			t.Fatalf("expected day %d, got %d", day, res.StreakDay)
		}
		total += res.PointsAwarded
		clock.Advance(rewards.Cooldown)
	}
	if total != 6*rewards.StreakPoints+rewards.StreakBonusPoints {
		t.Fatalf("weekly total: %d", total)
	}

	res, err := s.ClaimStreak(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.StreakDay != 1 {
		t.Fatalf("cycle should restart at day 1, got %d", res.StreakDay)
	}
	t.Logf("balance after eight claims: %d", s.Balance())
}

func TestSession_RoundRunsAgainstReconciler(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestSession(t, nil, nil, clock)
	ctx := context.Background()

	if _, err := s.Round.Confirm(ctx, models.Wager{Direction: models.Bullish, Amount: 500, Leverage: 2}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if s.Balance() != 9000 {
		t.Fatalf("wager should be debited, balance %d", s.Balance())
	}
	for _, n := range s.Notes.List() {
		if n.Type == models.NotifyBalanceUpdate {
			t.Fatal("wager debit must not raise a balance notice")
		}
	}
}

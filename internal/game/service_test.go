package game

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/market"
	"github.com/kjannette/bitmage-backend/internal/models"
)

func newTestService(clock *fakeClock) *Service {
	store := kv.NewMemoryStore(256)
	engine := market.NewEngine(store, market.Options{Now: clock.Now, Rand: rand.New(rand.NewSource(3))})
	return NewService(engine, store, Options{StartingBalance: 10000, Now: clock.Now})
}

func TestService_SessionIsReused(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(clock)
	defer svc.Close()
	ctx := context.Background()

	a, err := svc.Session(ctx, Identity{UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := svc.Session(ctx, Identity{UserID: "alice"})
	if a != b {
		t.Fatal("same user should get the same session")
	}
	if a.Balance() != 10000 {
		t.Fatalf("starting balance: %d", a.Balance())
	}
	if _, err := svc.Session(ctx, Identity{}); err != ErrNoUser {
		t.Fatalf("expected ErrNoUser, got %v", err)
	}
}

func TestService_TickPriceMovesChartTips(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(clock)
	defer svc.Close()
	ctx := context.Background()

	sess, _ := svc.Session(ctx, Identity{UserID: "alice"})
	svc.Rollover(ctx)
	if _, ok := sess.Chart.Series(); !ok {
		t.Fatal("rollover should refresh charts")
	}

	ch := make(chan models.Quote, 1)
	sub := svc.SubscribePrices(ch)
	defer sub.Unsubscribe()

	clock.Advance(5 * time.Second)
	q := svc.TickPrice(ctx)

	select {
	case got := <-ch:
		if got.Price != q.Price {
			t.Fatalf("feed price %v, tick price %v", got.Price, q.Price)
		}
	case <-time.After(time.Second):
		t.Fatal("no price on the feed")
	}

	series, _ := sess.Chart.Series()
	if last := series.Last(); last == nil || last.Price != q.Price {
		t.Fatalf("chart tip not updated: %+v", last)
	}
}

func TestService_TickRoundsSettles(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(clock)
	defer svc.Close()
	ctx := context.Background()

	sess, _ := svc.Session(ctx, Identity{UserID: "bob"})
	if _, err := sess.Round.Confirm(ctx, models.Wager{Direction: models.Bearish, Amount: 100, Leverage: 5}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	for i := 0; i < 30 && sess.Round.Snapshot().State == models.StateActive; i++ {
		clock.Advance(time.Second)
		svc.TickRounds(ctx)
	}
	view := sess.Round.Snapshot()
	if view.State == models.StateActive {
		t.Fatal("round should have resolved")
	}
	if st := sess.Stats(); st.TotalPredictions != 1 {
		t.Fatalf("stats not recorded: %+v", st)
	}
	t.Logf("round outcome %s, balance %d", view.Round.Outcome, sess.Balance())
}

func TestService_StalledSubscribersDoNotBlockTicks(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(clock)
	defer svc.Close()
	ctx := context.Background()

	sess, _ := svc.Session(ctx, Identity{UserID: "carol"})
	prices := make(chan models.Quote, 4)
	priceSub := svc.SubscribePrices(prices)
	defer priceSub.Unsubscribe()
	notes := make(chan models.Notification)
	noteSub := sess.Subscribe(notes)
	defer noteSub.Unsubscribe()

	if _, err := sess.Round.Confirm(ctx, models.Wager{Direction: models.Bullish, Amount: 100, Leverage: 2}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 6; i++ {
			clock.Advance(5 * time.Second)
			svc.TickPrice(ctx)
		}
		for i := 0; i < 20; i++ {
			svc.TickRounds(ctx)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticks blocked on subscribers that never drain")
	}
	if len(prices) != 4 {
		t.Errorf("price channel holds %d, want 4", len(prices))
	}
	if sess.Round.Snapshot().State == models.StateActive {
		t.Error("round should have settled")
	}
	t.Logf("dropped price ticks: %d", svc.prices.Dropped())
}

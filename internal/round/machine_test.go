package round

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/ledger"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/risk"
)

type fakeWallet struct {
	balance  int64
	debits   []int64
	outcomes []models.OutcomeRecord
}

func (w *fakeWallet) Balance() int64 { return w.balance }

func (w *fakeWallet) Debit(ctx context.Context, amount int64, source string) int64 {
	w.debits = append(w.debits, amount)
	w.balance = models.ApplyBalance(w.balance, models.OpSubtract, amount)
	return w.balance
}

func (w *fakeWallet) RecordOutcome(ctx context.Context, rec models.OutcomeRecord, source string) int64 {
	w.outcomes = append(w.outcomes, rec)
	w.balance = models.ApplyBalance(w.balance, models.OpAdd, rec.PointsDelta)
	return w.balance
}

type fakePrice struct{ price float64 }

func (p *fakePrice) Current(ctx context.Context) models.Quote {
	return models.Quote{Price: p.price}
}

type recordingEmitter struct {
	mu  sync.Mutex
	got []models.Notification
}

func (e *recordingEmitter) Emit(ctx context.Context, n models.Notification) models.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, n)
	return n
}

type memLedger struct {
	ledger.NoopRecorder
	rounds []ledger.RoundEntry
}

func (l *memLedger) RecordRound(ctx context.Context, e *ledger.RoundEntry) error {
	l.rounds = append(l.rounds, *e)
	return nil
}

type harness struct {
	m      *Machine
	wallet *fakeWallet
	price  *fakePrice
	notes  *recordingEmitter
	ledger *memLedger
}

func newHarness(t *testing.T, balance int64, store kv.Store) *harness {
	t.Helper()
	h := &harness{
		wallet: &fakeWallet{balance: balance},
		price:  &fakePrice{price: 100},
		notes:  &recordingEmitter{},
		ledger: &memLedger{},
	}
	h.m = NewMachine("alice", h.wallet, h.price, h.notes, Options{Store: store, Ledger: h.ledger})
	return h
}

func (h *harness) ticks(n int) models.RoundView {
	var v models.RoundView
	for i := 0; i < n; i++ {
		v = h.m.Tick(context.Background())
	}
	return v
}

func TestConfirm_DebitsRiskAndStarts(t *testing.T) {
	h := newHarness(t, 1000, nil)

	v, err := h.m.Confirm(context.Background(), models.Wager{Direction: models.Bullish, Amount: 200, Leverage: 5})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if v.State != models.StateActive || v.Round == nil {
		t.Fatalf("view = %+v", v)
	}
	if h.wallet.balance != 0 || len(h.wallet.debits) != 1 || h.wallet.debits[0] != 1000 {
		t.Errorf("balance=%d debits=%v", h.wallet.balance, h.wallet.debits)
	}
	if v.Round.StartPrice != 100 || v.Round.Remaining != 15 || v.Round.DurationSeconds != 15 {
		t.Errorf("round = %+v", v.Round)
	}
	if v.Form != (models.Wager{}) {
		t.Errorf("form should be cleared, got %+v", v.Form)
	}
}

func TestConfirm_InsufficientBalance(t *testing.T) {
	h := newHarness(t, 999, nil)

	_, err := h.m.Confirm(context.Background(), models.Wager{Direction: models.Bullish, Amount: 200, Leverage: 5})
	var ve *risk.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Msg != "Insufficient points for 5X leverage. Need 1000 points." {
		t.Errorf("msg = %q", ve.Msg)
	}
	if h.m.Snapshot().State != models.StateIdle || len(h.wallet.debits) != 0 {
		t.Error("rejected confirm must not change state or balance")
	}
}

func TestConfirm_RejectsWhileActive(t *testing.T) {
	h := newHarness(t, 5000, nil)
	w := models.Wager{Direction: models.Bearish, Amount: 100, Leverage: 2}
	if _, err := h.m.Confirm(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	if _, err := h.m.Confirm(context.Background(), w); !errors.Is(err, ErrRoundInProgress) {
		t.Fatalf("second confirm err = %v", err)
	}
	if _, err := h.m.Arm(w); !errors.Is(err, ErrRoundInProgress) {
		t.Fatalf("arm during round err = %v", err)
	}
	if len(h.wallet.debits) != 1 {
		t.Errorf("debits = %v", h.wallet.debits)
	}
}

func TestArm(t *testing.T) {
	h := newHarness(t, 1000, nil)
	v, err := h.m.Arm(models.Wager{Direction: models.Bullish})
	if err != nil || v.State != models.StateArmed {
		t.Fatalf("arm: %+v %v", v, err)
	}
	v, _ = h.m.Arm(models.Wager{})
	if v.State != models.StateIdle {
		t.Fatalf("empty arm state = %s", v.State)
	}
}

func TestRound_WinCreditsPayout(t *testing.T) {
	h := newHarness(t, 1000, nil)
	ctx := context.Background()
	h.m.Confirm(ctx, models.Wager{Direction: models.Bullish, Amount: 200, Leverage: 5})

	v := h.ticks(14)
	if v.State != models.StateActive || v.Round.Remaining != 1 {
		t.Fatalf("after 14 ticks: %+v", v)
	}

	h.price.price = 105
	v = h.m.Tick(ctx)
	if v.State != models.StateResolving || v.Round.Outcome != models.Win {
		t.Fatalf("after expiry: %+v", v.Round)
	}
	if h.wallet.balance != 2000 {
		t.Errorf("balance = %d, want 2000 (net +1000)", h.wallet.balance)
	}
	rec := h.wallet.outcomes[0]
	if rec.PointsDelta != 2000 || rec.RiskAmount != 1000 || rec.Outcome != models.Win {
		t.Errorf("outcome record = %+v", rec)
	}

	n := h.notes.got[0]
	if n.Type != models.NotifyPredictionWin || *n.Points != 2000 || n.Priority != models.PriorityHigh || n.AutoDismiss {
		t.Errorf("settlement notice = %+v", n)
	}
	if n.Prediction == nil || n.Prediction.StartPrice != 100 || n.Prediction.EndPrice != 105 {
		t.Errorf("prediction detail = %+v", n.Prediction)
	}
	if len(h.ledger.rounds) != 1 || h.ledger.rounds[0].BalanceAfter != 2000 {
		t.Errorf("ledger = %+v", h.ledger.rounds)
	}

	v = h.ticks(3)
	if v.State != models.StateResolving {
		t.Fatalf("still displaying after 3 ticks, got %s", v.State)
	}
	v = h.ticks(1)
	if v.State != models.StateIdle || v.Round != nil {
		t.Fatalf("should clear after display window: %+v", v)
	}
	if len(h.notes.got) != 1 {
		t.Errorf("small win should not emit a bonus, got %d notices", len(h.notes.got))
	}
}

func TestRound_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		dir     models.Direction
		end     float64
		want    models.Outcome
		balance int64
	}{
		{"bull up", models.Bullish, 105, models.Win, 1200},
		{"bull flat", models.Bullish, 100, models.Lose, 800},
		{"bull down", models.Bullish, 95, models.Lose, 800},
		{"bear down", models.Bearish, 95, models.Win, 1200},
		{"bear flat", models.Bearish, 100, models.Lose, 800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1000, nil)
			h.m.Confirm(context.Background(), models.Wager{Direction: tt.dir, Amount: 100, Leverage: 2})
			h.price.price = tt.end
			v := h.ticks(15)
			if v.Round.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", v.Round.Outcome, tt.want)
			}
			if h.wallet.balance != tt.balance {
				t.Errorf("balance = %d, want %d", h.wallet.balance, tt.balance)
			}
		})
	}
}

func TestRound_LossNotice(t *testing.T) {
	h := newHarness(t, 1000, nil)
	h.m.Confirm(context.Background(), models.Wager{Direction: models.Bearish, Amount: 100, Leverage: 10})
	h.price.price = 101
	h.ticks(15)

	n := h.notes.got[0]
	if n.Type != models.NotifyPredictionLoss || *n.Points != -1000 || n.Priority != models.PriorityMedium || !n.AutoDismiss {
		t.Errorf("loss notice = %+v", n)
	}
	if n.Message != "Better luck next time! Your bearish prediction with 10X leverage didn't pan out." {
		t.Errorf("message = %q", n.Message)
	}
}

func TestRound_BigWinBonusAfterDelay(t *testing.T) {
	h := newHarness(t, 10000, nil)
	h.m.Confirm(context.Background(), models.Wager{Direction: models.Bullish, Amount: 500, Leverage: 10})
	h.price.price = 150
	h.ticks(15)
	if len(h.notes.got) != 1 {
		t.Fatalf("settlement only at resolution, got %d", len(h.notes.got))
	}

	h.ticks(1)
	if len(h.notes.got) != 1 {
		t.Fatal("bonus fired too early")
	}
	h.ticks(1)
	if len(h.notes.got) != 2 {
		t.Fatalf("bonus should fire two ticks after resolution, got %d", len(h.notes.got))
	}
	bonus := h.notes.got[1]
	if bonus.Title != "Big Win Bonus! 🚀" || bonus.Milestone != 10000 {
		t.Errorf("bonus = %+v", bonus)
	}
	t.Logf("bonus message: %s", bonus.Message)
}

func TestRound_BigWinSurvivesShortDisplay(t *testing.T) {
	notes := &recordingEmitter{}
	price := &fakePrice{price: 100}
	m := NewMachine("alice", &fakeWallet{balance: 10000}, price, notes,
		Options{DisplaySeconds: 2, BigWinDelaySeconds: 5})
	ctx := context.Background()

	if _, err := m.Confirm(ctx, models.Wager{Direction: models.Bullish, Amount: 500, Leverage: 10}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	price.price = 150
	for i := 0; i < 15; i++ {
		m.Tick(ctx)
	}
	m.Tick(ctx)
	v := m.Tick(ctx)
	if v.State != models.StateIdle {
		t.Fatalf("state = %s, want idle after display window", v.State)
	}
	if len(notes.got) != 2 || notes.got[1].Title != "Big Win Bonus! 🚀" {
		t.Fatalf("bonus lost when display ended first: %+v", notes.got)
	}
	m.Tick(ctx)
	m.Tick(ctx)
	m.Tick(ctx)
	if len(notes.got) != 2 {
		t.Errorf("bonus emitted twice: %d notices", len(notes.got))
	}
}

func TestRestore_ResumesActiveRound(t *testing.T) {
	store := kv.NewMemoryStore(16)
	start := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	now := start

	h := newHarness(t, 1000, store)
	h.m.opts.Now = func() time.Time { return now }
	h.m.Confirm(context.Background(), models.Wager{Direction: models.Bullish, Amount: 100, Leverage: 2})

	now = start.Add(6 * time.Second)
	h2 := newHarness(t, 800, store)
	h2.m.opts.Now = func() time.Time { return now }
	if !h2.m.Restore(context.Background()) {
		t.Fatal("expected restore")
	}
	v := h2.m.Snapshot()
	if v.State != models.StateActive || v.Round.Remaining != 9 {
		t.Fatalf("restored view = %+v", v.Round)
	}

	h2.price.price = 110
	v = h2.ticks(9)
	if v.State != models.StateResolving || v.Round.Outcome != models.Win {
		t.Fatalf("restored round did not settle: %+v", v)
	}
	if raw, _ := store.Get(context.Background(), kv.RoundKey("alice")); raw != nil {
		t.Error("settled round should be removed from the store")
	}
}

func TestRestore_NothingSaved(t *testing.T) {
	h := newHarness(t, 1000, kv.NewMemoryStore(16))
	if h.m.Restore(context.Background()) {
		t.Fatal("nothing to restore")
	}
}

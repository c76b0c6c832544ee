package round

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/ledger"
	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/reconcile"
	"github.com/kjannette/bitmage-backend/internal/risk"
	"github.com/kjannette/bitmage-backend/internal/strategy"
)

// ErrRoundInProgress is returned when the form is touched while a round runs.
var ErrRoundInProgress = errors.New("a prediction round is already in progress")

// PriceSource supplies the live price.
type PriceSource interface {
	Current(ctx context.Context) models.Quote
}

// Wallet is the balance owner as the machine sees it.
type Wallet interface {
	risk.BalanceSource
	Debit(ctx context.Context, amount int64, source string) int64
	RecordOutcome(ctx context.Context, rec models.OutcomeRecord, source string) int64
}

// Emitter receives settlement notifications.
type Emitter interface {
	Emit(ctx context.Context, n models.Notification) models.Notification
}

type Options struct {
	DurationSeconds    int
	DisplaySeconds     int
	BigWinDelaySeconds int
	Limits             risk.Limits
	Store              kv.Store
	Ledger             ledger.Recorder
	Now                func() time.Time
}

// Machine runs one user's prediction rounds. It is driven by Tick, one call
// per second, and never overlaps two rounds.
type Machine struct {
	mu     sync.Mutex
	userID string
	opts   Options
	log    zerolog.Logger

	guardian *risk.Guardian
	wallet   Wallet
	prices   PriceSource
	notes    Emitter

	state   models.RoundState
	form    models.Wager
	round   *models.PredictionRound
	display int
	bonusIn int
}

func NewMachine(userID string, wallet Wallet, prices PriceSource, notes Emitter, opts Options) *Machine {
	if opts.DurationSeconds <= 0 {
		opts.DurationSeconds = strategy.RoundDurationSeconds
	}
	if opts.DisplaySeconds <= 0 {
		opts.DisplaySeconds = strategy.DisplaySeconds
	}
	if opts.BigWinDelaySeconds <= 0 {
		opts.BigWinDelaySeconds = strategy.BigWinDelaySeconds
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NoopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{
		userID:   userID,
		opts:     opts,
		log:      logging.For("round").With().Str("user", userID).Logger(),
		guardian: risk.NewGuardian(opts.Limits, wallet),
		wallet:   wallet,
		prices:   prices,
		notes:    notes,
		state:    models.StateIdle,
	}
}

// Snapshot returns the current state, form and round.
func (m *Machine) Snapshot() models.RoundView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Machine) viewLocked() models.RoundView {
	v := models.RoundView{State: m.state, Form: m.form}
	if m.round != nil {
		r := *m.round
		v.Round = &r
	}
	return v
}

// Arm stores partial form input. An empty form returns the machine to Idle.
func (m *Machine) Arm(w models.Wager) (models.RoundView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busyLocked() {
		return m.viewLocked(), ErrRoundInProgress
	}
	m.form = w
	if w == (models.Wager{}) {
		m.state = models.StateIdle
	} else {
		m.state = models.StateArmed
	}
	return m.viewLocked(), nil
}

// Confirm validates w, debits the risk amount and starts the countdown.
// A *risk.ValidationError leaves the machine untouched.
func (m *Machine) Confirm(ctx context.Context, w models.Wager) (models.RoundView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busyLocked() {
		return m.viewLocked(), ErrRoundInProgress
	}
	if err := m.guardian.CheckWager(w); err != nil {
		return m.viewLocked(), err
	}

	riskAmount := w.RiskAmount()
	balance := m.wallet.Debit(ctx, riskAmount, reconcile.SourceWager)
	quote := m.prices.Current(ctx)
	now := m.opts.Now()

	m.round = &models.PredictionRound{
		ID:              uuid.NewString(),
		UserID:          m.userID,
		Direction:       w.Direction,
		WagerAmount:     w.Amount,
		Leverage:        w.Leverage,
		StartPrice:      quote.Price,
		StartTimestamp:  now.UnixMilli(),
		DurationSeconds: m.opts.DurationSeconds,
		Remaining:       m.opts.DurationSeconds,
	}
	m.state = models.StateActive
	m.form = models.Wager{}
	m.persistLocked(ctx)

	m.log.Info().Str("round", m.round.ID).Str("direction", string(w.Direction)).
		Int64("wager", w.Amount).Int("leverage", w.Leverage).Float64("start", quote.Price).
		Int64("balance", balance).Msg("round started")
	return m.viewLocked(), nil
}

// Tick advances the machine by one second.
func (m *Machine) Tick(ctx context.Context) models.RoundView {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case models.StateActive:
		m.round.Remaining--
		if m.round.Remaining <= 0 {
			m.round.Remaining = 0
			m.resolveLocked(ctx)
		}
	case models.StateResolving:
		if m.bonusIn > 0 {
			m.bonusIn--
			if m.bonusIn == 0 {
				m.notes.Emit(ctx, bigWinNotice(m.round.Payout))
			}
		}
		m.display--
		if m.display <= 0 {
			m.clearLocked(ctx)
		}
	}
	return m.viewLocked()
}

func (m *Machine) resolveLocked(ctx context.Context) {
	r := m.round
	r.EndPrice = m.prices.Current(ctx).Price
	r.Outcome = strategy.Resolve(r.Direction, r.StartPrice, r.EndPrice)
	win := r.Outcome == models.Win
	if win {
		r.Payout = strategy.Payout(r.WagerAmount, r.Leverage)
	}

	balance := m.wallet.RecordOutcome(ctx, models.OutcomeRecord{
		Wager:       r.WagerAmount,
		Leverage:    r.Leverage,
		Direction:   r.Direction,
		Outcome:     r.Outcome,
		PointsDelta: r.Payout,
		RiskAmount:  r.RiskAmount(),
	}, reconcile.SourceSettlement)

	m.notes.Emit(ctx, settlementNotice(r))

	m.state = models.StateResolving
	m.display = m.opts.DisplaySeconds
	m.bonusIn = 0
	if win && strategy.IsBigWin(r.Payout) {
		m.bonusIn = m.opts.BigWinDelaySeconds
	}

	settled := m.opts.Now()
	err := m.opts.Ledger.RecordRound(ctx, &ledger.RoundEntry{
		RoundID:      r.ID,
		UserID:       m.userID,
		Direction:    r.Direction,
		Wager:        r.WagerAmount,
		Leverage:     r.Leverage,
		StartPrice:   r.StartPrice,
		EndPrice:     r.EndPrice,
		Outcome:      r.Outcome,
		Payout:       r.Payout,
		BalanceAfter: balance,
		StartedAt:    time.UnixMilli(r.StartTimestamp),
		SettledAt:    settled,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("round", r.ID).Msg("ledger write failed")
	}
	m.deleteLocked(ctx)

	m.log.Info().Str("round", r.ID).Str("outcome", string(r.Outcome)).
		Float64("start", r.StartPrice).Float64("end", r.EndPrice).
		Int64("payout", r.Payout).Int64("balance", balance).Msg("round settled")
}

// clearLocked ends the display window. A Big Win notice still waiting on its
// delay goes out now.
func (m *Machine) clearLocked(ctx context.Context) {
	if m.bonusIn > 0 && m.round != nil {
		m.notes.Emit(ctx, bigWinNotice(m.round.Payout))
	}
	m.state = models.StateIdle
	m.round = nil
	m.display = 0
	m.bonusIn = 0
	if m.form != (models.Wager{}) {
		m.state = models.StateArmed
	}
}

func (m *Machine) busyLocked() bool {
	return m.state == models.StateActive || m.state == models.StateResolving
}

// Restore resumes an active round saved before a restart. Remaining time is
// recomputed from the start timestamp; an overdue round settles on the next
// Tick.
func (m *Machine) Restore(ctx context.Context) bool {
	if m.opts.Store == nil {
		return false
	}
	var r models.PredictionRound
	ok, err := kv.GetJSON(ctx, m.opts.Store, kv.RoundKey(m.userID), &r)
	if err != nil {
		m.log.Warn().Err(err).Msg("could not load saved round")
		return false
	}
	if !ok || r.ID == "" || !r.Direction.Valid() || !models.ValidLeverage(r.Leverage) {
		return false
	}

	elapsed := int(m.opts.Now().Sub(time.UnixMilli(r.StartTimestamp)) / time.Second)
	r.Remaining = r.DurationSeconds - elapsed
	if r.Remaining < 1 {
		r.Remaining = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyLocked() {
		return false
	}
	m.round = &r
	m.state = models.StateActive
	m.log.Info().Str("round", r.ID).Int("remaining", r.Remaining).Msg("resumed round")
	return true
}

func (m *Machine) persistLocked(ctx context.Context) {
	if m.opts.Store == nil {
		return
	}
	ttl := time.Duration(m.opts.DurationSeconds)*time.Second + time.Hour
	if err := kv.SetJSON(ctx, m.opts.Store, kv.RoundKey(m.userID), m.round, ttl); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist round")
	}
}

func (m *Machine) deleteLocked(ctx context.Context) {
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.Delete(ctx, kv.RoundKey(m.userID)); err != nil {
		m.log.Warn().Err(err).Msg("failed to delete saved round")
	}
}

func settlementNotice(r *models.PredictionRound) models.Notification {
	label := strings.ToLower(r.Direction.Label())
	n := models.Notification{
		Prediction: &models.PredictionDetail{
			Type:       r.Direction,
			Amount:     r.WagerAmount,
			Leverage:   r.Leverage,
			StartPrice: r.StartPrice,
			EndPrice:   r.EndPrice,
		},
	}
	if r.Outcome == models.Win {
		n.Type = models.NotifyPredictionWin
		n.Title = "Prediction Won! 🎉"
		n.Message = fmt.Sprintf("Excellent prediction! Your %s call with %dX leverage paid off!", label, r.Leverage)
		n.Points = models.Pts(r.Payout)
		n.Priority = models.PriorityHigh
		return n
	}
	n.Type = models.NotifyPredictionLoss
	n.Title = "Prediction Lost 😔"
	n.Message = fmt.Sprintf("Better luck next time! Your %s prediction with %dX leverage didn't pan out.", label, r.Leverage)
	n.Points = models.Pts(-r.RiskAmount())
	n.Priority = models.PriorityMedium
	n.AutoDismiss = true
	return n
}

func bigWinNotice(payout int64) models.Notification {
	return models.Notification{
		Type:      models.NotifyMilestone,
		Title:     "Big Win Bonus! 🚀",
		Message:   fmt.Sprintf("Incredible! You just won %s points in a single trade!", humanize.Comma(payout)),
		Priority:  models.PriorityHigh,
		Milestone: payout,
	}
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/bitmage-backend/internal/httputil"
	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/models"
)

// ErrOffline is returned for remote calls when no backend is bound.
var ErrOffline = errors.New("points backend not configured")

// permanentError marks a backend rejection that a retry cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent wraps err so the reconciler drops the mutation instead of
// queueing it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is a rejection rather than an outage:
// anything marked with a Permanent() method, or a 4xx status other than
// 408 and 429.
func IsPermanent(err error) bool {
	if err == nil || errors.Is(err, ErrOffline) {
		return false
	}
	var p interface{ Permanent() bool }
	if errors.As(err, &p) && p.Permanent() {
		return true
	}
	var se *httputil.StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 &&
			se.Code != http.StatusRequestTimeout && se.Code != http.StatusTooManyRequests
	}
	return false
}

// BalanceStore is the authoritative balance owner. All calls must honour ctx.
type BalanceStore interface {
	GetBalance(ctx context.Context) (int64, error)
	SetBalance(ctx context.Context, balance int64) (int64, error)
	AdjustBalance(ctx context.Context, op models.BalanceOp, amount int64) (int64, error)
}

// StatsStore records settled rounds and returns the new balance and aggregates.
type StatsStore interface {
	RecordOutcome(ctx context.Context, rec models.OutcomeRecord) (*models.OutcomeResult, error)
	GetStats(ctx context.Context) (*models.PredictionStats, error)
}

type MutationKind string

const (
	KindAdjust  MutationKind = "adjust"
	KindSet     MutationKind = "set"
	KindOutcome MutationKind = "outcome"
)

// Mutation is a balance change that could not reach the backend yet.
type Mutation struct {
	Kind   MutationKind          `json:"kind"`
	Op     models.BalanceOp      `json:"op,omitempty"`
	Amount int64                 `json:"amount,omitempty"`
	Record *models.OutcomeRecord `json:"record,omitempty"`
	At     time.Time             `json:"at"`
}

// Change sources.
const (
	SourceWager      = "wager"
	SourceSettlement = "settlement"
	SourceDaily      = "claim_daily"
	SourceStreak     = "claim_streak"
	SourceTier       = "claim_tier"
	SourceSet        = "set"
	SourceSync       = "sync"
)

// Change is delivered to observers after every mutation or sync.
type Change struct {
	Old    int64
	New    int64
	Source string
}

type Observer func(Change)

type Options struct {
	Timeout         time.Duration
	StartingBalance int64
	Store           kv.Store // optional, persists local state across restarts
	Key             string
	Now             func() time.Time
}

type snapshot struct {
	Balance int64                  `json:"balance"`
	Stats   models.PredictionStats `json:"stats"`
	Pending []Mutation             `json:"pending"`
}

// Reconciler keeps an optimistic local balance in front of the authoritative
// store. When a remote call fails the change is applied locally, queued, and
// replayed in order by Sync once the backend answers again.
type Reconciler struct {
	mu       sync.Mutex
	balances BalanceStore
	stats    StatsStore
	opts     Options
	log      zerolog.Logger

	balance   int64
	agg       models.PredictionStats
	pending   []Mutation
	observers []Observer
}

func New(balances BalanceStore, stats StatsStore, opts Options) *Reconciler {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		balances: balances,
		stats:    stats,
		opts:     opts,
		log:      logging.For("reconcile"),
		balance:  opts.StartingBalance,
	}
}

// Init restores persisted local state and tries one sync with the backend.
// A failed sync is not an error: the reconciler keeps serving local state.
func (r *Reconciler) Init(ctx context.Context) error {
	r.mu.Lock()
	if r.opts.Store != nil && r.opts.Key != "" {
		var snap snapshot
		ok, err := kv.GetJSON(ctx, r.opts.Store, r.opts.Key, &snap)
		if err != nil {
			r.log.Warn().Err(err).Msg("local balance snapshot unavailable")
		}
		if ok {
			r.balance = snap.Balance
			r.agg = snap.Stats
			r.pending = snap.Pending
			r.log.Info().Int64("balance", r.balance).Int("pending", len(r.pending)).Msg("restored local balance")
		}
	}
	r.mu.Unlock()

	if err := r.Sync(ctx); err != nil {
		r.log.Warn().Err(err).Msg("initial sync failed, continuing with local balance")
	}
	return nil
}

func (r *Reconciler) OnChange(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

func (r *Reconciler) Balance() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance
}

func (r *Reconciler) Stats() models.PredictionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agg
}

func (r *Reconciler) Pending() []Mutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mutation(nil), r.pending...)
}

func (r *Reconciler) Debit(ctx context.Context, amount int64, source string) int64 {
	return r.mutate(ctx, Mutation{Kind: KindAdjust, Op: models.OpSubtract, Amount: amount}, source)
}

func (r *Reconciler) Credit(ctx context.Context, amount int64, source string) int64 {
	return r.mutate(ctx, Mutation{Kind: KindAdjust, Op: models.OpAdd, Amount: amount}, source)
}

func (r *Reconciler) Set(ctx context.Context, balance int64, source string) int64 {
	return r.mutate(ctx, Mutation{Kind: KindSet, Amount: balance}, source)
}

// RecordOutcome reports a settled round. The backend adds PointsDelta to the
// balance; locally the same arithmetic is applied on failure.
func (r *Reconciler) RecordOutcome(ctx context.Context, rec models.OutcomeRecord, source string) int64 {
	return r.mutate(ctx, Mutation{Kind: KindOutcome, Record: &rec}, source)
}

// Adopt accepts an authoritative balance obtained outside the reconciler,
// e.g. from a claim endpoint. It is ignored while mutations are pending.
func (r *Reconciler) Adopt(balance int64, source string) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		r.mu.Unlock()
		return
	}
	old := r.balance
	r.balance = balance
	r.persistLocked(context.Background())
	r.mu.Unlock()
	r.notify(Change{Old: old, New: balance, Source: source})
}

// Sync replays pending mutations in order, stopping at the first failure, and
// then adopts the authoritative balance.
func (r *Reconciler) Sync(ctx context.Context) error {
	r.mu.Lock()
	old := r.balance
	err := r.replayLocked(ctx)
	if err == nil && r.balances != nil {
		tctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		bal, gerr := r.balances.GetBalance(tctx)
		cancel()
		if gerr != nil {
			err = fmt.Errorf("get balance: %w", gerr)
		} else {
			r.balance = bal
		}
	}
	if err == nil && r.stats != nil {
		tctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		st, serr := r.stats.GetStats(tctx)
		cancel()
		if serr == nil && st != nil {
			r.agg = *st
		}
	}
	r.persistLocked(ctx)
	cur := r.balance
	r.mu.Unlock()

	r.notify(Change{Old: old, New: cur, Source: SourceSync})
	return err
}

func (r *Reconciler) mutate(ctx context.Context, m Mutation, source string) int64 {
	m.At = r.opts.Now()

	r.mu.Lock()
	old := r.balance

	if len(r.pending) > 0 {
		if err := r.replayLocked(ctx); err != nil {
			r.log.Debug().Err(err).Msg("backend still unreachable")
		}
	}

	if len(r.pending) == 0 {
		err := r.sendLocked(ctx, m)
		switch {
		case errors.Is(err, ErrOffline):
			r.applyLocalLocked(m)
		case IsPermanent(err):
			r.log.Warn().Err(err).Str("kind", string(m.Kind)).Str("source", source).
				Msg("backend rejected mutation, dropping it")
			r.resyncLocked(ctx)
		case err != nil:
			r.log.Warn().Err(err).Str("kind", string(m.Kind)).Str("source", source).
				Msg("backend call failed, applying locally")
			r.applyLocalLocked(m)
			r.pending = append(r.pending, m)
		}
	} else {
		r.applyLocalLocked(m)
		r.pending = append(r.pending, m)
	}

	r.persistLocked(ctx)
	cur := r.balance
	r.mu.Unlock()

	r.notify(Change{Old: old, New: cur, Source: source})
	return cur
}

// sendLocked performs m against the backend and adopts the returned balance.
func (r *Reconciler) sendLocked(ctx context.Context, m Mutation) error {
	tctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	switch m.Kind {
	case KindAdjust:
		if r.balances == nil {
			return ErrOffline
		}
		bal, err := r.balances.AdjustBalance(tctx, m.Op, m.Amount)
		if err != nil {
			return err
		}
		r.balance = bal
	case KindSet:
		if r.balances == nil {
			return ErrOffline
		}
		bal, err := r.balances.SetBalance(tctx, m.Amount)
		if err != nil {
			return err
		}
		r.balance = bal
	case KindOutcome:
		if r.stats == nil {
			return ErrOffline
		}
		res, err := r.stats.RecordOutcome(tctx, *m.Record)
		if err != nil {
			return err
		}
		r.balance = res.Balance
		r.agg = res.Stats
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	return nil
}

func (r *Reconciler) applyLocalLocked(m Mutation) {
	switch m.Kind {
	case KindAdjust:
		r.balance = models.ApplyBalance(r.balance, m.Op, m.Amount)
	case KindSet:
		r.balance = models.ApplyBalance(m.Amount, "", 0)
	case KindOutcome:
		r.balance = models.ApplyBalance(r.balance, models.OpAdd, m.Record.PointsDelta)
		r.agg.Apply(*m.Record)
	}
}

// replayLocked sends queued mutations in order. A rejected mutation is
// dropped; when the queue drains after a drop the balance is refetched so the
// rejected local effect does not linger.
func (r *Reconciler) replayLocked(ctx context.Context) error {
	dropped := false
	for len(r.pending) > 0 {
		m := r.pending[0]
		err := r.sendLocked(ctx, m)
		switch {
		case err == nil:
			r.log.Info().Int("remaining", len(r.pending)-1).Msg("replayed pending mutation")
		case IsPermanent(err):
			r.log.Warn().Err(err).Str("kind", string(m.Kind)).Msg("backend rejected queued mutation, dropping it")
			dropped = true
		default:
			return fmt.Errorf("replay %s: %w", m.Kind, err)
		}
		r.pending = r.pending[1:]
	}
	r.pending = nil
	if dropped {
		r.resyncLocked(ctx)
	}
	return nil
}

// resyncLocked adopts the authoritative balance, keeping the local one when
// the backend cannot be read.
func (r *Reconciler) resyncLocked(ctx context.Context) {
	if r.balances == nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	bal, err := r.balances.GetBalance(tctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("balance resync failed")
		return
	}
	r.balance = bal
}

func (r *Reconciler) persistLocked(ctx context.Context) {
	if r.opts.Store == nil || r.opts.Key == "" {
		return
	}
	snap := snapshot{Balance: r.balance, Stats: r.agg, Pending: r.pending}
	if err := kv.SetJSON(ctx, r.opts.Store, r.opts.Key, snap, 0); err != nil {
		r.log.Warn().Err(err).Msg("failed to persist local balance")
	}
}

func (r *Reconciler) notify(c Change) {
	if c.Old == c.New {
		return
	}
	r.mu.Lock()
	obs := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range obs {
		o(c)
	}
}

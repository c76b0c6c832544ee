package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog"

	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/ledger"
	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/notify"
	"github.com/kjannette/bitmage-backend/internal/reconcile"
	"github.com/kjannette/bitmage-backend/internal/rewards"
	"github.com/kjannette/bitmage-backend/internal/round"
)

// claimState mirrors the claim bookkeeping locally so claims keep working
// while the backend is unreachable.
type claimState struct {
	LastDaily *time.Time         `json:"lastDaily,omitempty"`
	Streak    models.StreakState `json:"streak"`
	Tiers     []string           `json:"tiers"`
}

func (c *claimState) hasTier(id string) bool {
	for _, t := range c.Tiers {
		if t == id {
			return true
		}
	}
	return false
}

// Session is one user's game: cached balance, round machine, notifications
// and chart selection.
type Session struct {
	id      Identity
	backend Backend
	store   kv.Store
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger

	Recon   *reconcile.Reconciler
	Round   *round.Machine
	Notes   *notify.Center
	Policy  *notify.Policy
	Chart   *ChartView
	ledger  ledger.Recorder

	mu     sync.Mutex
	claims claimState
}

type sessionDeps struct {
	backend         Backend
	store           kv.Store
	prices          round.PriceSource
	ledger          ledger.Recorder
	sinks           []notify.Sink
	timeout         time.Duration
	startingBalance int64
	roundOpts       round.Options
	defaultPeriod   models.Period
	now             func() time.Time
}

func newSession(id Identity, d sessionDeps) *Session {
	if d.now == nil {
		d.now = time.Now
	}
	if d.timeout <= 0 {
		d.timeout = 5 * time.Second
	}
	s := &Session{
		id:      id,
		backend: d.backend,
		store:   d.store,
		timeout: d.timeout,
		now:     d.now,
		log:     logging.For("session").With().Str("user", id.UserID).Logger(),
		ledger:  d.ledger,
		Chart:   NewChartView(d.defaultPeriod),
	}

	var balances reconcile.BalanceStore
	var stats reconcile.StatsStore
	if d.backend != nil {
		balances, stats = d.backend, d.backend
	}
	s.Recon = reconcile.New(balances, stats, reconcile.Options{
		Timeout:         d.timeout,
		StartingBalance: d.startingBalance,
		Store:           d.store,
		Key:             kv.BalanceKey(id.UserID),
		Now:             d.now,
	})
	s.Notes = notify.NewCenter(id.UserID, d.store, d.sinks...)
	s.Policy = notify.NewPolicy(s.Notes, reconcile.SourceWager, reconcile.SourceSettlement)

	ro := d.roundOpts
	ro.Store = d.store
	ro.Ledger = d.ledger
	if ro.Now == nil {
		ro.Now = d.now
	}
	s.Round = round.NewMachine(id.UserID, s.Recon, d.prices, s.Notes, ro)

	s.Recon.OnChange(s.balanceChanged)
	return s
}

func (s *Session) UserID() string { return s.id.UserID }

// Init restores persisted state and performs a first sync.
func (s *Session) Init(ctx context.Context) {
	s.Notes.Load(ctx)
	s.loadClaims(ctx)
	s.Recon.Init(ctx)
	s.Round.Restore(ctx)
}

func (s *Session) balanceChanged(c reconcile.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.Policy.BalanceChanged(ctx, c.Old, c.New, c.Source)

	if s.ledger == nil {
		return
	}
	err := s.ledger.RecordBalance(ctx, &ledger.BalanceEvent{
		UserID: s.id.UserID, Source: c.Source, Before: c.Old, After: c.New, At: s.now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("ledger balance event failed")
	}
}

func (s *Session) Balance() int64 { return s.Recon.Balance() }

func (s *Session) Stats() models.PredictionStats { return s.Recon.Stats() }

func (s *Session) Subscribe(ch chan<- models.Notification) event.Subscription {
	return s.Notes.Subscribe(ch)
}

// Sync reconciles with the backend and refreshes the claim mirror.
func (s *Session) Sync(ctx context.Context) error {
	err := s.Recon.Sync(ctx)
	if s.backend != nil && err == nil {
		tctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if v, serr := s.backend.GetStreak(tctx); serr == nil {
			s.mu.Lock()
			s.claims.Streak = v.StreakState
			s.persistClaimsLocked(ctx)
			s.mu.Unlock()
		}
	}
	return err
}

// ClaimDaily awards the daily bonus. Backend rejections are returned as is;
// an unreachable backend falls back to the local cooldown.
func (s *Session) ClaimDaily(ctx context.Context) (*models.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	res, err := s.remoteClaim(ctx, func(ctx context.Context) (*models.ClaimResult, error) {
		return s.backend.ClaimDaily(ctx)
	})
	switch {
	case err == nil:
		s.Recon.Adopt(res.Balance, reconcile.SourceDaily)
	case isRejection(err):
		return nil, err
	default:
		if cerr := rewards.CheckCooldown(s.claims.LastDaily, now); cerr != nil {
			return nil, cerr
		}
		bal := s.Recon.Credit(ctx, rewards.DailyPoints, reconcile.SourceDaily)
		res = &models.ClaimResult{Balance: bal, PointsAwarded: rewards.DailyPoints, ClaimedAt: now}
	}

	s.claims.LastDaily = &now
	s.persistClaimsLocked(ctx)
	s.Notes.Emit(ctx, rewards.DailyNotice())
	return res, nil
}

// Streak returns the streak state as the session knows it.
func (s *Session) Streak(ctx context.Context) models.StreakView {
	if s.backend != nil {
		tctx, cancel := context.WithTimeout(ctx, s.timeout)
		v, err := s.backend.GetStreak(tctx)
		cancel()
		if err == nil {
			s.mu.Lock()
			s.claims.Streak = v.StreakState
			s.mu.Unlock()
			return *v
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return rewards.ViewStreak(s.claims.Streak, s.now())
}

// ClaimStreak claims the next day of the streak cycle.
func (s *Session) ClaimStreak(ctx context.Context) (*models.ClaimResult, error) {
	view := s.Streak(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	day := view.NextDay

	res, err := s.remoteClaim(ctx, func(ctx context.Context) (*models.ClaimResult, error) {
		return s.backend.ClaimStreak(ctx, day)
	})
	switch {
	case err == nil:
		s.Recon.Adopt(res.Balance, reconcile.SourceStreak)
		if _, lerr := rewards.ClaimStreak(&s.claims.Streak, day, now); lerr != nil {
			s.claims.Streak.CurrentStreak = day
			s.claims.Streak.LastClaim = &now
		}
	case isRejection(err):
		return nil, err
	default:
		points, lerr := rewards.ClaimStreak(&s.claims.Streak, rewards.NextStreakDay(s.claims.Streak.CurrentStreak), now)
		if lerr != nil {
			return nil, lerr
		}
		day = s.claims.Streak.CurrentStreak
		bal := s.Recon.Credit(ctx, points, reconcile.SourceStreak)
		res = &models.ClaimResult{Balance: bal, PointsAwarded: points, ClaimedAt: now, StreakDay: day}
	}

	s.persistClaimsLocked(ctx)
	s.Notes.Emit(ctx, rewards.StreakNotice(day, res.PointsAwarded))
	return res, nil
}

// ClaimTier credits an avatar tier bonus.
func (s *Session) ClaimTier(ctx context.Context, tierID string) (*models.ClaimResult, error) {
	tier, ok := rewards.TierByID(tierID)
	if !ok {
		return nil, rewards.ErrUnknownTier
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	res, err := s.remoteClaim(ctx, func(ctx context.Context) (*models.ClaimResult, error) {
		return s.backend.ClaimTier(ctx, tier.ID)
	})
	switch {
	case err == nil:
		s.Recon.Adopt(res.Balance, reconcile.SourceTier)
	case isRejection(err):
		return nil, err
	default:
		if cerr := rewards.CheckTier(tier, s.Recon.Stats().Wins, s.claims.hasTier(tier.ID)); cerr != nil {
			return nil, cerr
		}
		bal := s.Recon.Credit(ctx, tier.Bonus, reconcile.SourceTier)
		res = &models.ClaimResult{Balance: bal, PointsAwarded: tier.Bonus, ClaimedAt: now, Tier: tier.ID}
	}

	if !s.claims.hasTier(tier.ID) {
		s.claims.Tiers = append(s.claims.Tiers, tier.ID)
	}
	s.persistClaimsLocked(ctx)
	s.Notes.Emit(ctx, rewards.TierNotice(tier))
	return res, nil
}

var errNoBackend = errors.New("no backend")

func (s *Session) remoteClaim(ctx context.Context, call func(context.Context) (*models.ClaimResult, error)) (*models.ClaimResult, error) {
	if s.backend == nil {
		return nil, errNoBackend
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := call(tctx)
	if err != nil && !isRejection(err) {
		s.log.Warn().Err(err).Msg("claim backend failed, applying locally")
	}
	return res, err
}

func isRejection(err error) bool {
	return errors.Is(err, rewards.ErrCooldown) ||
		errors.Is(err, rewards.ErrInvalidStreakDay) ||
		errors.Is(err, rewards.ErrUnknownTier) ||
		errors.Is(err, rewards.ErrTierLocked) ||
		errors.Is(err, rewards.ErrTierClaimed)
}

func (s *Session) loadClaims(ctx context.Context) {
	if s.store == nil {
		return
	}
	var c claimState
	ok, err := kv.GetJSON(ctx, s.store, kv.ClaimsKey(s.id.UserID), &c)
	if err != nil {
		s.log.Warn().Err(err).Msg("could not load claim state")
		return
	}
	if ok {
		s.mu.Lock()
		s.claims = c
		s.mu.Unlock()
	}
}

func (s *Session) persistClaimsLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := kv.SetJSON(ctx, s.store, kv.ClaimsKey(s.id.UserID), s.claims, 0); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist claim state")
	}
}

// Close waits for in-flight notification deliveries.
func (s *Session) Close() {
	s.Notes.Flush()
}

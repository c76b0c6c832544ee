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
	"github.com/kjannette/bitmage-backend/internal/market"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/notify"
	"github.com/kjannette/bitmage-backend/internal/risk"
	"github.com/kjannette/bitmage-backend/internal/round"
)

var ErrNoUser = errors.New("missing user id")

type Options struct {
	Backends        BackendFactory
	Ledger          ledger.Recorder
	Sinks           []notify.Sink
	Timeout         time.Duration
	StartingBalance int64
	Limits          risk.Limits
	DefaultPeriod   models.Period
	Now             func() time.Time
}

// Service owns the shared price engine and every user's session. The
// scheduler drives it through TickRounds, TickPrice, RefreshCharts,
// SyncAll and Rollover.
type Service struct {
	engine *market.Engine
	store  kv.Store
	opts   Options
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	prices notify.Fanout[models.Quote]
}

func NewService(engine *market.Engine, store kv.Store, opts Options) *Service {
	if opts.Backends == nil {
		opts.Backends = Offline()
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NoopRecorder{}
	}
	if opts.DefaultPeriod == "" {
		opts.DefaultPeriod = models.Period1D
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		engine:   engine,
		store:    store,
		opts:     opts,
		log:      logging.For("game"),
		sessions: make(map[string]*Session),
	}
}

func (s *Service) Engine() *market.Engine { return s.engine }

func (s *Service) Ledger() ledger.Recorder { return s.opts.Ledger }

// Session returns the user's session, creating and initializing it on first use.
func (s *Service) Session(ctx context.Context, id Identity) (*Session, error) {
	if id.UserID == "" {
		return nil, ErrNoUser
	}

	s.mu.Lock()
	if sess, ok := s.sessions[id.UserID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	sess := newSession(id, sessionDeps{
		backend:         s.opts.Backends(id),
		store:           s.store,
		prices:          s.engine,
		ledger:          s.opts.Ledger,
		sinks:           s.opts.Sinks,
		timeout:         s.opts.Timeout,
		startingBalance: s.opts.StartingBalance,
		roundOpts:       round.Options{Limits: s.opts.Limits},
		defaultPeriod:   s.opts.DefaultPeriod,
		now:             s.opts.Now,
	})
	s.sessions[id.UserID] = sess
	s.mu.Unlock()

	sess.Init(ctx)
	s.log.Info().Str("user", id.UserID).Int64("balance", sess.Balance()).Msg("session opened")
	return sess, nil
}

func (s *Service) snapshot() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SubscribePrices delivers every price tick. Ticks a full channel cannot take
// are skipped.
func (s *Service) SubscribePrices(ch chan<- models.Quote) event.Subscription {
	return s.prices.Subscribe(ch)
}

// TickRounds advances every session's round countdown by one second.
func (s *Service) TickRounds(ctx context.Context) {
	for _, sess := range s.snapshot() {
		sess.Round.Tick(ctx)
	}
}

// TickPrice advances the feed and moves every chart tip to the new price.
func (s *Service) TickPrice(ctx context.Context) models.Quote {
	q := s.engine.Tick(ctx)
	for _, sess := range s.snapshot() {
		sess.Chart.UpdateTip(q.Price)
	}
	s.prices.Send(q)
	return q
}

// RefreshCharts regenerates each session's selected series.
func (s *Service) RefreshCharts(ctx context.Context) {
	for _, sess := range s.snapshot() {
		sess.Chart.Refresh(ctx, s.engine)
	}
}

// SyncAll reconciles each session with its backend and sweeps expired
// notifications.
func (s *Service) SyncAll(ctx context.Context) {
	now := s.opts.Now()
	for _, sess := range s.snapshot() {
		if err := sess.Sync(ctx); err != nil {
			s.log.Debug().Err(err).Str("user", sess.UserID()).Msg("sync deferred")
		}
		sess.Notes.Sweep(ctx, now)
	}
}

// Rollover starts a new price session when the calendar day changed.
func (s *Service) Rollover(ctx context.Context) models.PriceState {
	st := s.engine.InitializeSession(ctx)
	s.RefreshCharts(ctx)
	return st
}

// Close flushes pending notification deliveries and ends price subscriptions.
func (s *Service) Close() {
	for _, sess := range s.snapshot() {
		sess.Close()
	}
	s.prices.Close()
}

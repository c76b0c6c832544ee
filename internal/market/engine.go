package market

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/strategy"
)

// MinTickInterval is the minimum spacing between two price updates.
const MinTickInterval = 3 * time.Second

type Options struct {
	Location *time.Location
	Now      func() time.Time
	Rand     *rand.Rand
	ChartTTL time.Duration
	StateTTL time.Duration
}

// Engine owns the synthetic price feed. All state access is serialized on mu.
type Engine struct {
	mu    sync.Mutex
	store kv.Store
	loc   *time.Location
	now   func() time.Time
	rng   *rand.Rand
	log   zerolog.Logger

	chartTTL time.Duration
	stateTTL time.Duration

	state  models.PriceState
	loaded bool
}

func NewEngine(store kv.Store, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.ChartTTL <= 0 {
		opts.ChartTTL = 48 * time.Hour
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 72 * time.Hour
	}
	return &Engine{
		store:    store,
		loc:      opts.Location,
		now:      opts.Now,
		rng:      opts.Rand,
		log:      logging.For("price"),
		chartTTL: opts.ChartTTL,
		stateTTL: opts.StateTTL,
	}
}

// SessionDay returns the calendar date (YYYY-MM-DD) of t in loc.
func SessionDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// InitializeSession makes sure today's anchor exists and returns the state.
// Calling it again on the same day changes nothing.
func (e *Engine) InitializeSession(ctx context.Context) models.PriceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureSession(ctx, e.now())
	return e.snapshot()
}

// State returns a copy of the current price state.
func (e *Engine) State() models.PriceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// Tick advances the feed if at least MinTickInterval has passed since the last
// update, otherwise it returns the last price unchanged. It never fails.
func (e *Engine) Tick(ctx context.Context) models.Quote {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	q, err := e.tick(ctx, now)
	if err != nil {
		e.log.Warn().Err(err).Msg("price tick failed, serving fallback quote")
		return e.fallbackQuote(now)
	}
	return q
}

// Current returns the last computed quote without advancing the feed.
func (e *Engine) Current(ctx context.Context) models.Quote {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.ensureSession(ctx, now)
	if !strategy.Finite(e.state.LastPrice) {
		return e.fallbackQuote(now)
	}
	return e.quote(now)
}

func (e *Engine) tick(ctx context.Context, now time.Time) (models.Quote, error) {
	e.ensureSession(ctx, now)

	nowMs := now.UnixMilli()
	last := e.state.LastUpdate
	if last != 0 && nowMs-last < MinTickInterval.Milliseconds() {
		return e.quote(now), nil
	}

	elapsed := strategy.FirstTickSeconds
	if last != 0 {
		elapsed = float64(nowMs-last) / 1000
	}

	next, delta := strategy.NextPrice(strategy.StepInput{
		HourOfDay:     now.In(e.loc).Hour(),
		Noise:         e.rng.Float64(),
		Elapsed:       elapsed,
		SessionStart:  e.state.SessionStartPrice,
		LastPrice:     e.state.LastPrice,
		RecentChanges: e.state.RecentChanges,
	})
	if !strategy.Finite(next) {
		return models.Quote{}, fmt.Errorf("non-finite price %v from %v", next, e.state.LastPrice)
	}

	e.state.LastPrice = next
	e.state.LastUpdate = nowMs
	e.state.RecentChanges = strategy.PushChange(e.state.RecentChanges, delta)
	e.persist(ctx)

	return e.quote(now), nil
}

// ensureSession loads persisted state once and rolls the session when the
// stored date is not today. Unusable state is treated as first use.
func (e *Engine) ensureSession(ctx context.Context, now time.Time) {
	if !e.loaded {
		var stored models.PriceState
		ok, err := kv.GetJSON(ctx, e.store, kv.KeyPriceState, &stored)
		if err != nil {
			e.log.Warn().Err(err).Msg("price state unavailable, starting in memory")
		}
		if ok {
			e.state = stored
		}
		e.loaded = true
	}

	today := SessionDay(now, e.loc)
	if e.state.SessionDate == today && strategy.Finite(e.state.SessionStartPrice) && strategy.Finite(e.state.LastPrice) {
		e.state.LastPrice = strategy.Clamp(e.state.LastPrice, e.state.SessionStartPrice)
		return
	}

	start := strategy.SessionStartPrice(e.rng.Float64())
	e.state = models.PriceState{
		SessionStartPrice: start,
		LastPrice:         start,
		SessionDate:       today,
		RecentChanges:     []float64{},
	}
	e.persist(ctx)
	e.log.Info().Str("day", today).Float64("anchor", strategy.Round2(start)).Msg("new price session")
}

func (e *Engine) persist(ctx context.Context) {
	if err := kv.SetJSON(ctx, e.store, kv.KeyPriceState, e.state, e.stateTTL); err != nil {
		e.log.Warn().Err(err).Msg("failed to persist price state")
	}
}

func (e *Engine) quote(now time.Time) models.Quote {
	ts := e.state.LastUpdate
	if ts == 0 {
		ts = now.UnixMilli()
	}
	return models.Quote{
		Price:            strategy.Round2(e.state.LastPrice),
		PercentChange24h: strategy.PercentChange(e.state.LastPrice, e.state.SessionStartPrice),
		Timestamp:        ts,
	}
}

func (e *Engine) fallbackQuote(now time.Time) models.Quote {
	price := strategy.DefaultPrice
	if strategy.Finite(e.state.LastPrice) {
		price = strategy.Round2(e.state.LastPrice)
	}
	return models.Quote{Price: price, Timestamp: now.UnixMilli(), Degraded: true}
}

func (e *Engine) snapshot() models.PriceState {
	s := e.state
	s.RecentChanges = append([]float64(nil), e.state.RecentChanges...)
	return s
}

package market

import (
	"context"
	"time"

	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/strategy"
)

// Chart returns the series for p on the current session day. A cached series
// only has its tip moved to the live price. Any failure yields the mock series.
func (e *Engine) Chart(ctx context.Context, p models.Period) models.ChartSeries {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	series, err := e.chart(ctx, p, now)
	if err != nil {
		e.log.Warn().Err(err).Str("period", string(p)).Msg("chart generation failed, serving mock series")
		base := strategy.DefaultPrice
		if strategy.Finite(e.state.LastPrice) {
			base = strategy.Round2(e.state.LastPrice)
		}
		return models.ChartSeries{
			Period: p,
			Day:    SessionDay(now, e.loc),
			Points: strategy.MockSeries(p, base, now),
			Mock:   true,
		}
	}
	return series
}

func (e *Engine) chart(ctx context.Context, p models.Period, now time.Time) (models.ChartSeries, error) {
	spec, err := strategy.SpecFor(p)
	if err != nil {
		return models.ChartSeries{}, err
	}

	e.ensureSession(ctx, now)
	current := strategy.Round2(e.state.LastPrice)
	day := SessionDay(now, e.loc)
	key := kv.ChartKey(string(p), day)

	var cached models.ChartSeries
	ok, err := kv.GetJSON(ctx, e.store, key, &cached)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("chart cache read failed, regenerating")
		ok = false
	}
	if ok && cached.Period == p && len(cached.Points) == spec.Points {
		tip := &cached.Points[len(cached.Points)-1]
		if tip.Price != current {
			tip.Price = current
			if err := kv.SetJSON(ctx, e.store, key, cached, e.chartTTL); err != nil {
				e.log.Warn().Err(err).Str("key", key).Msg("failed to update cached chart tip")
			}
		}
		return cached, nil
	}

	points, err := strategy.SynthesizeSeries(p, current, now, strategy.SeriesRand(p, day))
	if err != nil {
		return models.ChartSeries{}, err
	}
	series := models.ChartSeries{Period: p, Day: day, Points: points}
	if err := kv.SetJSON(ctx, e.store, key, series, e.chartTTL); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("failed to cache chart series")
	}
	return series, nil
}

package game

import (
	"context"
	"sync"

	"github.com/kjannette/bitmage-backend/internal/models"
)

// ChartSource produces a series for a period.
type ChartSource interface {
	Chart(ctx context.Context, p models.Period) models.ChartSeries
}

// ChartView is the series a client is looking at. Switching period bumps a
// generation counter so a refresh started for the old period cannot
// overwrite the new one.
type ChartView struct {
	mu     sync.Mutex
	period models.Period
	gen    uint64
	series *models.ChartSeries
}

func NewChartView(p models.Period) *ChartView {
	return &ChartView{period: p}
}

func (v *ChartView) Period() models.Period {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.period
}

// Select switches the active period and drops the current series.
func (v *ChartView) Select(p models.Period) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p == v.period && v.series != nil {
		return
	}
	v.period = p
	v.gen++
	v.series = nil
}

// Refresh regenerates the active period. It reports false when the period
// changed while the series was being built; the result is then discarded.
func (v *ChartView) Refresh(ctx context.Context, src ChartSource) (models.ChartSeries, bool) {
	v.mu.Lock()
	p, gen := v.period, v.gen
	v.mu.Unlock()

	s := src.Chart(ctx, p)

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen || p != v.period {
		return models.ChartSeries{}, false
	}
	v.series = &s
	return copySeries(s), true
}

// UpdateTip moves the last point to price.
func (v *ChartView) UpdateTip(price float64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.series == nil {
		return false
	}
	last := v.series.Last()
	if last == nil {
		return false
	}
	last.Price = price
	return true
}

func (v *ChartView) Series() (models.ChartSeries, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.series == nil {
		return models.ChartSeries{}, false
	}
	return copySeries(*v.series), true
}

func copySeries(s models.ChartSeries) models.ChartSeries {
	s.Points = append([]models.ChartPoint(nil), s.Points...)
	return s
}

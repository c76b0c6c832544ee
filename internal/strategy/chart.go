package strategy

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kjannette/bitmage-backend/internal/models"
)

type PeriodSpec struct {
	Points        int
	Volatility    float64 // max fractional move across the whole period
	MockMaxChange float64 // absolute step bound for the mock walk
	Step          time.Duration
	Layout        string
}

var periodSpecs = map[models.Period]PeriodSpec{
	models.Period1D: {Points: 24, Volatility: 0.02, MockMaxChange: 500, Step: time.Hour, Layout: "15:04"},
	models.Period1W: {Points: 7, Volatility: 0.08, MockMaxChange: 2000, Step: 24 * time.Hour, Layout: "Mon"},
	models.Period1M: {Points: 30, Volatility: 0.15, MockMaxChange: 5000, Step: 24 * time.Hour, Layout: "Jan 2"},
	models.Period3M: {Points: 90, Volatility: 0.25, MockMaxChange: 5000, Step: 24 * time.Hour, Layout: "Jan 2"},
	models.Period1Y: {Points: 365, Volatility: 0.40, MockMaxChange: 5000, Step: 24 * time.Hour, Layout: "Jan 2"},
}

const mockSeed = 111095

func SpecFor(p models.Period) (PeriodSpec, error) {
	spec, ok := periodSpecs[p]
	if !ok {
		return PeriodSpec{}, fmt.Errorf("unknown period %q", p)
	}
	return spec, nil
}

// SeriesRand returns the deterministic random source for a (period, day) pair.
func SeriesRand(p models.Period, day string) *rand.Rand {
	h := sha256.Sum256([]byte(string(p) + "|" + day))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(h[:8]))))
}

// SynthesizeSeries walks backward from currentPrice, producing the period's
// fixed number of points. The last point is currentPrice exactly.
func SynthesizeSeries(p models.Period, currentPrice float64, now time.Time, rng *rand.Rand) ([]models.ChartPoint, error) {
	spec, err := SpecFor(p)
	if err != nil {
		return nil, err
	}
	if !Finite(currentPrice) {
		return nil, fmt.Errorf("invalid current price %v", currentPrice)
	}

	n := spec.Points
	points := make([]models.ChartPoint, n)
	points[n-1] = pointAt(spec, now, n-1, n, currentPrice)

	price := currentPrice
	for i := n - 2; i >= 0; i-- {
		progress := float64(i) / float64(n-1)
		trend := math.Sin(progress*2*math.Pi) * 0.1
		noise := (rng.Float64() - 0.5) * 2
		vf := spec.Volatility * (0.3 + 0.7*rng.Float64())
		price *= 1 + (trend+noise)*vf*0.1
		if !Finite(price) {
			return nil, fmt.Errorf("series diverged at point %d", i)
		}
		points[i] = pointAt(spec, now, i, n, Round2(price))
	}
	return points, nil
}

// MockSeries is the context-free fallback: a fixed-seed walk ending at base.
func MockSeries(p models.Period, base float64, now time.Time) []models.ChartPoint {
	spec, ok := periodSpecs[p]
	if !ok {
		spec = periodSpecs[models.Period1D]
	}
	if !Finite(base) {
		base = DefaultPrice
	}

	rng := rand.New(rand.NewSource(mockSeed))
	n := spec.Points
	points := make([]models.ChartPoint, n)
	price := base
	for i := n - 1; i >= 0; i-- {
		if i < n-1 {
			price -= (rng.Float64() - 0.5) * spec.MockMaxChange * 0.1
		}
		points[i] = pointAt(spec, now, i, n, Round2(price))
	}
	return points
}

func pointAt(spec PeriodSpec, now time.Time, i, n int, price float64) models.ChartPoint {
	ts := now.Add(-time.Duration(n-1-i) * spec.Step)
	return models.ChartPoint{
		Time:      ts.Format(spec.Layout),
		Price:     price,
		Timestamp: ts.UnixMilli(),
	}
}

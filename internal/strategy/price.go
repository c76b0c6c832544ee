package strategy

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	SessionBaseMin    = 108000.0
	SessionBaseSpread = 8000.0
	DefaultPrice      = 111095.0

	MinPriceRatio    = 0.92
	MaxPriceRatio    = 1.08
	MaxRecentChanges = 10

	// FirstTickSeconds is the elapsed time assumed when a session has never ticked.
	FirstTickSeconds = 5.0
)

// StepInput is everything one price step depends on.
type StepInput struct {
	HourOfDay     int
	Noise         float64 // uniform in [0,1)
	Elapsed       float64 // seconds since the previous update
	SessionStart  float64
	LastPrice     float64
	RecentChanges []float64
}

type StepComponents struct {
	Sentiment     float64
	Random        float64
	MeanReversion float64
	Momentum      float64
}

func (c StepComponents) Total() float64 {
	return c.Sentiment + c.Random + c.MeanReversion + c.Momentum
}

// Components breaks the fractional change per second into its four terms.
func Components(in StepInput) StepComponents {
	c := StepComponents{
		Sentiment: math.Sin(float64(in.HourOfDay)/24*2*math.Pi) * 0.0005,
		Random:    (in.Noise - 0.5) * 0.0015,
		Momentum:  Average(in.RecentChanges) * 0.3,
	}
	if in.SessionStart > 0 {
		c.MeanReversion = (in.SessionStart - in.LastPrice) / in.SessionStart * 0.0001
	}
	return c
}

// NextPrice applies one step to LastPrice and clamps it to the session band.
// It returns the new price and the realized fractional delta.
func NextPrice(in StepInput) (float64, float64) {
	total := Components(in).Total()
	next := Clamp(in.LastPrice*(1+total*in.Elapsed), in.SessionStart)

	delta := 0.0
	if in.LastPrice != 0 {
		delta = (next - in.LastPrice) / in.LastPrice
	}
	return next, delta
}

// Bounds returns the allowed price band for a session anchor.
func Bounds(sessionStart float64) (lo, hi float64) {
	return sessionStart * MinPriceRatio, sessionStart * MaxPriceRatio
}

func Clamp(price, sessionStart float64) float64 {
	lo, hi := Bounds(sessionStart)
	if math.IsNaN(price) || price < lo {
		return lo
	}
	if price > hi {
		return hi
	}
	return price
}

// PushChange appends delta and keeps only the newest MaxRecentChanges entries.
func PushChange(changes []float64, delta float64) []float64 {
	out := make([]float64, 0, MaxRecentChanges)
	out = append(out, changes...)
	out = append(out, delta)
	if len(out) > MaxRecentChanges {
		out = out[len(out)-MaxRecentChanges:]
	}
	return out
}

func Average(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// SessionStartPrice maps a uniform [0,1) draw onto the session anchor range.
func SessionStartPrice(r float64) float64 {
	return SessionBaseMin + r*SessionBaseSpread
}

// PercentChange is the move from the session anchor in percent, 2dp.
func PercentChange(price, sessionStart float64) float64 {
	if sessionStart == 0 {
		return 0
	}
	return Round2((price - sessionStart) / sessionStart * 100)
}

func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Finite reports whether v is a usable price.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

package models

// Period is a chart range selector.
type Period string

const (
	Period1D Period = "1D"
	Period1W Period = "1W"
	Period1M Period = "1M"
	Period3M Period = "3M"
	Period1Y Period = "1Y"
)

var Periods = []Period{Period1D, Period1W, Period1M, Period3M, Period1Y}

func ParsePeriod(s string) (Period, bool) {
	for _, p := range Periods {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// PriceState is the persisted anchor and cursor of the synthetic feed for one
// session day.
type PriceState struct {
	SessionStartPrice float64   `json:"sessionStartPrice"`
	LastPrice         float64   `json:"lastPrice"`
	LastUpdate        int64     `json:"lastUpdate"` // ms epoch, 0 = never ticked
	SessionDate       string    `json:"sessionDate"`
	RecentChanges     []float64 `json:"recentChanges"`
}

type Quote struct {
	Price            float64 `json:"price"`
	PercentChange24h float64 `json:"percentChange24h"`
	Timestamp        int64   `json:"timestamp"`
	Degraded         bool    `json:"degraded,omitempty"`
}

type ChartPoint struct {
	Time      string  `json:"time"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

type ChartSeries struct {
	Period Period       `json:"period"`
	Day    string       `json:"day"`
	Points []ChartPoint `json:"points"`
	Mock   bool         `json:"mock,omitempty"`
}

// Last returns the tip of the series, or nil when empty.
func (s *ChartSeries) Last() *ChartPoint {
	if len(s.Points) == 0 {
		return nil
	}
	return &s.Points[len(s.Points)-1]
}

package models

import "math"

type Direction string

const (
	Bullish Direction = "bull"
	Bearish Direction = "bear"
)

func (d Direction) Valid() bool {
	return d == Bullish || d == Bearish
}

func (d Direction) Label() string {
	switch d {
	case Bullish:
		return "Bullish"
	case Bearish:
		return "Bearish"
	}
	return ""
}

type Outcome string

const (
	Win  Outcome = "win"
	Lose Outcome = "lose"
)

type RoundState string

const (
	StateIdle      RoundState = "idle"
	StateArmed     RoundState = "armed"
	StateActive    RoundState = "active"
	StateResolving RoundState = "resolving"
)

// Leverages lists the multipliers a wager may use.
var Leverages = []int{2, 5, 10}

func ValidLeverage(l int) bool {
	for _, v := range Leverages {
		if v == l {
			return true
		}
	}
	return false
}

// Wager is the user's round form. Zero values mean "not selected yet".
type Wager struct {
	Direction Direction `json:"direction"`
	Amount    int64     `json:"amount"`
	Leverage  int       `json:"leverage"`
}

func (w Wager) RiskAmount() int64 {
	return w.Amount * int64(w.Leverage)
}

type PredictionRound struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Direction       Direction `json:"direction"`
	WagerAmount     int64     `json:"wagerAmount"`
	Leverage        int       `json:"leverage"`
	StartPrice      float64   `json:"startPrice"`
	StartTimestamp  int64     `json:"startTimestamp"`
	DurationSeconds int       `json:"durationSeconds"`
	Remaining       int       `json:"remaining"`

	// Set on resolution.
	EndPrice float64 `json:"endPrice,omitempty"`
	Outcome  Outcome `json:"outcome,omitempty"`
	Payout   int64   `json:"payout,omitempty"`
}

func (r *PredictionRound) RiskAmount() int64 {
	return r.WagerAmount * int64(r.Leverage)
}

// RoundView is what callers see of a user's round machine.
type RoundView struct {
	State RoundState       `json:"state"`
	Form  Wager            `json:"form"`
	Round *PredictionRound `json:"round,omitempty"`
}

type OutcomeRecord struct {
	Wager       int64     `json:"wager"`
	Leverage    int       `json:"leverage"`
	Direction   Direction `json:"prediction"`
	Outcome     Outcome   `json:"outcome"`
	PointsDelta int64     `json:"pointsChange"`
	RiskAmount  int64     `json:"riskAmount"`
}

type PredictionStats struct {
	TotalPredictions int   `json:"totalPredictions"`
	Wins             int   `json:"wins"`
	Losses           int   `json:"losses"`
	TotalWinnings    int64 `json:"totalWinnings"`
	TotalLosses      int64 `json:"totalLosses"`
}

// WinRate is a percentage with one decimal.
func (s PredictionStats) WinRate() float64 {
	if s.TotalPredictions == 0 {
		return 0
	}
	return math.Round(float64(s.Wins)/float64(s.TotalPredictions)*1000) / 10
}

type OutcomeResult struct {
	Balance int64           `json:"balance"`
	Stats   PredictionStats `json:"stats"`
}

// Apply folds one settled outcome into the aggregates.
func (s *PredictionStats) Apply(rec OutcomeRecord) {
	s.TotalPredictions++
	if rec.Outcome == Win {
		s.Wins++
		s.TotalWinnings += rec.PointsDelta
		return
	}
	s.Losses++
	s.TotalLosses += rec.RiskAmount
}

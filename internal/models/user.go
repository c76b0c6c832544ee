package models

import "time"

type User struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	Balance       int64           `json:"balance"`
	LastClaimTime *time.Time      `json:"lastClaimTime,omitempty"`
	Stats         PredictionStats `json:"stats"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type StreakEntry struct {
	Day     int       `json:"day"`
	Date    time.Time `json:"date"`
	Points  int64     `json:"points"`
	Claimed bool      `json:"claimed"`
}

type StreakState struct {
	CurrentStreak int           `json:"currentStreak"`
	LastClaim     *time.Time    `json:"lastClaimTime,omitempty"`
	History       []StreakEntry `json:"history"`
}

type StreakView struct {
	StreakState
	CanClaim bool `json:"canClaim"`
	NextDay  int  `json:"nextDay"`
}

type ClaimResult struct {
	Balance       int64     `json:"balance"`
	PointsAwarded int64     `json:"pointsAwarded"`
	ClaimedAt     time.Time `json:"lastClaimTime"`
	StreakDay     int       `json:"currentStreak,omitempty"`
	Tier          string    `json:"tier,omitempty"`
}

type LeaderboardPredictions struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"winRate"`
}

type LeaderboardEntry struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Points        int64                  `json:"points"`
	Rank          int                    `json:"rank"`
	IsCurrentUser bool                   `json:"isCurrentUser"`
	Predictions   LeaderboardPredictions `json:"predictions"`
}

type StatsSummary struct {
	TotalPredictions   int     `json:"totalPredictions"`
	CorrectPredictions int     `json:"correctPredictions"`
	WinRate            float64 `json:"winRate"`
	TotalPointsEarned  int64   `json:"totalPointsEarned"`
}

type BalanceOp string

const (
	OpAdd      BalanceOp = "add"
	OpSubtract BalanceOp = "subtract"
)

func (op BalanceOp) Valid() bool {
	return op == OpAdd || op == OpSubtract
}

// ApplyBalance applies op to balance, clamped at zero.
func ApplyBalance(balance int64, op BalanceOp, amount int64) int64 {
	switch op {
	case OpAdd:
		balance += amount
	case OpSubtract:
		balance -= amount
	}
	if balance < 0 {
		return 0
	}
	return balance
}

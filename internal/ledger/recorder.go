package ledger

import (
	"context"
	"time"

	"github.com/kjannette/bitmage-backend/internal/models"
)

// RoundEntry is one settled prediction round.
type RoundEntry struct {
	RoundID      string           `json:"roundId"`
	UserID       string           `json:"userId"`
	Direction    models.Direction `json:"direction"`
	Wager        int64            `json:"wager"`
	Leverage     int              `json:"leverage"`
	StartPrice   float64          `json:"startPrice"`
	EndPrice     float64          `json:"endPrice"`
	Outcome      models.Outcome   `json:"outcome"`
	Payout       int64            `json:"payout"`
	BalanceAfter int64            `json:"balanceAfter"`
	StartedAt    time.Time        `json:"startedAt"`
	SettledAt    time.Time        `json:"settledAt"`
}

// BalanceEvent is one observed balance change.
type BalanceEvent struct {
	UserID string    `json:"userId"`
	Source string    `json:"source"`
	Before int64     `json:"before"`
	After  int64     `json:"after"`
	At     time.Time `json:"at"`
}

// Recorder persists settlement history for later inspection.
type Recorder interface {
	RecordRound(ctx context.Context, e *RoundEntry) error
	RecordBalance(ctx context.Context, e *BalanceEvent) error
	RecentRounds(ctx context.Context, userID string, limit int) ([]RoundEntry, error)
	Close() error
}

package models

type NotificationType string

const (
	NotifyPredictionWin  NotificationType = "prediction_win"
	NotifyPredictionLoss NotificationType = "prediction_loss"
	NotifyMilestone      NotificationType = "milestone"
	NotifyBalanceUpdate  NotificationType = "balance_update"
	NotifyStreakClaim    NotificationType = "streak_claim"
	NotifyStreakBonus    NotificationType = "streak_bonus"
	NotifyAvatarUnlock   NotificationType = "avatar_unlock"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type PredictionDetail struct {
	Type       Direction `json:"type"`
	Amount     int64     `json:"amount"`
	Leverage   int       `json:"leverage"`
	StartPrice float64   `json:"startPrice"`
	EndPrice   float64   `json:"endPrice"`
}

type Notification struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId,omitempty"`
	Type        NotificationType  `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Timestamp   int64             `json:"timestamp"`
	Points      *int64            `json:"points,omitempty"`
	Priority    Priority          `json:"priority"`
	AutoDismiss bool              `json:"autoDismiss"`
	Prediction  *PredictionDetail `json:"prediction,omitempty"`
	Milestone   int64             `json:"milestone,omitempty"`
	AvatarTier  string            `json:"avatarTier,omitempty"`
}

// Pts is a helper for the optional points field.
func Pts(v int64) *int64 {
	return &v
}

package strategy

import "github.com/kjannette/bitmage-backend/internal/models"

const (
	RoundDurationSeconds = 15
	DisplaySeconds       = 4
	BigWinDelaySeconds   = 2
	BigWinThreshold      = 5000
)

// Resolve compares the price move to the prediction. A flat move loses for
// both directions.
func Resolve(dir models.Direction, startPrice, endPrice float64) models.Outcome {
	delta := endPrice - startPrice
	switch {
	case dir == models.Bullish && delta > 0:
		return models.Win
	case dir == models.Bearish && delta < 0:
		return models.Win
	}
	return models.Lose
}

func RiskAmount(wager int64, leverage int) int64 {
	return wager * int64(leverage)
}

// Payout is credited on a win only; the stake was debited at confirm time.
func Payout(wager int64, leverage int) int64 {
	return wager * int64(leverage) * 2
}

func IsBigWin(payout int64) bool {
	return payout >= BigWinThreshold
}

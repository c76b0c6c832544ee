package risk

import (
	"fmt"
	"math"

	"github.com/kjannette/bitmage-backend/internal/models"
)

// BalanceSource abstracts the cached balance so Guardian can be tested
// without a backend.
type BalanceSource interface {
	Balance() int64
}

// Limits holds optional house limits. A zero value disables that check.
type Limits struct {
	MaxWager int64
	MaxRisk  int64
}

// ValidationError is a user-facing rejection of a wager. No state changes
// when one is returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type Guardian struct {
	limits  Limits
	balance BalanceSource
}

func NewGuardian(limits Limits, balance BalanceSource) *Guardian {
	return &Guardian{limits: limits, balance: balance}
}

// CheckWager validates an armed wager before confirm.
// Returns nil if the wager is allowed, a *ValidationError if not.
func (g *Guardian) CheckWager(w models.Wager) error {
	if !w.Direction.Valid() {
		return invalid("Please select Bullish or Bearish")
	}
	if !models.ValidLeverage(w.Leverage) {
		return invalid("Please select leverage")
	}
	if w.Amount <= 0 || w.Amount > math.MaxInt64/int64(w.Leverage*2) {
		return invalid("Please enter a valid bet amount")
	}
	if g.limits.MaxWager > 0 && w.Amount > g.limits.MaxWager {
		return invalid("Maximum bet is %d points", g.limits.MaxWager)
	}

	risk := w.RiskAmount()
	if g.limits.MaxRisk > 0 && risk > g.limits.MaxRisk {
		return invalid("Maximum risk is %d points, %dX leverage needs %d", g.limits.MaxRisk, w.Leverage, risk)
	}

	var balance int64
	if g.balance != nil {
		balance = g.balance.Balance()
	}
	if risk > balance {
		return invalid("Insufficient points for %dX leverage. Need %d points.", w.Leverage, risk)
	}
	return nil
}

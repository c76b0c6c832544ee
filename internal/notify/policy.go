package notify

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/strategy"
)

// Policy turns balance changes into milestone and balance-update notices.
// Every change is checked for milestones. Sources listed as quiet already
// carry their own notice (round settlement) and skip the balance-update one.
type Policy struct {
	center *Center
	quiet  map[string]bool
}

func NewPolicy(center *Center, quietSources ...string) *Policy {
	q := make(map[string]bool, len(quietSources))
	for _, s := range quietSources {
		q[s] = true
	}
	return &Policy{center: center, quiet: q}
}

// BalanceChanged emits one milestone per crossed threshold in ascending order,
// then a balance update when the move is large enough.
func (p *Policy) BalanceChanged(ctx context.Context, oldBalance, newBalance int64, source string) []models.Notification {
	var out []models.Notification
	for _, m := range strategy.CrossedMilestones(oldBalance, newBalance) {
		out = append(out, p.center.Emit(ctx, MilestoneNotice(m)))
	}

	diff := newBalance - oldBalance
	if p.quiet[source] || strategy.Abs64(diff) < strategy.BalanceUpdateThreshold {
		return out
	}
	out = append(out, p.center.Emit(ctx, BalanceNotice(diff)))
	return out
}

func MilestoneNotice(m int64) models.Notification {
	return models.Notification{
		Type:  models.NotifyMilestone,
		Title: fmt.Sprintf("%s Points Milestone! 🎯", humanize.Comma(m)),
		Message: fmt.Sprintf("Congratulations! You've reached %s total points. Keep trading to unlock more rewards!",
			humanize.Comma(m)),
		Priority:    models.PriorityHigh,
		Milestone:   m,
		AutoDismiss: true,
	}
}

func BalanceNotice(diff int64) models.Notification {
	n := models.Notification{
		Type:        models.NotifyBalanceUpdate,
		Points:      models.Pts(diff),
		AutoDismiss: true,
	}
	if diff > 0 {
		n.Title = "Points Gained! 💰"
		n.Message = fmt.Sprintf("You gained %s points!", humanize.Comma(diff))
		n.Priority = models.PriorityMedium
	} else {
		n.Title = "Points Spent"
		n.Message = fmt.Sprintf("You spent %s points.", humanize.Comma(-diff))
		n.Priority = models.PriorityLow
	}
	return n
}

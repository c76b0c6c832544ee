package repository

import (
	"context"
	"fmt"

	"github.com/kjannette/bitmage-backend/internal/models"
)

func (r *UserRepo) GetBalance(ctx context.Context, id string) (int64, error) {
	var b int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, id).Scan(&b)
	return b, mustExist(err)
}

// SetBalance overwrites the balance, clamped at zero.
func (r *UserRepo) SetBalance(ctx context.Context, id string, balance int64) (int64, error) {
	var b int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET balance = GREATEST($2::bigint, 0) WHERE id = $1 RETURNING balance`,
		id, balance,
	).Scan(&b)
	return b, mustExist(err)
}

// AdjustBalance adds or subtracts amount atomically, clamped at zero.
func (r *UserRepo) AdjustBalance(ctx context.Context, id string, op models.BalanceOp, amount int64) (int64, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("invalid balance operation %q", op)
	}
	delta := amount
	if op == models.OpSubtract {
		delta = -amount
	}
	var b int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET balance = GREATEST(balance + $2::bigint, 0) WHERE id = $1 RETURNING balance`,
		id, delta,
	).Scan(&b)
	return b, mustExist(err)
}

// RecordOutcome folds a settled round into the user's aggregates and adds
// PointsDelta to the balance in one statement.
func (r *UserRepo) RecordOutcome(ctx context.Context, id string, rec models.OutcomeRecord) (*models.OutcomeResult, error) {
	var win, loss int
	var winnings, losses int64
	if rec.Outcome == models.Win {
		win, winnings = 1, rec.PointsDelta
	} else {
		loss, losses = 1, rec.RiskAmount
	}

	var res models.OutcomeResult
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET
			total_predictions = total_predictions + 1,
			wins = wins + $2,
			losses = losses + $3,
			total_winnings = total_winnings + $4,
			total_losses = total_losses + $5,
			balance = GREATEST(balance + $6::bigint, 0)
		 WHERE id = $1
		 RETURNING balance, total_predictions, wins, losses, total_winnings, total_losses`,
		id, win, loss, winnings, losses, rec.PointsDelta,
	).Scan(&res.Balance, &res.Stats.TotalPredictions, &res.Stats.Wins, &res.Stats.Losses,
		&res.Stats.TotalWinnings, &res.Stats.TotalLosses)
	if err != nil {
		return nil, mustExist(err)
	}
	return &res, nil
}

func (r *UserRepo) GetStats(ctx context.Context, id string) (*models.PredictionStats, error) {
	var s models.PredictionStats
	err := r.pool.QueryRow(ctx,
		`SELECT total_predictions, wins, losses, total_winnings, total_losses FROM users WHERE id = $1`, id,
	).Scan(&s.TotalPredictions, &s.Wins, &s.Losses, &s.TotalWinnings, &s.TotalLosses)
	if err != nil {
		return nil, mustExist(err)
	}
	return &s, nil
}

func (r *UserRepo) StatsSummary(ctx context.Context, id string) (*models.StatsSummary, error) {
	s, err := r.GetStats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.StatsSummary{
		TotalPredictions:   s.TotalPredictions,
		CorrectPredictions: s.Wins,
		WinRate:            s.WinRate(),
		TotalPointsEarned:  s.TotalWinnings,
	}, nil
}

package repository

import (
	"context"

	"github.com/kjannette/bitmage-backend/internal/models"
)

const LeaderboardSize = 20

// Leaderboard returns the top users by balance. currentUser marks the
// caller's own row.
func (r *UserRepo) Leaderboard(ctx context.Context, currentUser string, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 || limit > LeaderboardSize {
		limit = LeaderboardSize
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, balance, total_predictions, wins
		 FROM users ORDER BY balance DESC, created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeaderboard(rows, currentUser)
}

func collectLeaderboard(rows rowsIter, currentUser string) ([]models.LeaderboardEntry, error) {
	out := []models.LeaderboardEntry{}
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Points, &e.Predictions.Total, &e.Predictions.Wins); err != nil {
			return nil, err
		}
		e.Rank = len(out) + 1
		e.IsCurrentUser = e.ID == currentUser
		e.Predictions.WinRate = models.PredictionStats{
			TotalPredictions: e.Predictions.Total,
			Wins:             e.Predictions.Wins,
		}.WinRate()
		out = append(out, e)
	}
	return out, rows.Err()
}

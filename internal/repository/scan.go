package repository

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kjannette/bitmage-backend/internal/models"
)

// ErrNotFound is returned by mutations that target a missing user.
var ErrNotFound = errors.New("user not found")

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

const userColumns = `id, username, balance, last_claim_time,
	total_predictions, wins, losses, total_winnings, total_losses, created_at`

func scanUser(row scannable) (*models.User, error) {
	var u models.User
	var last *time.Time
	err := row.Scan(&u.ID, &u.Username, &u.Balance, &last,
		&u.Stats.TotalPredictions, &u.Stats.Wins, &u.Stats.Losses,
		&u.Stats.TotalWinnings, &u.Stats.TotalLosses, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.LastClaimTime = last
	return &u, nil
}

// noRows maps pgx.ErrNoRows to a nil result.
func noRows[T any](v *T, err error) (*T, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// mustExist maps pgx.ErrNoRows to ErrNotFound.
func mustExist(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

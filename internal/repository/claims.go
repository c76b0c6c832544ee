package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/rewards"
)

// ClaimDaily awards the daily bonus once per cooldown window. A closed window
// returns a *rewards.CooldownError.
func (r *UserRepo) ClaimDaily(ctx context.Context, id string, now time.Time) (*models.ClaimResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var last *time.Time
	err = tx.QueryRow(ctx, `SELECT last_claim_time FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&last)
	if err != nil {
		return nil, mustExist(err)
	}
	if err := rewards.CheckCooldown(last, now); err != nil {
		return nil, err
	}

	res := &models.ClaimResult{PointsAwarded: rewards.DailyPoints, ClaimedAt: now}
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2, last_claim_time = $3 WHERE id = $1 RETURNING balance`,
		id, rewards.DailyPoints, now,
	).Scan(&res.Balance)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *UserRepo) GetStreak(ctx context.Context, id string) (*models.StreakState, error) {
	return r.loadStreak(ctx, r.pool, id, false)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *UserRepo) loadStreak(ctx context.Context, q querier, id string, lock bool) (*models.StreakState, error) {
	query := `SELECT current_streak, last_streak_claim FROM users WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var s models.StreakState
	if err := q.QueryRow(ctx, query, id).Scan(&s.CurrentStreak, &s.LastClaim); err != nil {
		return nil, mustExist(err)
	}

	rows, err := q.Query(ctx,
		`SELECT day, points, claimed_at FROM streak_claims
		 WHERE user_id = $1 ORDER BY claimed_at DESC, id DESC LIMIT $2`,
		id, rewards.MaxStreakHistory)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := collectStreak(rows)
	if err != nil {
		return nil, err
	}
	// oldest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	s.History = entries
	return &s, nil
}

func collectStreak(rows rowsIter) ([]models.StreakEntry, error) {
	out := []models.StreakEntry{}
	for rows.Next() {
		e := models.StreakEntry{Claimed: true}
		if err := rows.Scan(&e.Day, &e.Points, &e.Date); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimStreak records day of the streak cycle and credits its reward.
func (r *UserRepo) ClaimStreak(ctx context.Context, id string, day int, now time.Time) (*models.ClaimResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	s, err := r.loadStreak(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	points, err := rewards.ClaimStreak(s, day, now)
	if err != nil {
		return nil, err
	}

	res := &models.ClaimResult{PointsAwarded: points, ClaimedAt: now, StreakDay: day}
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2, current_streak = $3, last_streak_claim = $4
		 WHERE id = $1 RETURNING balance`,
		id, points, day, now,
	).Scan(&res.Balance)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO streak_claims (user_id, day, points, claimed_at) VALUES ($1, $2, $3, $4)`,
		id, day, points, now); err != nil {
		return nil, fmt.Errorf("insert streak claim: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM streak_claims WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM streak_claims WHERE user_id = $1
			ORDER BY claimed_at DESC, id DESC LIMIT $2)`,
		id, rewards.MaxStreakHistory); err != nil {
		return nil, fmt.Errorf("prune streak history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// ClaimTier credits an avatar tier bonus once the user has enough wins.
func (r *UserRepo) ClaimTier(ctx context.Context, id, tierID string, now time.Time) (*models.ClaimResult, error) {
	tier, ok := rewards.TierByID(tierID)
	if !ok {
		return nil, rewards.ErrUnknownTier
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var wins int
	if err := tx.QueryRow(ctx, `SELECT wins FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&wins); err != nil {
		return nil, mustExist(err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tier_claims WHERE user_id = $1 AND tier = $2)`, id, tier.ID,
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if err := rewards.CheckTier(tier, wins, exists); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO tier_claims (user_id, tier, bonus, claimed_at) VALUES ($1, $2, $3, $4)`,
		id, tier.ID, tier.Bonus, now); err != nil {
		return nil, fmt.Errorf("insert tier claim: %w", err)
	}

	res := &models.ClaimResult{PointsAwarded: tier.Bonus, ClaimedAt: now, Tier: tier.ID}
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`, id, tier.Bonus,
	).Scan(&res.Balance)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *UserRepo) ClaimedTiers(ctx context.Context, id string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT tier FROM tier_claims WHERE user_id = $1 ORDER BY claimed_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// IsClaimError reports whether err is a user-facing claim rejection.
func IsClaimError(err error) bool {
	return errors.Is(err, rewards.ErrCooldown) ||
		errors.Is(err, rewards.ErrInvalidStreakDay) ||
		errors.Is(err, rewards.ErrUnknownTier) ||
		errors.Is(err, rewards.ErrTierLocked) ||
		errors.Is(err, rewards.ErrTierClaimed)
}

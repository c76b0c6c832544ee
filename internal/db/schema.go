package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                TEXT PRIMARY KEY,
		username          TEXT NOT NULL UNIQUE,
		api_token         TEXT NOT NULL UNIQUE,
		balance           BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		last_claim_time   TIMESTAMPTZ,
		total_predictions INTEGER NOT NULL DEFAULT 0,
		wins              INTEGER NOT NULL DEFAULT 0,
		losses            INTEGER NOT NULL DEFAULT 0,
		total_winnings    BIGINT NOT NULL DEFAULT 0,
		total_losses      BIGINT NOT NULL DEFAULT 0,
		current_streak    INTEGER NOT NULL DEFAULT 0,
		last_streak_claim TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_balance ON users(balance DESC)`,

	`CREATE TABLE IF NOT EXISTS streak_claims (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		day        INTEGER NOT NULL,
		points     BIGINT NOT NULL,
		claimed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_streak_user_ts ON streak_claims(user_id, claimed_at DESC)`,

	`CREATE TABLE IF NOT EXISTS tier_claims (
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		tier       TEXT NOT NULL,
		bonus      BIGINT NOT NULL,
		claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, tier)
	)`,

	`CREATE TABLE IF NOT EXISTS device_tokens (
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, token)
	)`,
}

// Migrate creates the points schema if it does not exist.
func Migrate(ctx context.Context, p *pgxpool.Pool) error {
	for _, s := range schema {
		if _, err := p.Exec(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

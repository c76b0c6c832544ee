package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/models"
)

// SQLiteRecorder stores the ledger in a local SQLite file.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log := logging.For("ledger")
	log.Info().Str("path", dbPath).Msg("sqlite ledger opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rounds (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			round_id      TEXT NOT NULL UNIQUE,
			user_id       TEXT NOT NULL,
			direction     TEXT NOT NULL,
			wager         INTEGER NOT NULL,
			leverage      INTEGER NOT NULL,
			start_price   REAL,
			end_price     REAL,
			outcome       TEXT NOT NULL,
			payout        INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			started_at    INTEGER NOT NULL,
			settled_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_user_ts ON rounds(user_id, settled_at)`,

		`CREATE TABLE IF NOT EXISTS balance_events (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id        TEXT NOT NULL,
			source         TEXT NOT NULL,
			balance_before INTEGER NOT NULL,
			balance_after  INTEGER NOT NULL,
			timestamp      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_balance_user_ts ON balance_events(user_id, timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRound(ctx context.Context, e *RoundEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO rounds
		(round_id, user_id, direction, wager, leverage, start_price, end_price,
		 outcome, payout, balance_after, started_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RoundID, e.UserID, string(e.Direction), e.Wager, e.Leverage, e.StartPrice, e.EndPrice,
		string(e.Outcome), e.Payout, e.BalanceAfter, e.StartedAt.UnixMilli(), e.SettledAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) RecordBalance(ctx context.Context, e *BalanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO balance_events
		(user_id, source, balance_before, balance_after, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.Source, e.Before, e.After, e.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert balance event: %w", err)
	}
	return nil
}

// RecentRounds returns the newest settled rounds for a user.
func (r *SQLiteRecorder) RecentRounds(ctx context.Context, userID string, limit int) ([]RoundEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT round_id, user_id, direction, wager, leverage,
		start_price, end_price, outcome, payout, balance_after, started_at, settled_at
		FROM rounds WHERE user_id = ? ORDER BY settled_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundEntry
	for rows.Next() {
		var (
			e                RoundEntry
			dir, outcome     string
			started, settled int64
		)
		if err := rows.Scan(&e.RoundID, &e.UserID, &dir, &e.Wager, &e.Leverage,
			&e.StartPrice, &e.EndPrice, &outcome, &e.Payout, &e.BalanceAfter, &started, &settled); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		e.Direction = models.Direction(dir)
		e.Outcome = models.Outcome(outcome)
		e.StartedAt = time.UnixMilli(started).UTC()
		e.SettledAt = time.UnixMilli(settled).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

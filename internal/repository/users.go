package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/bitmage-backend/internal/models"
)

// ErrUsernameTaken is returned by Create for a duplicate username.
var ErrUsernameTaken = errors.New("username already taken")

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Create registers a user with a zero balance and returns its API token.
func (r *UserRepo) Create(ctx context.Context, username string) (*models.User, string, error) {
	token := uuid.NewString()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, api_token) VALUES ($1, $2, $3)
		 RETURNING `+userColumns,
		uuid.NewString(), username, token,
	)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, "", ErrUsernameTaken
		}
		return nil, "", fmt.Errorf("insert user: %w", err)
	}
	return u, token, nil
}

func (r *UserRepo) Get(ctx context.Context, id string) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return noRows(scanUser(row))
}

func (r *UserRepo) ByToken(ctx context.Context, token string) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE api_token = $1`, token)
	return noRows(scanUser(row))
}

func (r *UserRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepo) RegisterDevice(ctx context.Context, id, token string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO device_tokens (user_id, token) VALUES ($1, $2)
		 ON CONFLICT (user_id, token) DO NOTHING`, id, token)
	return err
}

// DeviceTokens lists push tokens for a user, newest first.
func (r *UserRepo) DeviceTokens(ctx context.Context, id string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT token FROM device_tokens WHERE user_id = $1 ORDER BY created_at DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

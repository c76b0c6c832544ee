package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/kjannette/bitmage-backend/internal/config"
	"github.com/kjannette/bitmage-backend/internal/db"
)

// SetupPool returns a migrated pool for integration tests, or skips the test
// when Postgres is not reachable. TEST_DATABASE_URL wins over the DB_* settings.
func SetupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		cfg, err := config.LoadFile("")
		if err != nil {
			t.Skipf("test config: %v", err)
		}
		if cfg.DBUser == "" {
			cfg.DBUser = "postgres"
		}
		dsn = cfg.DSN()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn, db.PoolOptions{MaxConns: 4, ApplicationName: "bitmage-tests"})
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return pool
}

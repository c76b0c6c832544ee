package game

import (
	"context"
	"errors"
	"time"

	"github.com/kjannette/bitmage-backend/internal/external"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/reconcile"
	"github.com/kjannette/bitmage-backend/internal/repository"
	"github.com/kjannette/bitmage-backend/internal/rewards"
)

// Backend is the authoritative points store for one user.
type Backend interface {
	reconcile.BalanceStore
	reconcile.StatsStore
	ClaimDaily(ctx context.Context) (*models.ClaimResult, error)
	GetStreak(ctx context.Context) (*models.StreakView, error)
	ClaimStreak(ctx context.Context, day int) (*models.ClaimResult, error)
	ClaimTier(ctx context.Context, tier string) (*models.ClaimResult, error)
}

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Token  string
}

// BackendFactory binds a backend to a user. A nil Backend means offline.
type BackendFactory func(id Identity) Backend

func Offline() BackendFactory {
	return func(Identity) Backend { return nil }
}

// Remote binds each user to the points API with their own bearer token.
func Remote(baseURL string, timeout time.Duration) BackendFactory {
	return func(id Identity) Backend {
		return external.NewPointsClient(baseURL, id.Token, timeout)
	}
}

// Local binds each user to the Postgres repository in this process.
func Local(repo *repository.UserRepo) BackendFactory {
	return func(id Identity) Backend {
		return &repoBackend{repo: repo, userID: id.UserID, now: time.Now}
	}
}

type repoBackend struct {
	repo   *repository.UserRepo
	userID string
	now    func() time.Time
}

func (b *repoBackend) GetBalance(ctx context.Context) (int64, error) {
	return b.repo.GetBalance(ctx, b.userID)
}

func (b *repoBackend) SetBalance(ctx context.Context, balance int64) (int64, error) {
	bal, err := b.repo.SetBalance(ctx, b.userID, balance)
	return bal, rejected(err)
}

func (b *repoBackend) AdjustBalance(ctx context.Context, op models.BalanceOp, amount int64) (int64, error) {
	bal, err := b.repo.AdjustBalance(ctx, b.userID, op, amount)
	return bal, rejected(err)
}

func (b *repoBackend) RecordOutcome(ctx context.Context, rec models.OutcomeRecord) (*models.OutcomeResult, error) {
	res, err := b.repo.RecordOutcome(ctx, b.userID, rec)
	return res, rejected(err)
}

// rejected marks a missing user as permanent so the reconciler does not
// queue mutations for it.
func rejected(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return reconcile.Permanent(err)
	}
	return err
}

func (b *repoBackend) GetStats(ctx context.Context) (*models.PredictionStats, error) {
	return b.repo.GetStats(ctx, b.userID)
}

func (b *repoBackend) ClaimDaily(ctx context.Context) (*models.ClaimResult, error) {
	return b.repo.ClaimDaily(ctx, b.userID, b.now())
}

func (b *repoBackend) GetStreak(ctx context.Context) (*models.StreakView, error) {
	s, err := b.repo.GetStreak(ctx, b.userID)
	if err != nil {
		return nil, err
	}
	v := rewards.ViewStreak(*s, b.now())
	return &v, nil
}

func (b *repoBackend) ClaimStreak(ctx context.Context, day int) (*models.ClaimResult, error) {
	return b.repo.ClaimStreak(ctx, b.userID, day, b.now())
}

func (b *repoBackend) ClaimTier(ctx context.Context, tier string) (*models.ClaimResult, error) {
	return b.repo.ClaimTier(ctx, b.userID, tier, b.now())
}

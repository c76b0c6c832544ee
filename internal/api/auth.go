package api

import (
	"context"

	"github.com/kjannette/bitmage-backend/internal/game"
	"github.com/kjannette/bitmage-backend/internal/repository"
)

// TokenResolver maps a bearer token to a caller. Unknown tokens return nil, nil.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*game.Identity, error)
}

// StaticTokens is a fixed token -> user id table from configuration.
type StaticTokens map[string]string

func (t StaticTokens) Resolve(_ context.Context, token string) (*game.Identity, error) {
	if token == "" {
		return nil, nil
	}
	user, ok := t[token]
	if !ok {
		return nil, nil
	}
	return &game.Identity{UserID: user, Token: token}, nil
}

type repoResolver struct {
	users *repository.UserRepo
}

func (r *repoResolver) Resolve(ctx context.Context, token string) (*game.Identity, error) {
	if token == "" {
		return nil, nil
	}
	u, err := r.users.ByToken(ctx, token)
	if err != nil || u == nil {
		return nil, err
	}
	return &game.Identity{UserID: u.ID, Token: token}, nil
}

// chainResolver tries each resolver in order.
type chainResolver []TokenResolver

func (c chainResolver) Resolve(ctx context.Context, token string) (*game.Identity, error) {
	for _, r := range c {
		id, err := r.Resolve(ctx, token)
		if err != nil || id != nil {
			return id, err
		}
	}
	return nil, nil
}

package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kjannette/bitmage-backend/internal/logging"
)

// Store is a string-keyed byte cache. Get returns nil, nil for an absent key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Keys used across the service.
const (
	KeyPriceState = "price:state"
)

func ChartKey(period, day string) string {
	return fmt.Sprintf("chart:%s:%s", period, day)
}

func RoundKey(userID string) string {
	return "round:" + userID
}

func NotificationsKey(userID string) string {
	return "notifications:" + userID
}

func BalanceKey(userID string) string {
	return "balance:" + userID
}

func ClaimsKey(userID string) string {
	return "claims:" + userID
}

// GetJSON decodes key into dst. It reports false when the key is absent or the
// stored value is not valid JSON for dst; corrupt values are logged and treated
// as first use. Only transport errors are returned.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("kv get %s: %w", key, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log := logging.For("kv")
		log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, treating as absent")
		return false, nil
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv marshal %s: %w", key, err)
	}
	if err := s.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

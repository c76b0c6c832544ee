package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjannette/bitmage-backend/internal/httputil"
	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/rewards"
)

// rejection is a sentinel for answers that retrying will not change.
type rejection string

func (e rejection) Error() string { return string(e) }

func (rejection) Permanent() bool { return true }

var (
	ErrUnauthorized error = rejection("points api: unauthorized")
	ErrNotFound     error = rejection("points api: not found")
)

// APIError is a 4xx answer from the points API that maps to no sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("points api: %d %s", e.Status, e.Message)
}

// Permanent is false only for the statuses a client may retry.
func (e *APIError) Permanent() bool {
	return e.Status != http.StatusRequestTimeout && e.Status != http.StatusTooManyRequests
}

// PointsClient talks to a remote points API on behalf of one user.
type PointsClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewPointsClient(baseURL, token string, timeout time.Duration) *PointsClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PointsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		retry: httputil.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    1 * time.Second,
		},
	}
}

func (c *PointsClient) do(ctx context.Context, method, path string, in, out any) error {
	err := httputil.DoJSON(ctx, c.httpClient, c.retry, method, c.baseURL+path, c.token, in, out)
	var se *httputil.StatusError
	if !errors.As(err, &se) {
		if err != nil {
			return fmt.Errorf("points api %s %s: %w", method, path, err)
		}
		return nil
	}
	return decodeError(se)
}

type errorBody struct {
	Error              string `json:"error"`
	TimeUntilNextClaim int64  `json:"timeUntilNextClaim"`
}

func decodeError(se *httputil.StatusError) error {
	var body errorBody
	_ = json.Unmarshal([]byte(se.Body), &body)

	switch se.Code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return &rewards.CooldownError{Remaining: time.Duration(body.TimeUntilNextClaim) * time.Millisecond}
	}
	switch body.Error {
	case rewards.ErrInvalidStreakDay.Error():
		return rewards.ErrInvalidStreakDay
	case rewards.ErrTierLocked.Error():
		return rewards.ErrTierLocked
	case rewards.ErrTierClaimed.Error():
		return rewards.ErrTierClaimed
	case rewards.ErrUnknownTier.Error():
		return rewards.ErrUnknownTier
	}
	if se.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return &APIError{Status: se.Code, Message: body.Error}
}

func (c *PointsClient) Profile(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/v1/user/profile", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *PointsClient) GetBalance(ctx context.Context) (int64, error) {
	u, err := c.Profile(ctx)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

type balanceRequest struct {
	Balance   *int64           `json:"balance,omitempty"`
	Operation models.BalanceOp `json:"operation,omitempty"`
	Amount    int64            `json:"amount,omitempty"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

func (c *PointsClient) SetBalance(ctx context.Context, balance int64) (int64, error) {
	var out balanceResponse
	err := c.do(ctx, http.MethodPost, "/v1/user/balance", balanceRequest{Balance: &balance}, &out)
	return out.Balance, err
}

func (c *PointsClient) AdjustBalance(ctx context.Context, op models.BalanceOp, amount int64) (int64, error) {
	var out balanceResponse
	err := c.do(ctx, http.MethodPost, "/v1/user/balance", balanceRequest{Operation: op, Amount: amount}, &out)
	return out.Balance, err
}

func (c *PointsClient) RecordOutcome(ctx context.Context, rec models.OutcomeRecord) (*models.OutcomeResult, error) {
	var out models.OutcomeResult
	if err := c.do(ctx, http.MethodPost, "/v1/user/predictions", rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PointsClient) GetStats(ctx context.Context) (*models.PredictionStats, error) {
	u, err := c.Profile(ctx)
	if err != nil {
		return nil, err
	}
	return &u.Stats, nil
}

func (c *PointsClient) ClaimDaily(ctx context.Context) (*models.ClaimResult, error) {
	var out models.ClaimResult
	if err := c.do(ctx, http.MethodPost, "/v1/user/claim-daily", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PointsClient) GetStreak(ctx context.Context) (*models.StreakView, error) {
	var out models.StreakView
	if err := c.do(ctx, http.MethodGet, "/v1/user/streak", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PointsClient) ClaimStreak(ctx context.Context, day int) (*models.ClaimResult, error) {
	var out models.ClaimResult
	in := map[string]int{"day": day}
	if err := c.do(ctx, http.MethodPost, "/v1/user/streak/claim", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PointsClient) ClaimTier(ctx context.Context, tier string) (*models.ClaimResult, error) {
	var out models.ClaimResult
	path := "/v1/user/tiers/" + url.PathEscape(tier) + "/claim"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/bitmage-backend/internal/httputil"
	"github.com/kjannette/bitmage-backend/internal/models"
)

const defaultWebhookName = "BitMAGE"

// WebhookSink posts notifications to a Slack or Discord incoming webhook.
// Only notifications at or above MinPriority are forwarded.
type WebhookSink struct {
	webhookURL  string
	botName     string
	MinPriority models.Priority
	httpClient  *http.Client
	retry       httputil.RetryConfig
}

func NewWebhookSink(webhookURL, botName string) *WebhookSink {
	if botName == "" {
		botName = defaultWebhookName
	}
	return &WebhookSink{
		webhookURL:  webhookURL,
		botName:     botName,
		MinPriority: models.PriorityHigh,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Enabled() bool {
	return s.webhookURL != ""
}

func (s *WebhookSink) Deliver(ctx context.Context, n models.Notification) error {
	if !s.Enabled() || n.Priority.Rank() < s.MinPriority.Rank() {
		return nil
	}
	return s.post(ctx, formatNotification(n))
}

func formatNotification(n models.Notification) string {
	msg := fmt.Sprintf("%s %s", n.Title, n.Message)
	if n.UserID != "" {
		msg = fmt.Sprintf("(%s) %s", n.UserID, msg)
	}
	if n.Points != nil {
		msg = fmt.Sprintf("%s [%+d pts]", msg, *n.Points)
	}
	return msg
}

func (s *WebhookSink) post(ctx context.Context, msg string) error {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (s *WebhookSink) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

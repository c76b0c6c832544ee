package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/models"
)

const androidChannel = "bitmage_rounds"

// DeviceLookup resolves the push tokens registered for a user.
type DeviceLookup interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}

type multicaster interface {
	SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// PushSink forwards high-priority notifications through Firebase Cloud
// Messaging. With no credentials it is disabled and Deliver is a no-op.
type PushSink struct {
	client  multicaster
	devices DeviceLookup
}

func NewPushSink(ctx context.Context, credentialsFile string, devices DeviceLookup) (*PushSink, error) {
	log := logging.For("push")
	if credentialsFile == "" || devices == nil {
		log.Warn().Msg("no Firebase credentials or device registry, push disabled")
		return &PushSink{}, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	log.Info().Msg("Firebase Cloud Messaging initialized")
	return &PushSink{client: client, devices: devices}, nil
}

func (p *PushSink) Name() string { return "fcm" }

func (p *PushSink) Enabled() bool {
	return p.client != nil
}

func (p *PushSink) Deliver(ctx context.Context, n models.Notification) error {
	if !p.Enabled() || n.Priority != models.PriorityHigh || n.UserID == "" {
		return nil
	}
	tokens, err := p.devices.DeviceTokens(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	resp, err := p.client.SendEachForMulticast(ctx, pushMessage(tokens, n))
	if err != nil {
		return fmt.Errorf("send multicast: %w", err)
	}
	if resp.FailureCount > 0 {
		log := logging.For("push")
		log.Warn().Int("ok", resp.SuccessCount).Int("failed", resp.FailureCount).
			Str("user", n.UserID).Msg("partial push delivery")
	}
	return nil
}

func pushMessage(tokens []string, n models.Notification) *messaging.MulticastMessage {
	data := map[string]string{
		"id":   n.ID,
		"type": string(n.Type),
	}
	if n.Points != nil {
		data["points"] = fmt.Sprintf("%d", *n.Points)
	}
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: androidChannel,
				Priority:  messaging.PriorityHigh,
			},
		},
	}
}

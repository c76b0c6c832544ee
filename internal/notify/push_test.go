package notify

import (
	"context"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"github.com/kjannette/bitmage-backend/internal/models"
)

type fakeMulticaster struct {
	sent []*messaging.MulticastMessage
}

func (f *fakeMulticaster) SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.sent = append(f.sent, m)
	return &messaging.BatchResponse{SuccessCount: len(m.Tokens)}, nil
}

type staticDevices map[string][]string

func (s staticDevices) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

func TestNewPushSink_DisabledWithoutCredentials(t *testing.T) {
	p, err := NewPushSink(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Enabled() {
		t.Fatal("push should be disabled")
	}
	if err := p.Deliver(context.Background(), bigWin()); err != nil {
		t.Fatalf("disabled deliver: %v", err)
	}
}

func TestPushSink_SendsHighPriorityOnly(t *testing.T) {
	fake := &fakeMulticaster{}
	p := &PushSink{client: fake, devices: staticDevices{"alice": {"tok-a", "tok-b"}}}
	ctx := context.Background()

	if err := p.Deliver(ctx, bigWin()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	low := bigWin()
	low.Priority = models.PriorityMedium
	p.Deliver(ctx, low)

	nobody := bigWin()
	nobody.UserID = "bob"
	p.Deliver(ctx, nobody)

	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fake.sent))
	}
	m := fake.sent[0]
	if len(m.Tokens) != 2 || m.Notification.Title != "Big Win Bonus! 🚀" || m.Data["points"] != "6000" {
		t.Errorf("message = %+v", m)
	}
}

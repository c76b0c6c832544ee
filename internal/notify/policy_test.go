package notify

import (
	"context"
	"testing"

	"github.com/kjannette/bitmage-backend/internal/models"
)

func TestPolicy_SingleMilestone(t *testing.T) {
	c := NewCenter("u1", nil)
	p := NewPolicy(c, "settlement")

	out := p.BalanceChanged(context.Background(), 900, 1200, "settlement")
	if len(out) != 1 {
		t.Fatalf("got %d notifications, want 1", len(out))
	}
	if out[0].Type != models.NotifyMilestone || out[0].Milestone != 1000 || out[0].Priority != models.PriorityHigh {
		t.Errorf("unexpected notice: %+v", out[0])
	}
	if out[0].Title != "1,000 Points Milestone! 🎯" {
		t.Errorf("title = %q", out[0].Title)
	}
}

func TestPolicy_MultipleMilestonesAscending(t *testing.T) {
	c := NewCenter("u1", nil)
	p := NewPolicy(c, "settlement")

	out := p.BalanceChanged(context.Background(), 900, 6000, "settlement")
	if len(out) != 2 {
		t.Fatalf("got %d notifications, want 2", len(out))
	}
	if out[0].Milestone != 1000 || out[1].Milestone != 5000 {
		t.Errorf("milestones = %d, %d", out[0].Milestone, out[1].Milestone)
	}
}

func TestPolicy_BalanceUpdate(t *testing.T) {
	tests := []struct {
		name     string
		old, new int64
		source   string
		wantType []models.NotificationType
	}{
		{"small gain", 2000, 2500, "claim_daily", nil},
		{"large gain", 2000, 3500, "claim_daily", []models.NotificationType{models.NotifyBalanceUpdate}},
		{"large loss", 3500, 2000, "set", []models.NotificationType{models.NotifyBalanceUpdate}},
		{"quiet source", 2000, 3500, "settlement", nil},
		{"milestone then update", 500, 1600, "claim_tier", []models.NotificationType{models.NotifyMilestone, models.NotifyBalanceUpdate}},
		{"exact threshold", 2000, 3000, "sync", []models.NotificationType{models.NotifyBalanceUpdate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(NewCenter("u1", nil), "settlement", "wager")
			out := p.BalanceChanged(context.Background(), tt.old, tt.new, tt.source)
			if len(out) != len(tt.wantType) {
				t.Fatalf("got %d notices, want %d", len(out), len(tt.wantType))
			}
			for i, n := range out {
				if n.Type != tt.wantType[i] {
					t.Errorf("notice %d type = %s, want %s", i, n.Type, tt.wantType[i])
				}
			}
		})
	}
}

func TestBalanceNotice_Wording(t *testing.T) {
	gain := BalanceNotice(1500)
	if gain.Title != "Points Gained! 💰" || gain.Message != "You gained 1,500 points!" || gain.Priority != models.PriorityMedium {
		t.Errorf("gain = %+v", gain)
	}
	loss := BalanceNotice(-2000)
	if loss.Title != "Points Spent" || loss.Message != "You spent 2,000 points." || loss.Priority != models.PriorityLow {
		t.Errorf("loss = %+v", loss)
	}
	if *loss.Points != -2000 || !loss.AutoDismiss {
		t.Errorf("loss points/autodismiss wrong: %+v", loss)
	}
}

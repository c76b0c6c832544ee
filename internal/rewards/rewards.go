package rewards

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kjannette/bitmage-backend/internal/models"
)

const (
	DailyPoints       int64 = 500
	StreakPoints      int64 = 500
	StreakBonusPoints int64 = 1500
	StreakLength            = 7
	MaxStreakHistory        = 30
	Cooldown                = 24 * time.Hour
)

var (
	ErrCooldown         = errors.New("claim not available yet")
	ErrInvalidStreakDay = errors.New("Invalid streak day progression")
	ErrUnknownTier      = errors.New("unknown avatar tier")
	ErrTierLocked       = errors.New("avatar tier not unlocked yet")
	ErrTierClaimed      = errors.New("avatar tier bonus already claimed")
)

// CooldownError reports how long until the next claim opens.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("claim not available yet, %s remaining", e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool { return target == ErrCooldown }

// TimeUntilNext is zero when a claim is open.
func TimeUntilNext(last *time.Time, now time.Time) time.Duration {
	if last == nil {
		return 0
	}
	if d := Cooldown - now.Sub(*last); d > 0 {
		return d
	}
	return 0
}

func CheckCooldown(last *time.Time, now time.Time) error {
	if d := TimeUntilNext(last, now); d > 0 {
		return &CooldownError{Remaining: d}
	}
	return nil
}

// NextStreakDay returns the day a claim after current must carry.
func NextStreakDay(current int) int {
	if current >= StreakLength || current < 0 {
		return 1
	}
	return current + 1
}

func StreakReward(day int) int64 {
	if day == StreakLength {
		return StreakBonusPoints
	}
	return StreakPoints
}

func ViewStreak(s models.StreakState, now time.Time) models.StreakView {
	if s.History == nil {
		s.History = []models.StreakEntry{}
	}
	return models.StreakView{
		StreakState: s,
		CanClaim:    TimeUntilNext(s.LastClaim, now) == 0,
		NextDay:     NextStreakDay(s.CurrentStreak),
	}
}

// ClaimStreak validates and applies a streak claim for day, returning the
// points awarded. s is unchanged on error.
func ClaimStreak(s *models.StreakState, day int, now time.Time) (int64, error) {
	if err := CheckCooldown(s.LastClaim, now); err != nil {
		return 0, err
	}
	if day != NextStreakDay(s.CurrentStreak) {
		return 0, ErrInvalidStreakDay
	}

	points := StreakReward(day)
	s.CurrentStreak = day
	s.LastClaim = &now
	s.History = append(s.History, models.StreakEntry{Day: day, Date: now, Points: points, Claimed: true})
	if len(s.History) > MaxStreakHistory {
		s.History = append([]models.StreakEntry(nil), s.History[len(s.History)-MaxStreakHistory:]...)
	}
	return points, nil
}

type Tier struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RequiredWins int    `json:"requiredWins"`
	Bonus        int64  `json:"pointsBonus"`
}

// Tiers are ordered by requirement.
var Tiers = []Tier{
	{ID: "apprentice", Name: "APPRENTICE", RequiredWins: 0, Bonus: 0},
	{ID: "seeker", Name: "SEEKER", RequiredWins: 10, Bonus: 5000},
	{ID: "acolyte", Name: "ACOLYTE", RequiredWins: 25, Bonus: 15000},
	{ID: "master", Name: "MASTER", RequiredWins: 40, Bonus: 30000},
	{ID: "wizard", Name: "WIZARD", RequiredWins: 70, Bonus: 50000},
}

func TierByID(id string) (Tier, bool) {
	for _, t := range Tiers {
		if t.ID == id {
			return t, true
		}
	}
	return Tier{}, false
}

// CheckTier reports whether t's bonus can be claimed. Tiers without a bonus
// count as already claimed.
func CheckTier(t Tier, wins int, claimed bool) error {
	if wins < t.RequiredWins {
		return ErrTierLocked
	}
	if claimed || t.Bonus == 0 {
		return ErrTierClaimed
	}
	return nil
}

func DailyNotice() models.Notification {
	return models.Notification{
		Type:        models.NotifyStreakClaim,
		Title:       "Daily Streak Claimed! 🔥",
		Message:     fmt.Sprintf("You've successfully claimed your daily %d points. Keep the streak alive!", DailyPoints),
		Points:      models.Pts(DailyPoints),
		Priority:    models.PriorityMedium,
		AutoDismiss: true,
	}
}

func StreakNotice(day int, points int64) models.Notification {
	if day == StreakLength {
		return models.Notification{
			Type:      models.NotifyStreakBonus,
			Title:     "Weekly Streak Complete! 👑",
			Message:   fmt.Sprintf("Incredible! You've completed a full 7-day streak and earned a bonus %d points!", points),
			Points:    models.Pts(points),
			Priority:  models.PriorityHigh,
			Milestone: StreakLength,
		}
	}
	return models.Notification{
		Type:     models.NotifyStreakClaim,
		Title:    fmt.Sprintf("Day %d Streak Claimed! 🔥", day),
		Message:  fmt.Sprintf("Great job! You've claimed day %d of your streak and earned %d points.", day, points),
		Points:   models.Pts(points),
		Priority: models.PriorityMedium,
	}
}

func TierNotice(t Tier) models.Notification {
	return models.Notification{
		Type:       models.NotifyAvatarUnlock,
		Title:      fmt.Sprintf("%s Tier Unlocked! 👑", t.Name),
		Message:    fmt.Sprintf("Congratulations! You've unlocked the %s avatar tier with %s correct predictions!", t.Name, humanize.Comma(int64(t.RequiredWins))),
		Points:     models.Pts(t.Bonus),
		Priority:   models.PriorityHigh,
		AvatarTier: t.Name,
	}
}

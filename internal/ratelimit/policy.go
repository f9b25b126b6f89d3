// Package ratelimit decides whether a new report job may be created.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/iago/mileage-reports-back/internal/domain"
)

// Limits holds the thresholds of the job-creation policy.
type Limits struct {
	SystemActiveLimit int
	CooldownWindow    time.Duration
	CooldownLimit     int
	DailyLimit        int
}

func DefaultLimits() Limits {
	return Limits{
		SystemActiveLimit: 50,
		CooldownWindow:    time.Minute,
		CooldownLimit:     1,
		DailyLimit:        10,
	}
}

// Counts are the observations the policy is evaluated against.
type Counts struct {
	UserID         string
	UserInCooldown int
	UserToday      int
	SystemActive   int
}

// Check evaluates the limits in a fixed order; the first violation wins.
func Check(limits Limits, counts Counts) error {
	if limits.SystemActiveLimit > 0 && counts.SystemActive >= limits.SystemActiveLimit {
		return domain.SystemLimit(fmt.Sprintf(
			"System is busy generating %d reports, please try again later",
			counts.SystemActive,
		))
	}
	if limits.CooldownLimit > 0 && counts.UserInCooldown >= limits.CooldownLimit {
		return domain.RateLimited("Too many requests")
	}
	if limits.DailyLimit > 0 && counts.UserToday >= limits.DailyLimit {
		return domain.RateLimited("Daily report limit reached")
	}
	return nil
}

// DayStart returns UTC midnight of the day containing now.
func DayStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

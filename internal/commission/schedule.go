package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSchedule reports malformed schedule configuration.
	ErrInvalidSchedule = errors.New("invalid commission schedule")
	// ErrNoActiveSchedule reports that no schedule is currently active.
	ErrNoActiveSchedule = errors.New("no active commission schedule")
)

// LevelPercent assigns a payout percentage to one upline level. Level 1 is
// the direct sponsor's own sponsor.
type LevelPercent struct {
	Level   int
	Percent decimal.Decimal
}

// Schedule is the versioned percentage table consumed by the Engine.
// At most one schedule is active at a time.
type Schedule struct {
	ScheduleID            string
	DirectReferralPercent decimal.Decimal
	Levels                []LevelPercent
	MatchingBonusPercent  decimal.Decimal
	Active                bool
	CreatedUnixUTC        int64
}

// ScheduleStore persists schedules. Replacing the active schedule deactivates
// the previous one in the same transaction.
type ScheduleStore interface {
	ActiveSchedule(ctx context.Context) (Schedule, error)
	ReplaceActiveSchedule(ctx context.Context, schedule Schedule) error
}

var oneHundred = decimal.NewFromInt(100)

// Validate rejects percentages outside (0,100] and out-of-order levels.
func (schedule Schedule) Validate() error {
	if !percentInRange(schedule.DirectReferralPercent) {
		return fmt.Errorf("%w: direct referral percentage %s out of range", ErrInvalidSchedule, schedule.DirectReferralPercent)
	}
	if schedule.MatchingBonusPercent.IsNegative() || schedule.MatchingBonusPercent.GreaterThan(oneHundred) {
		return fmt.Errorf("%w: matching bonus percentage %s out of range", ErrInvalidSchedule, schedule.MatchingBonusPercent)
	}
	for index, level := range schedule.Levels {
		if level.Level != index+1 {
			return fmt.Errorf("%w: levels must be contiguous from 1, got %d at position %d", ErrInvalidSchedule, level.Level, index)
		}
		if !percentInRange(level.Percent) {
			return fmt.Errorf("%w: level %d percentage %s out of range", ErrInvalidSchedule, level.Level, level.Percent)
		}
	}
	return nil
}

func percentInRange(percent decimal.Decimal) bool {
	return percent.IsPositive() && !percent.GreaterThan(oneHundred)
}

// DefaultSchedule is the documented first-run configuration:
// direct 10%, level-1 5%, level-2 3%, level-3 2%.
func DefaultSchedule() Schedule {
	return Schedule{
		ScheduleID:            uuid.NewString(),
		DirectReferralPercent: decimal.NewFromInt(10),
		Levels: []LevelPercent{
			{Level: 1, Percent: decimal.NewFromInt(5)},
			{Level: 2, Percent: decimal.NewFromInt(3)},
			{Level: 3, Percent: decimal.NewFromInt(2)},
		},
		MatchingBonusPercent: decimal.Zero,
		Active:               true,
	}
}

// EnsureDefaultSchedule persists the default schedule when none is active.
// Called once at startup so the hot distribution path never races two
// concurrent first-reads into creating two active schedules.
func EnsureDefaultSchedule(ctx context.Context, store ScheduleStore) (Schedule, error) {
	existing, err := store.ActiveSchedule(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNoActiveSchedule) {
		return Schedule{}, err
	}
	bootstrap := DefaultSchedule()
	if err := store.ReplaceActiveSchedule(ctx, bootstrap); err != nil {
		return Schedule{}, err
	}
	return bootstrap, nil
}

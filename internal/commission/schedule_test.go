package commission

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validSchedule() Schedule {
	return Schedule{
		ScheduleID:            "sched-1",
		DirectReferralPercent: decimal.NewFromInt(10),
		Levels: []LevelPercent{
			{Level: 1, Percent: decimal.NewFromInt(5)},
			{Level: 2, Percent: decimal.NewFromInt(3)},
		},
		Active: true,
	}
}

func TestScheduleValidate(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		mutate func(schedule *Schedule)
		wantOK bool
	}{
		{
			name:   "valid schedule passes",
			mutate: func(schedule *Schedule) {},
			wantOK: true,
		},
		{
			name:   "empty levels pass",
			mutate: func(schedule *Schedule) { schedule.Levels = nil },
			wantOK: true,
		},
		{
			name:   "zero direct percentage rejected",
			mutate: func(schedule *Schedule) { schedule.DirectReferralPercent = decimal.Zero },
		},
		{
			name:   "direct percentage above 100 rejected",
			mutate: func(schedule *Schedule) { schedule.DirectReferralPercent = decimal.NewFromInt(101) },
		},
		{
			name:   "negative matching bonus rejected",
			mutate: func(schedule *Schedule) { schedule.MatchingBonusPercent = decimal.NewFromInt(-1) },
		},
		{
			name:   "zero matching bonus passes",
			mutate: func(schedule *Schedule) { schedule.MatchingBonusPercent = decimal.Zero },
			wantOK: true,
		},
		{
			name: "gap in levels rejected",
			mutate: func(schedule *Schedule) {
				schedule.Levels = []LevelPercent{
					{Level: 1, Percent: decimal.NewFromInt(5)},
					{Level: 3, Percent: decimal.NewFromInt(2)},
				}
			},
		},
		{
			name: "levels not starting at 1 rejected",
			mutate: func(schedule *Schedule) {
				schedule.Levels = []LevelPercent{{Level: 2, Percent: decimal.NewFromInt(5)}}
			},
		},
		{
			name: "zero level percentage rejected",
			mutate: func(schedule *Schedule) {
				schedule.Levels = []LevelPercent{{Level: 1, Percent: decimal.Zero}}
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			schedule := validSchedule()
			testCase.mutate(&schedule)
			err := schedule.Validate()
			if testCase.wantOK && err != nil {
				test.Fatalf("expected valid, got %v", err)
			}
			if !testCase.wantOK && !errors.Is(err, ErrInvalidSchedule) {
				test.Fatalf("expected %v, got %v", ErrInvalidSchedule, err)
			}
		})
	}
}

func TestDefaultScheduleMatchesDocumentedPercentages(test *testing.T) {
	test.Parallel()
	schedule := DefaultSchedule()
	if err := schedule.Validate(); err != nil {
		test.Fatalf("default schedule invalid: %v", err)
	}
	if !schedule.DirectReferralPercent.Equal(decimal.NewFromInt(10)) {
		test.Fatalf("expected direct 10, got %s", schedule.DirectReferralPercent)
	}
	wantLevels := []int64{5, 3, 2}
	if len(schedule.Levels) != len(wantLevels) {
		test.Fatalf("expected %d levels, got %d", len(wantLevels), len(schedule.Levels))
	}
	for index, want := range wantLevels {
		if !schedule.Levels[index].Percent.Equal(decimal.NewFromInt(want)) {
			test.Fatalf("level %d: expected %d, got %s", index+1, want, schedule.Levels[index].Percent)
		}
	}
}

func TestEnsureDefaultSchedule(test *testing.T) {
	test.Parallel()

	test.Run("persists default when none active", func(test *testing.T) {
		test.Parallel()
		store := &memoryScheduleStore{activeError: ErrNoActiveSchedule}
		schedule, err := EnsureDefaultSchedule(context.Background(), store)
		if err != nil {
			test.Fatalf("bootstrap: %v", err)
		}
		if !schedule.DirectReferralPercent.Equal(decimal.NewFromInt(10)) {
			test.Fatalf("expected default schedule, got %+v", schedule)
		}
		persisted, err := store.ActiveSchedule(context.Background())
		if err != nil {
			test.Fatalf("active schedule after bootstrap: %v", err)
		}
		if persisted.ScheduleID != schedule.ScheduleID {
			test.Fatal("bootstrap must persist the schedule it returns")
		}
	})

	test.Run("keeps an existing schedule", func(test *testing.T) {
		test.Parallel()
		existing := validSchedule()
		store := &memoryScheduleStore{schedule: existing}
		schedule, err := EnsureDefaultSchedule(context.Background(), store)
		if err != nil {
			test.Fatalf("bootstrap: %v", err)
		}
		if schedule.ScheduleID != existing.ScheduleID {
			test.Fatalf("expected existing schedule, got %+v", schedule)
		}
	})

	test.Run("surfaces store failures", func(test *testing.T) {
		test.Parallel()
		errBroken := errors.New("schedule store down")
		store := &memoryScheduleStore{activeError: errBroken}
		if _, err := EnsureDefaultSchedule(context.Background(), store); !errors.Is(err, errBroken) {
			test.Fatalf("expected %v, got %v", errBroken, err)
		}
	})
}

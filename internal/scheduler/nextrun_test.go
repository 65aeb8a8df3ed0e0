package scheduler_test

import (
	"testing"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/scheduler"
)

func ts(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestNextRun_Once(t *testing.T) {
	runAt := ts(2024, time.May, 1, 12, 0)
	task := &domain.Task{
		ScheduleType: domain.ScheduleOnce,
		Schedule:     domain.ScheduleConfig{RunAt: &runAt},
	}

	next, err := scheduler.NextRun(task, ts(2024, time.April, 1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || !next.Equal(runAt) {
		t.Fatalf("NextRun = %v, want %v", next, runAt)
	}

	// Already executed: no further run.
	task.TotalRuns = 1
	next, err = scheduler.NextRun(task, ts(2024, time.April, 1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Fatalf("NextRun after execution = %v, want nil", next)
	}
}

func TestNextRun_Interval(t *testing.T) {
	task := &domain.Task{
		ScheduleType: domain.ScheduleInterval,
		Schedule:     domain.ScheduleConfig{IntervalSeconds: 300},
	}

	base := ts(2024, time.May, 1, 12, 0)
	next, err := scheduler.NextRun(task, base)
	if err != nil {
		t.Fatal(err)
	}
	if want := base.Add(5 * time.Minute); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}
}

// TestNextRun_IntervalBeforeStart verifies the first interval run counts
// from start_date when the base precedes it.
func TestNextRun_IntervalBeforeStart(t *testing.T) {
	start := ts(2024, time.June, 1, 0, 0)
	task := &domain.Task{
		ScheduleType: domain.ScheduleInterval,
		Schedule:     domain.ScheduleConfig{IntervalSeconds: 3600},
		StartDate:    &start,
	}

	next, err := scheduler.NextRun(task, ts(2024, time.May, 1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := start.Add(time.Hour); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}
}

func TestNextRun_Daily(t *testing.T) {
	task := &domain.Task{
		ScheduleType: domain.ScheduleDaily,
		Schedule:     domain.ScheduleConfig{Hour: 9, Minute: 30},
	}

	// Before today's slot: today.
	next, _ := scheduler.NextRun(task, ts(2024, time.May, 1, 8, 0))
	if want := ts(2024, time.May, 1, 9, 30); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}

	// At the slot exactly: tomorrow (strictly after).
	next, _ = scheduler.NextRun(task, ts(2024, time.May, 1, 9, 30))
	if want := ts(2024, time.May, 2, 9, 30); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}
}

// TestNextRun_Weekly uses the Monday=0 weekday convention.
func TestNextRun_Weekly(t *testing.T) {
	task := &domain.Task{
		ScheduleType: domain.ScheduleWeekly,
		Schedule: domain.ScheduleConfig{
			Hour:     10,
			Minute:   0,
			Weekdays: []int{0, 4}, // Monday, Friday
		},
	}

	// Wednesday 15 May 2024 -> Friday 17 May.
	next, err := scheduler.NextRun(task, ts(2024, time.May, 15, 12, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := ts(2024, time.May, 17, 10, 0); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}

	// Friday after the slot -> Monday 20 May.
	next, _ = scheduler.NextRun(task, ts(2024, time.May, 17, 11, 0))
	if want := ts(2024, time.May, 20, 10, 0); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}
}

// TestNextRun_MonthlyClamp verifies day 31 clamps to the last day of
// shorter months.
func TestNextRun_MonthlyClamp(t *testing.T) {
	task := &domain.Task{
		ScheduleType: domain.ScheduleMonthly,
		Schedule: domain.ScheduleConfig{
			Hour:      8,
			Minute:    0,
			MonthDays: []int{31},
		},
	}

	// From 1 April: April has 30 days, so the run clamps to 30 April.
	next, err := scheduler.NextRun(task, ts(2024, time.April, 1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := ts(2024, time.April, 30, 8, 0); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}

	// February 2024 is a leap year: clamps to the 29th.
	next, _ = scheduler.NextRun(task, ts(2024, time.February, 1, 0, 0))
	if want := ts(2024, time.February, 29, 8, 0); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}
}

func TestNextRun_CronWeekdays(t *testing.T) {
	task := &domain.Task{
		ScheduleType: domain.ScheduleCron,
		Schedule:     domain.ScheduleConfig{Expression: "0 9 * * 1-5"},
	}

	// Monday 8 January 2024 at 08:00 -> 09:00 same day.
	next, err := scheduler.NextRun(task, ts(2024, time.January, 8, 8, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := ts(2024, time.January, 8, 9, 0); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}

	// Saturday 6 January -> Monday 8 January 09:00.
	next, _ = scheduler.NextRun(task, ts(2024, time.January, 6, 12, 0))
	if want := ts(2024, time.January, 8, 9, 0); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}
}

func TestNextRun_EndDate(t *testing.T) {
	end := ts(2024, time.May, 1, 0, 0)
	task := &domain.Task{
		ScheduleType: domain.ScheduleDaily,
		Schedule:     domain.ScheduleConfig{Hour: 12},
		EndDate:      &end,
	}

	next, err := scheduler.NextRun(task, ts(2024, time.April, 30, 13, 0))
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Fatalf("NextRun past end_date = %v, want nil", next)
	}
}

func TestNextRun_Timezone(t *testing.T) {
	task := &domain.Task{
		ScheduleType: domain.ScheduleDaily,
		Schedule:     domain.ScheduleConfig{Hour: 9, Timezone: "America/New_York"},
	}

	// 12:00 UTC on 15 June is 08:00 in New York (EDT); the 09:00 local
	// slot is 13:00 UTC the same day.
	next, err := scheduler.NextRun(task, ts(2024, time.June, 15, 12, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := ts(2024, time.June, 15, 13, 0); !next.UTC().Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next.UTC(), want)
	}
}

func TestNextRun_UnknownTimezone(t *testing.T) {
	task := &domain.Task{
		ScheduleType: domain.ScheduleDaily,
		Schedule:     domain.ScheduleConfig{Hour: 9, Timezone: "Mars/Olympus"},
	}
	if _, err := scheduler.NextRun(task, ts(2024, time.June, 15, 12, 0)); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

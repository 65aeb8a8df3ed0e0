package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/notifyhub/dispatch/internal/cron"
	"github.com/notifyhub/dispatch/internal/domain"
)

// NextRun computes the task's next run instant strictly after base.
// A nil result with nil error means the schedule has no further run
// (one-shot already executed, or the next instant falls past end_date).
func NextRun(t *domain.Task, base time.Time) (*time.Time, error) {
	loc, err := scheduleLocation(t.Schedule.Timezone)
	if err != nil {
		return nil, err
	}

	var next time.Time
	switch t.ScheduleType {
	case domain.ScheduleOnce:
		if t.TotalRuns > 0 {
			return nil, nil
		}
		next = *t.Schedule.RunAt

	case domain.ScheduleInterval:
		if t.StartDate != nil && t.StartDate.After(base) {
			base = *t.StartDate
		}
		next = base.Add(time.Duration(t.Schedule.IntervalSeconds) * time.Second)

	case domain.ScheduleDaily:
		next = nextDaily(base.In(loc), t.Schedule.Hour, t.Schedule.Minute)

	case domain.ScheduleWeekly:
		next, err = nextWeekly(base.In(loc), t.Schedule)
		if err != nil {
			return nil, err
		}

	case domain.ScheduleMonthly:
		next, err = nextMonthly(base.In(loc), t.Schedule)
		if err != nil {
			return nil, err
		}

	case domain.ScheduleCron:
		schedule, perr := cron.Parse(t.Schedule.Expression)
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSchedule, perr)
		}
		next, err = schedule.Next(base.In(loc))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSchedule, err)
		}

	default:
		return nil, domain.ErrInvalidSchedule
	}

	if t.EndDate != nil && next.After(*t.EndDate) {
		return nil, nil
	}
	return &next, nil
}

func scheduleLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidSchedule, name)
	}
	return loc, nil
}

// nextDaily returns the next hh:mm wall-clock instant strictly after base.
func nextDaily(base time.Time, hour, minute int) time.Time {
	candidate := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, base.Location())
	if !candidate.After(base) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// specWeekday converts Go's Sunday=0 weekday to the schedule's Monday=0
// convention.
func specWeekday(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

func nextWeekly(base time.Time, cfg domain.ScheduleConfig) (time.Time, error) {
	if len(cfg.Weekdays) == 0 {
		return time.Time{}, fmt.Errorf("%w: weekly schedule needs weekdays", domain.ErrInvalidSchedule)
	}
	wanted := make(map[int]bool, len(cfg.Weekdays))
	for _, d := range cfg.Weekdays {
		wanted[d] = true
	}

	for i := 0; i < 8; i++ {
		day := base.AddDate(0, 0, i)
		if !wanted[specWeekday(day.Weekday())] {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), cfg.Hour, cfg.Minute, 0, 0, base.Location())
		if candidate.After(base) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: no weekly match", domain.ErrInvalidSchedule)
}

func nextMonthly(base time.Time, cfg domain.ScheduleConfig) (time.Time, error) {
	if len(cfg.MonthDays) == 0 {
		return time.Time{}, fmt.Errorf("%w: monthly schedule needs month days", domain.ErrInvalidSchedule)
	}
	days := append([]int(nil), cfg.MonthDays...)
	sort.Ints(days)

	// 13 months covers every (day, month-length) combination from base.
	for i := 0; i < 13; i++ {
		month := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, base.Location()).AddDate(0, i, 0)
		last := daysInMonth(month.Year(), month.Month())
		for _, d := range days {
			if d > last {
				d = last // clamp to the actual last day of the month
			}
			candidate := time.Date(month.Year(), month.Month(), d, cfg.Hour, cfg.Minute, 0, 0, base.Location())
			if candidate.After(base) {
				return candidate, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: no monthly match", domain.ErrInvalidSchedule)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

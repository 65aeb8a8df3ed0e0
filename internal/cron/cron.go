// Package cron parses 5-field cron expressions and computes schedule
// matches on minute granularity.
//
// Weekday semantics: the day-of-month and day-of-week fields must BOTH
// match (intersection). Classical cron treats two constrained day fields
// as a union; this package deliberately does not.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseError reports which field of the expression failed and why.
// Field indexes: 0=minute, 1=hour, 2=day-of-month, 3=month, 4=day-of-week.
type ParseError struct {
	Field  int
	Reason string
}

var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

func (e *ParseError) Error() string {
	if e.Field < 0 || e.Field >= len(fieldNames) {
		return fmt.Sprintf("cron: %s", e.Reason)
	}
	return fmt.Sprintf("cron: field %s: %s", fieldNames[e.Field], e.Reason)
}

// searchHorizon bounds the minute-stepping match search at four years.
const searchHorizon = 4 * 365 * 24 * 60

var fieldRanges = [5]struct{ min, max int }{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day-of-month
	{1, 12}, // month
	{0, 6},  // day-of-week, Sunday = 0
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

var aliases = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// Schedule is a parsed cron expression. The zero value is not usable;
// construct via Parse.
type Schedule struct {
	minute map[int]bool
	hour   map[int]bool
	dom    map[int]bool
	month  map[int]bool
	dow    map[int]bool
	expr   string
}

// Parse compiles a 5-field cron expression or an @-alias into a Schedule.
func Parse(expr string) (*Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if alias, ok := aliases[strings.ToLower(trimmed)]; ok {
		trimmed = alias
	}

	fields := strings.Fields(trimmed)
	if len(fields) != 5 {
		return nil, &ParseError{Field: -1, Reason: fmt.Sprintf("expected 5 fields, got %d", len(fields))}
	}

	sets := make([]map[int]bool, 5)
	for i, field := range fields {
		set, err := parseField(i, field)
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}

	return &Schedule{
		minute: sets[0],
		hour:   sets[1],
		dom:    sets[2],
		month:  sets[3],
		dow:    sets[4],
		expr:   expr,
	}, nil
}

// MustParse is Parse for statically known expressions; it panics on error.
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the original expression.
func (s *Schedule) String() string { return s.expr }

// Matches reports whether t satisfies every field of the schedule.
func (s *Schedule) Matches(t time.Time) bool {
	return s.minute[t.Minute()] &&
		s.hour[t.Hour()] &&
		s.dom[t.Day()] &&
		s.month[int(t.Month())] &&
		s.dow[int(t.Weekday())]
}

// Next returns the first matching instant strictly after t, stepping in
// whole minutes. The search is bounded at four years; a schedule with no
// match inside the horizon yields an error.
func (s *Schedule) Next(t time.Time) (time.Time, error) {
	// Round up to the next whole minute.
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < searchHorizon; i++ {
		if s.Matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, &ParseError{Field: -1, Reason: "no matching time within four years"}
}

// Prev returns the last matching instant at or before t.
func (s *Schedule) Prev(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute)
	for i := 0; i < searchHorizon; i++ {
		if s.Matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(-time.Minute)
	}
	return time.Time{}, &ParseError{Field: -1, Reason: "no matching time within four years"}
}

// parseField expands one field into its value set. Accepts *, comma lists,
// ranges a-b, steps */n and a-b/n, and name aliases for months/weekdays.
func parseField(index int, field string) (map[int]bool, error) {
	bounds := fieldRanges[index]
	set := make(map[int]bool)

	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return nil, &ParseError{Field: index, Reason: "empty list element"}
		}

		expr, step := part, 1
		if slash := strings.IndexByte(part, '/'); slash >= 0 {
			n, err := strconv.Atoi(part[slash+1:])
			if err != nil {
				return nil, &ParseError{Field: index, Reason: fmt.Sprintf("bad step %q", part[slash+1:])}
			}
			if n <= 0 {
				return nil, &ParseError{Field: index, Reason: "step must be positive"}
			}
			expr, step = part[:slash], n
		}

		lo, hi := bounds.min, bounds.max
		switch {
		case expr == "*":
			// full range
		case strings.Contains(expr, "-"):
			parts := strings.SplitN(expr, "-", 2)
			var err error
			if lo, err = parseValue(index, parts[0]); err != nil {
				return nil, err
			}
			if hi, err = parseValue(index, parts[1]); err != nil {
				return nil, err
			}
			if lo > hi {
				return nil, &ParseError{Field: index, Reason: fmt.Sprintf("inverted range %q", expr)}
			}
		default:
			v, err := parseValue(index, expr)
			if err != nil {
				return nil, err
			}
			lo, hi = v, v
		}

		if lo < bounds.min || hi > bounds.max {
			return nil, &ParseError{
				Field:  index,
				Reason: fmt.Sprintf("value out of range %d-%d", bounds.min, bounds.max),
			}
		}

		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}

	return set, nil
}

// parseValue resolves a single numeric value or name alias.
func parseValue(index int, s string) (int, error) {
	lower := strings.ToLower(s)
	if index == 3 {
		if v, ok := monthNames[lower]; ok {
			return v, nil
		}
	}
	if index == 4 {
		if v, ok := dayNames[lower]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ParseError{Field: index, Reason: fmt.Sprintf("bad value %q", s)}
	}
	bounds := fieldRanges[index]
	if v < bounds.min || v > bounds.max {
		return 0, &ParseError{
			Field:  index,
			Reason: fmt.Sprintf("value %d out of range %d-%d", v, bounds.min, bounds.max),
		}
	}
	return v, nil
}

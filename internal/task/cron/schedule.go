package cron

import (
	"fmt"
	"strings"
	"time"
)

// Spec holds the six textual sub-expressions of a schedule.
type Spec struct {
	Month   string `json:"month"`
	Day     string `json:"day"`
	Hour    string `json:"hour"`
	Minute  string `json:"minute"`
	Second  string `json:"second"`
	Weekday string `json:"weekday"`
}

// DefaultSpec returns a Spec with every field set to "*".
func DefaultSpec() Spec {
	return Spec{Month: "*", Day: "*", Hour: "*", Minute: "*", Second: "*", Weekday: "*"}
}

// IsZero reports whether none of the six fields was supplied.
func (s Spec) IsZero() bool {
	return s.Month == "" && s.Day == "" && s.Hour == "" &&
		s.Minute == "" && s.Second == "" && s.Weekday == ""
}

// String renders the spec in "second minute hour day month weekday" order.
func (s Spec) String() string {
	return strings.Join([]string{s.Second, s.Minute, s.Hour, s.Day, s.Month, s.Weekday}, " ")
}

// Schedule matches wall-clock instants at second granularity.
type Schedule struct {
	spec Spec

	month   Field
	day     Field
	hour    Field
	minute  Field
	second  Field
	weekday Field
}

// NewSchedule parses all six fields of spec.
//
// Weekday accepts 0 and 7 for Sunday: every '0' in the weekday text is
// rewritten to '7' before parsing against [1,7].
func NewSchedule(spec Spec) (*Schedule, error) {
	if spec.IsZero() {
		return nil, fmt.Errorf("%w: at least one time field must be provided", ErrSyntax)
	}

	s := &Schedule{spec: spec}
	fields := []struct {
		name     string
		expr     string
		min, max int
		dst      *Field
	}{
		{"month", spec.Month, 1, 12, &s.month},
		{"day", spec.Day, 1, 31, &s.day},
		{"hour", spec.Hour, 0, 23, &s.hour},
		{"minute", spec.Minute, 0, 59, &s.minute},
		{"second", spec.Second, 0, 59, &s.second},
		{"weekday", strings.ReplaceAll(spec.Weekday, "0", "7"), 1, 7, &s.weekday},
	}
	for _, f := range fields {
		parsed, err := ParseField(f.expr, f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = parsed
	}
	return s, nil
}

// Matches reports whether t (truncated to the second) is a trigger instant.
//
// Second, minute, hour and month must all match. When both day and weekday
// are wildcards the date always matches; otherwise the date matches if
// either day-of-month or weekday matches.
func (s *Schedule) Matches(t time.Time) bool {
	if !s.second.Contains(t.Second()) ||
		!s.minute.Contains(t.Minute()) ||
		!s.hour.Contains(t.Hour()) ||
		!s.month.Contains(int(t.Month())) {
		return false
	}
	return s.matchesDate(t)
}

func (s *Schedule) matchesDate(t time.Time) bool {
	if s.day.Wildcard() && s.weekday.Wildcard() {
		return true
	}
	return s.day.Contains(t.Day()) || s.weekday.Contains(isoWeekday(t))
}

// isoWeekday maps time.Weekday to 1 (Monday) .. 7 (Sunday).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// nextSearchYears bounds Next; Feb 29 combined with a weekday can take
// several years to recur.
const nextSearchYears = 8

// Next returns the first trigger instant strictly after t, in t's location.
// The boolean is false when nothing matches within the search window.
func (s *Schedule) Next(t time.Time) (time.Time, bool) {
	t = t.Truncate(time.Second)
	loc := t.Location()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	limit := day.AddDate(nextSearchYears, 0, 0)

	for ; day.Before(limit); day = day.AddDate(0, 0, 1) {
		if !s.month.Contains(int(day.Month())) || !s.matchesDate(day) {
			continue
		}
		for _, h := range s.hour.values {
			for _, m := range s.minute.values {
				for _, sec := range s.second.values {
					cand := time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, loc)
					if cand.After(t) && s.Matches(cand) {
						return cand, true
					}
				}
			}
		}
	}
	return time.Time{}, false
}

// Spec returns the texts the schedule was built from.
func (s *Schedule) Spec() Spec { return s.spec }

func (s *Schedule) Month() Field   { return s.month }
func (s *Schedule) Day() Field     { return s.day }
func (s *Schedule) Hour() Field    { return s.hour }
func (s *Schedule) Minute() Field  { return s.minute }
func (s *Schedule) Second() Field  { return s.second }
func (s *Schedule) Weekday() Field { return s.weekday }

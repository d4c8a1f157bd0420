// Package recurrence decides which calendar days a medication rule falls on.
//
// Everything here is pure: no I/O, no clock. Callers pass dates explicitly
// so that results are reproducible.
package recurrence

import (
	"medremind/internal/model"
)

// DefaultHorizonDays bounds every forward search (8 weeks).
const DefaultHorizonDays = 56

// Matches reports whether date is an occurrence day of rule for a medication
// running from start to end (inclusive; end may be nil for unbounded).
//
// Malformed persisted data never panics: unknown weekday abbreviations are
// ignored and a non-positive interval matches nothing.
func Matches(rule model.Rule, date, start model.Date, end *model.Date) bool {
	if date.Before(start) {
		return false
	}
	if end != nil && date.After(*end) {
		return false
	}

	switch rule.Kind {
	case model.RuleDaily:
		return true
	case model.RuleWeeklyDays:
		wd := date.Weekday()
		for _, d := range rule.Days {
			if t, ok := d.Time(); ok && t == wd {
				return true
			}
		}
		return false
	case model.RuleEveryXDays:
		if rule.Interval <= 0 {
			return false
		}
		days := date.DaysSince(start)
		return days >= 0 && days%rule.Interval == 0
	default:
		return false
	}
}

// NextOnOrAfter scans forward from max(from, start) and returns the first
// matching day. The scan looks at no more than horizonDays days and stops
// early once it passes end.
func NextOnOrAfter(rule model.Rule, from, start model.Date, end *model.Date, horizonDays int) (model.Date, bool) {
	if horizonDays <= 0 {
		return model.Date{}, false
	}
	day := from
	if start.After(day) {
		day = start
	}
	for i := 0; i < horizonDays; i++ {
		if end != nil && day.After(*end) {
			return model.Date{}, false
		}
		if Matches(rule, day, start, end) {
			return day, true
		}
		day = day.AddDays(1)
	}
	return model.Date{}, false
}

// Package trigger turns an occurrence (date + "HH:MM") into the absolute
// instant its reminder should fire.
package trigger

import (
	"time"

	"medremind/internal/model"
)

// DefaultLead is how long before an occurrence its reminder fires.
const DefaultLead = 10 * time.Minute

// Occurrence returns the wall-clock instant of timeOfDay on date in loc.
// ok is false when timeOfDay is not a strict HH:MM value.
func Occurrence(date model.Date, timeOfDay string, loc *time.Location) (time.Time, bool) {
	hour, minute, err := model.ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, false
	}
	return date.At(hour, minute, loc), true
}

// Compute returns the reminder instant (in UTC) for the occurrence at
// date/timeOfDay, lead before it. The local offset is the one in effect on
// date, so a reminder scheduled before a DST change still fires at the
// intended wall-clock time.
//
// ok is false for an invalid timeOfDay and for triggers that are not
// strictly after now; callers skip those.
func Compute(date model.Date, timeOfDay string, lead time.Duration, now time.Time, loc *time.Location) (time.Time, bool) {
	at, ok := Occurrence(date, timeOfDay, loc)
	if !ok {
		return time.Time{}, false
	}
	fire := at.Add(-lead)
	if !fire.After(now) {
		return time.Time{}, false
	}
	return fire.UTC(), true
}

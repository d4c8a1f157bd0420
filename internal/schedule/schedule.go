// Package schedule aggregates recurrence evaluation and trigger computation
// across medications into the set of reminders that should be pending.
package schedule

import (
	"fmt"
	"sort"
	"time"

	appLog "medremind/internal/log"
	"medremind/internal/model"
	"medremind/internal/recurrence"
	"medremind/internal/trigger"
)

// Candidate is one reminder the notification service should hold.
type Candidate struct {
	MedicationID uint
	Name         string
	Form         model.Form
	Date         model.Date
	Time         string
	FireAt       time.Time
	// AdHoc marks reminders produced by a reschedule rather than the rule.
	AdHoc bool
}

func (c Candidate) Correlation() model.Correlation {
	return model.Correlation{MedicationID: c.MedicationID, Time: c.Time, Date: c.Date}
}

// Title and Body are the notification texts for the candidate.
func (c Candidate) Title() string {
	return c.Name
}

func (c Candidate) Body() string {
	return fmt.Sprintf("%s at %s", c.Form.Label(), c.Time)
}

type slotKey struct {
	medicationID uint
	date         model.Date
	time         string
}

// Builder computes candidates. The zero value uses the default lead time,
// the default horizon and time.Local.
type Builder struct {
	Lead        time.Duration
	HorizonDays int
	Location    *time.Location
}

func (b Builder) lead() time.Duration {
	if b.Lead <= 0 {
		return trigger.DefaultLead
	}
	return b.Lead
}

func (b Builder) horizon() int {
	if b.HorizonDays <= 0 {
		return recurrence.DefaultHorizonDays
	}
	return b.HorizonDays
}

func (b Builder) location() *time.Location {
	if b.Location == nil {
		return time.Local
	}
	return b.Location
}

// Build returns every pending reminder for meds as of now, sorted by fire
// time. extras are one-off occurrences (reschedules); they become reminders
// when their medication is in meds, they lie inside the horizon and they do
// not duplicate a rule-produced slot.
//
// Daily rules produce only the next reminder per time slot. Weekday and
// interval rules produce every reminder inside the horizon.
func (b Builder) Build(meds []model.Medication, extras []model.Occurrence, now time.Time) []Candidate {
	loc := b.location()
	today := model.DateOf(now.In(loc))

	out := make([]Candidate, 0)
	seen := make(map[slotKey]bool)
	add := func(c Candidate) {
		k := slotKey{c.MedicationID, c.Date, c.Time}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, c)
	}

	byID := make(map[uint]model.Medication, len(meds))
	for _, med := range meds {
		byID[med.ID] = med
		for _, c := range b.forMedication(med, today, now) {
			add(c)
		}
	}

	for _, occ := range extras {
		med, ok := byID[occ.MedicationID]
		if !ok {
			continue
		}
		if d := occ.Date.DaysSince(today); d < 0 || d >= b.horizon() {
			continue
		}
		fire, ok := trigger.Compute(occ.Date, occ.Time, b.lead(), now, loc)
		if !ok {
			continue
		}
		add(Candidate{
			MedicationID: med.ID,
			Name:         med.Name,
			Form:         med.Form,
			Date:         occ.Date,
			Time:         occ.Time,
			FireAt:       fire,
			AdHoc:        true,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if !a.FireAt.Equal(c.FireAt) {
			return a.FireAt.Before(c.FireAt)
		}
		if a.MedicationID != c.MedicationID {
			return a.MedicationID < c.MedicationID
		}
		if a.Date != c.Date {
			return a.Date.Before(c.Date)
		}
		return a.Time < c.Time
	})

	return out
}

func (b Builder) forMedication(med model.Medication, today model.Date, now time.Time) []Candidate {
	loc := b.location()
	horizon := b.horizon()

	candidate := func(day model.Date, tod string, fire time.Time) Candidate {
		return Candidate{
			MedicationID: med.ID,
			Name:         med.Name,
			Form:         med.Form,
			Date:         day,
			Time:         tod,
			FireAt:       fire,
		}
	}

	var out []Candidate
	switch med.Rule.Kind {
	case model.RuleDaily:
		for _, tod := range med.Times {
			from := today
			for {
				remaining := horizon - from.DaysSince(today)
				day, ok := recurrence.NextOnOrAfter(med.Rule, from, med.StartDate, med.EndDate, remaining)
				if !ok || day.DaysSince(today) >= horizon {
					break
				}
				if fire, ok := trigger.Compute(day, tod, b.lead(), now, loc); ok {
					out = append(out, candidate(day, tod, fire))
					break
				}
				from = day.AddDays(1)
			}
		}
	case model.RuleWeeklyDays, model.RuleEveryXDays:
		days := recurrence.Between(med.Rule, today, med.StartDate, med.EndDate, horizon)
		for _, tod := range med.Times {
			for _, day := range days {
				if fire, ok := trigger.Compute(day, tod, b.lead(), now, loc); ok {
					out = append(out, candidate(day, tod, fire))
				}
			}
		}
	default:
		appLog.Debug("schedule: skipping medication with unknown rule", "medication_id", med.ID, "kind", string(med.Rule.Kind))
	}
	return out
}

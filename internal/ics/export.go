// Package ics renders the medication schedule as an iCalendar feed so that
// any calendar client can show (and alarm on) the same occurrences the
// reminder engine schedules.
package ics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "medremind/internal/log"
	"medremind/internal/model"
	"medremind/internal/recurrence"
	"medremind/internal/trigger"
)

const (
	productID  = "-//medremind//medication schedule//EN"
	eventLen   = "PT5M"
	icsLocal   = "20060102T150405"
	icsUTC     = "20060102T150405Z"
	uidDomain  = "medremind"
	calendarNm = "Medications"
)

// Exporter builds calendars in one zone with one alarm lead.
type Exporter struct {
	Location *time.Location
	Lead     time.Duration
}

func (e Exporter) location() *time.Location {
	if e.Location == nil {
		return time.Local
	}
	return e.Location
}

// zoneID returns the TZID to stamp on local times. ok is false for zones
// without a loadable IANA name (time.Local, fixed offsets); those are
// written as floating local times, which clients read in their own zone.
func zoneID(loc *time.Location) (id string, ok bool) {
	id = loc.String()
	if id == "" || id == "Local" || id == "UTC" {
		return "", false
	}
	if _, err := time.LoadLocation(id); err != nil {
		return "", false
	}
	return id, true
}

func (e Exporter) lead() time.Duration {
	if e.Lead <= 0 {
		return trigger.DefaultLead
	}
	return e.Lead
}

// Calendar renders one recurring VEVENT per medication time of day plus a
// single VEVENT per ad-hoc occurrence. Medications whose rule or times
// cannot be rendered are logged and skipped.
func (e Exporter) Calendar(meds []model.Medication, extras []model.Occurrence, now time.Time) *ical.Calendar {
	loc := e.location()

	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(calendarNm)

	byID := make(map[uint]model.Medication, len(meds))
	for _, med := range meds {
		byID[med.ID] = med

		rrule, err := e.rrule(med)
		if err != nil {
			appLog.Warn("ics export: rule skipped", err, "medication_id", med.ID, "rule", med.Rule.String())
			continue
		}
		for _, tod := range med.Times {
			h, m, err := model.ParseTimeOfDay(tod)
			if err != nil {
				appLog.Warn("ics export: time skipped", err, "medication_id", med.ID)
				continue
			}
			first := recurrenceStart(med)
			ev := cal.AddEvent(fmt.Sprintf("med-%d-%s@%s", med.ID, strings.Replace(tod, ":", "", 1), uidDomain))
			e.fill(ev, med, tod, first.At(h, m, loc), now)
			ev.AddProperty(ical.ComponentPropertyRrule, rrule)
		}
	}

	sorted := append([]model.Occurrence(nil), extras...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].Time < sorted[j].Time
	})
	for _, o := range sorted {
		med, ok := byID[o.MedicationID]
		if !ok {
			continue
		}
		h, m, err := model.ParseTimeOfDay(o.Time)
		if err != nil {
			continue
		}
		uid := fmt.Sprintf("med-%d-%s-%s@%s", med.ID, o.Date.String(), strings.Replace(o.Time, ":", "", 1), uidDomain)
		e.fill(cal.AddEvent(uid), med, o.Time, o.Date.At(h, m, loc), now)
	}

	return cal
}

// Export serializes Calendar.
func (e Exporter) Export(meds []model.Medication, extras []model.Occurrence, now time.Time) []byte {
	return []byte(e.Calendar(meds, extras, now).Serialize())
}

func (e Exporter) fill(ev *ical.VEvent, med model.Medication, tod string, start, now time.Time) {
	ev.SetDtStampTime(now)
	ev.SetSummary(med.Name)

	desc := fmt.Sprintf("%s at %s", med.Form.Label(), tod)
	if med.Instructions != "" {
		desc += "\n" + med.Instructions
	}
	ev.SetDescription(desc)

	loc := e.location()
	if loc == time.UTC {
		ev.SetProperty(ical.ComponentPropertyDtStart, start.UTC().Format(icsUTC))
	} else if id, ok := zoneID(loc); ok {
		ev.SetProperty(ical.ComponentPropertyDtStart, start.In(loc).Format(icsLocal), ical.WithTZID(id))
	} else {
		ev.SetProperty(ical.ComponentPropertyDtStart, start.In(loc).Format(icsLocal))
	}
	ev.SetProperty(ical.ComponentPropertyDuration, eventLen)

	alarm := ev.AddAlarm()
	alarm.SetAction(ical.ActionDisplay)
	alarm.SetTrigger(alarmTrigger(e.lead()))
	alarm.SetProperty(ical.ComponentPropertyDescription, med.Name)
}

// rrule renders the RRULE value matching the DTSTART form fill writes.
// With a floating DTSTART, UNTIL must be floating too: the rule is built on
// UTC civil days and the Z suffix dropped.
func (e Exporter) rrule(med model.Medication) (string, error) {
	loc := e.location()
	if _, ok := zoneID(loc); ok || loc == time.UTC {
		return recurrence.RRuleString(med.Rule, med.StartDate, med.EndDate, loc)
	}
	r, err := recurrence.RRuleString(med.Rule, med.StartDate, med.EndDate, time.UTC)
	if err != nil {
		return "", err
	}
	return floatingUntil.ReplaceAllString(r, "UNTIL=$1"), nil
}

var floatingUntil = regexp.MustCompile(`UNTIL=(\d{8}T\d{6})Z`)

// recurrenceStart is the first occurrence day on or after the start date.
// Weekly rules may not include the start date itself, and DTSTART is always
// counted as an instance.
func recurrenceStart(med model.Medication) model.Date {
	d, ok := recurrence.NextOnOrAfter(med.Rule, med.StartDate, med.StartDate, med.EndDate, 7)
	if !ok {
		return med.StartDate
	}
	return d
}

// alarmTrigger renders a negative duration such as -PT10M.
func alarmTrigger(lead time.Duration) string {
	minutes := int(lead / time.Minute)
	if minutes%60 == 0 {
		return fmt.Sprintf("-PT%dH", minutes/60)
	}
	return fmt.Sprintf("-PT%dM", minutes)
}

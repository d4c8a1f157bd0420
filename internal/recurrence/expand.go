package recurrence

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "medremind/internal/log"
	"medremind/internal/model"
)

// ErrNoValidDays is returned for a weekly rule whose day set holds no
// recognized weekday. rrule would otherwise fall back to DTSTART's weekday.
var ErrNoValidDays = errors.New("recurrence: weekly rule has no recognized weekday")

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Option converts a medication rule into rrule options anchored at midnight
// of start (and end, when set) in loc.
func Option(rule model.Rule, start model.Date, end *model.Date, loc *time.Location) (rrule.ROption, error) {
	if loc == nil {
		loc = time.Local
	}

	opt := rrule.ROption{
		Dtstart: start.At(0, 0, loc),
	}
	if end != nil {
		opt.Until = end.At(0, 0, loc)
	}

	switch rule.Kind {
	case model.RuleDaily:
		opt.Freq = rrule.DAILY
		opt.Interval = 1
	case model.RuleWeeklyDays:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 1
		for _, d := range rule.Days {
			if wd, ok := d.Time(); ok {
				opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
			}
		}
		if len(opt.Byweekday) == 0 {
			return rrule.ROption{}, ErrNoValidDays
		}
	case model.RuleEveryXDays:
		if rule.Interval <= 0 {
			return rrule.ROption{}, errors.New("recurrence: non-positive interval")
		}
		opt.Freq = rrule.DAILY
		opt.Interval = rule.Interval
	default:
		return rrule.ROption{}, errors.New("recurrence: unknown rule kind " + string(rule.Kind))
	}

	return opt, nil
}

// RRuleString renders the RRULE value (without DTSTART) for calendar export.
func RRuleString(rule model.Rule, start model.Date, end *model.Date, loc *time.Location) (string, error) {
	opt, err := Option(rule, start, end, loc)
	if err != nil {
		return "", err
	}
	if !opt.Until.IsZero() {
		// Inclusive last day: UNTIL is compared against each DTSTART-based
		// instant, so the end of that day keeps the final midnight in range.
		opt.Until = opt.Until.Add(24*time.Hour - time.Second).UTC()
	}
	return opt.RRuleString(), nil
}

// Between expands rule into every occurrence day within
// [from, from+horizonDays). Days are civil dates, so the expansion runs on
// UTC midnights where every day exists; attaching a zone is left to the
// trigger calculation. Each produced day is re-checked with Matches so both
// paths always agree.
func Between(rule model.Rule, from, start model.Date, end *model.Date, horizonDays int) []model.Date {
	if horizonDays <= 0 {
		return nil
	}

	opt, err := Option(rule, start, end, time.UTC)
	if err != nil {
		appLog.Debug("recurrence: rule not expandable", "rule", rule.String(), "reason", err.Error())
		return nil
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		appLog.Error("recurrence: failed to build rrule", err, "rule", rule.String())
		return nil
	}

	rangeStart := from.At(0, 0, time.UTC)
	rangeEnd := from.AddDays(horizonDays-1).At(0, 0, time.UTC)

	times := r.Between(rangeStart, rangeEnd, true)
	out := make([]model.Date, 0, len(times))
	for _, t := range times {
		d := model.DateOf(t.UTC())
		if !Matches(rule, d, start, end) {
			continue
		}
		out = append(out, d)
	}
	return out
}

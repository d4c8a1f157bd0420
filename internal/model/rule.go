package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure of user-supplied
// medication data.
var ErrInvalid = errors.New("invalid medication")

// MaxInterval is the largest accepted every-N-days interval.
const MaxInterval = 30

// Weekday is a weekday abbreviation as stored on medication rules.
type Weekday string

const (
	Monday    Weekday = "ПН"
	Tuesday   Weekday = "ВТ"
	Wednesday Weekday = "СР"
	Thursday  Weekday = "ЧТ"
	Friday    Weekday = "ПТ"
	Saturday  Weekday = "СБ"
	Sunday    Weekday = "ВС"
)

var weekdayTime = map[Weekday]time.Weekday{
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
	Sunday:    time.Sunday,
}

// weekdayAliases maps the alternative spellings accepted on input (remote
// payloads, API clients) to the canonical abbreviation.
var weekdayAliases = map[string]Weekday{
	"MO": Monday, "MON": Monday, "MONDAY": Monday,
	"TU": Tuesday, "TUE": Tuesday, "TUESDAY": Tuesday,
	"WE": Wednesday, "WED": Wednesday, "WEDNESDAY": Wednesday,
	"TH": Thursday, "THU": Thursday, "THURSDAY": Thursday,
	"FR": Friday, "FRI": Friday, "FRIDAY": Friday,
	"SA": Saturday, "SAT": Saturday, "SATURDAY": Saturday,
	"SU": Sunday, "SUN": Sunday, "SUNDAY": Sunday,
}

// Time returns the time.Weekday for w. ok is false for unrecognized
// abbreviations.
func (w Weekday) Time() (time.Weekday, bool) {
	wd, ok := weekdayTime[w]
	return wd, ok
}

// WeekdayOf returns the canonical abbreviation for wd.
func WeekdayOf(wd time.Weekday) Weekday {
	for k, v := range weekdayTime {
		if v == wd {
			return k
		}
	}
	return ""
}

// ParseWeekday accepts the canonical abbreviation or an English alias.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.TrimSpace(s)
	if _, ok := weekdayTime[Weekday(strings.ToUpper(s))]; ok {
		return Weekday(strings.ToUpper(s)), nil
	}
	if w, ok := weekdayAliases[strings.ToUpper(s)]; ok {
		return w, nil
	}
	return "", fmt.Errorf("%w: unknown weekday %q", ErrInvalid, s)
}

// RuleKind tags the recurrence variant.
type RuleKind string

const (
	RuleDaily      RuleKind = "daily"
	RuleWeeklyDays RuleKind = "weekly_days"
	RuleEveryXDays RuleKind = "every_x_days"
)

// Rule is the recurrence rule of a medication. Days is only meaningful for
// RuleWeeklyDays and Interval only for RuleEveryXDays. Use the constructors
// for new rules; decoded rules should go through Validate.
type Rule struct {
	Kind     RuleKind  `json:"kind"`
	Days     []Weekday `json:"days,omitempty"`
	Interval int       `json:"interval,omitempty"`
}

func Daily() Rule {
	return Rule{Kind: RuleDaily}
}

// WeeklyDays builds a weekday rule. Days are canonicalized and
// deduplicated; at least one is required.
func WeeklyDays(days ...string) (Rule, error) {
	if len(days) == 0 {
		return Rule{}, fmt.Errorf("%w: weekly rule needs at least one day", ErrInvalid)
	}
	seen := make(map[Weekday]bool, len(days))
	out := make([]Weekday, 0, len(days))
	for _, d := range days {
		w, err := ParseWeekday(d)
		if err != nil {
			return Rule{}, err
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return Rule{Kind: RuleWeeklyDays, Days: out}, nil
}

// EveryXDays builds an interval rule; n must be within 1..MaxInterval.
func EveryXDays(n int) (Rule, error) {
	if n < 1 || n > MaxInterval {
		return Rule{}, fmt.Errorf("%w: interval %d out of range 1..%d", ErrInvalid, n, MaxInterval)
	}
	return Rule{Kind: RuleEveryXDays, Interval: n}, nil
}

// Validate checks that the auxiliary data matches the tag.
func (r Rule) Validate() error {
	switch r.Kind {
	case RuleDaily:
		if len(r.Days) > 0 || r.Interval != 0 {
			return fmt.Errorf("%w: daily rule carries weekday or interval data", ErrInvalid)
		}
	case RuleWeeklyDays:
		if r.Interval != 0 {
			return fmt.Errorf("%w: weekly rule carries an interval", ErrInvalid)
		}
		if len(r.Days) == 0 {
			return fmt.Errorf("%w: weekly rule needs at least one day", ErrInvalid)
		}
		seen := make(map[Weekday]bool, len(r.Days))
		for _, d := range r.Days {
			if _, ok := d.Time(); !ok {
				return fmt.Errorf("%w: unknown weekday %q", ErrInvalid, d)
			}
			if seen[d] {
				return fmt.Errorf("%w: duplicate weekday %q", ErrInvalid, d)
			}
			seen[d] = true
		}
	case RuleEveryXDays:
		if len(r.Days) > 0 {
			return fmt.Errorf("%w: interval rule carries weekdays", ErrInvalid)
		}
		if r.Interval < 1 || r.Interval > MaxInterval {
			return fmt.Errorf("%w: interval %d out of range 1..%d", ErrInvalid, r.Interval, MaxInterval)
		}
	default:
		return fmt.Errorf("%w: unknown rule kind %q", ErrInvalid, r.Kind)
	}
	return nil
}

func (r Rule) String() string {
	switch r.Kind {
	case RuleWeeklyDays:
		days := make([]string, len(r.Days))
		for i, d := range r.Days {
			days[i] = string(d)
		}
		return "weekly:" + strings.Join(days, ",")
	case RuleEveryXDays:
		return fmt.Sprintf("every %d days", r.Interval)
	default:
		return string(r.Kind)
	}
}

// GormDataType keeps the rule as a JSON document in a text column.
func (Rule) GormDataType() string {
	return "string"
}

func (r Rule) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Rule) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("scan rule: unsupported type %T", src)
	}
	return json.Unmarshal(b, r)
}

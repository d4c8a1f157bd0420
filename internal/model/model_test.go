package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{in: "00:00", hour: 0, minute: 0},
		{in: "08:05", hour: 8, minute: 5},
		{in: "23:59", hour: 23, minute: 59},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "8:00", wantErr: true},
		{in: "08-00", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			h, m, err := ParseTimeOfDay(test.in)
			if test.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h != test.hour || m != test.minute {
				t.Errorf("expected %02d:%02d, got %02d:%02d", test.hour, test.minute, h, m)
			}
		})
	}
}

func TestRuleConstructors(t *testing.T) {
	if _, err := EveryXDays(0); !errors.Is(err, ErrInvalid) {
		t.Errorf("interval 0 should be rejected, got %v", err)
	}
	if _, err := EveryXDays(31); !errors.Is(err, ErrInvalid) {
		t.Errorf("interval 31 should be rejected, got %v", err)
	}
	if _, err := WeeklyDays(); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty day set should be rejected, got %v", err)
	}
	if _, err := WeeklyDays("ПН", "XX"); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown day should be rejected, got %v", err)
	}

	rule, err := WeeklyDays("пн", "MO", "wed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rule.Days) != 2 || rule.Days[0] != Monday || rule.Days[1] != Wednesday {
		t.Errorf("expected [ПН СР], got %v", rule.Days)
	}
	if err := rule.Validate(); err != nil {
		t.Errorf("constructed rule should validate: %v", err)
	}
}

func TestRuleValidate_TagMismatch(t *testing.T) {
	bad := []Rule{
		{Kind: RuleDaily, Interval: 2},
		{Kind: RuleWeeklyDays, Days: []Weekday{Monday}, Interval: 3},
		{Kind: RuleEveryXDays, Interval: 2, Days: []Weekday{Monday}},
		{Kind: "monthly"},
	}
	for _, r := range bad {
		if err := r.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("rule %+v should be invalid, got %v", r, err)
		}
	}
}

func TestRule_ValueScanRoundTrip(t *testing.T) {
	rule, _ := WeeklyDays("ПН", "ПТ")
	v, err := rule.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var got Rule
	if err := got.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got.Kind != rule.Kind || len(got.Days) != 2 || got.Days[1] != Friday {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestMedicationValidate(t *testing.T) {
	end := NewDate(2025, 1, 1)
	valid := func() Medication {
		return Medication{
			Name:      "Aspirin",
			Form:      FormTablet,
			StartDate: NewDate(2025, 1, 1),
			Rule:      Daily(),
			Times:     []string{"09:00", "21:00"},
		}
	}

	m := valid()
	if err := m.Validate(); err != nil {
		t.Fatalf("valid medication rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Medication)
	}{
		{"empty name", func(m *Medication) { m.Name = " " }},
		{"bad form", func(m *Medication) { m.Form = "pill" }},
		{"no times", func(m *Medication) { m.Times = nil }},
		{"duplicate time", func(m *Medication) { m.Times = []string{"09:00", "09:00"} }},
		{"bad time", func(m *Medication) { m.Times = []string{"9am"} }},
		{"end before start", func(m *Medication) {
			m.StartDate = NewDate(2025, 2, 1)
			m.EndDate = &end
		}},
		{"bad rule", func(m *Medication) { m.Rule = Rule{Kind: RuleEveryXDays} }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := valid()
			test.mutate(&m)
			if err := m.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestDateArithmetic(t *testing.T) {
	d := NewDate(2025, 1, 30)
	if got := d.AddDays(3); got != NewDate(2025, 2, 2) {
		t.Errorf("AddDays: got %s", got)
	}
	if got := NewDate(2025, 3, 31).DaysSince(NewDate(2025, 3, 1)); got != 30 {
		t.Errorf("DaysSince across DST month: got %d", got)
	}
	if got := NewDate(2024, 12, 31).DaysSince(NewDate(2025, 1, 1)); got != -1 {
		t.Errorf("negative DaysSince: got %d", got)
	}
	if NewDate(2025, 1, 6).Weekday() != time.Monday {
		t.Errorf("2025-01-06 should be a Monday")
	}

	var parsed Date
	if err := parsed.Scan("2025-04-07"); err != nil || parsed != NewDate(2025, 4, 7) {
		t.Errorf("scan string: %v %s", err, parsed)
	}
	if err := parsed.Scan(time.Date(2025, 4, 8, 0, 0, 0, 0, time.UTC)); err != nil || parsed != NewDate(2025, 4, 8) {
		t.Errorf("scan time: %v %s", err, parsed)
	}
}

func TestCorrelationMapRoundTrip(t *testing.T) {
	c := Correlation{MedicationID: 42, Time: "09:00", Date: NewDate(2025, 1, 1)}
	got, err := CorrelationFromMap(c.Map())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != c {
		t.Errorf("expected %+v, got %+v", c, got)
	}
}

package recurrence

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"medremind/internal/model"
)

func mustWeekly(t *testing.T, days ...string) model.Rule {
	t.Helper()
	r, err := model.WeeklyDays(days...)
	if err != nil {
		t.Fatalf("building weekly rule: %v", err)
	}
	return r
}

func mustEvery(t *testing.T, n int) model.Rule {
	t.Helper()
	r, err := model.EveryXDays(n)
	if err != nil {
		t.Fatalf("building interval rule: %v", err)
	}
	return r
}

func TestMatches_DailyBounds(t *testing.T) {
	start := model.NewDate(2025, 3, 10)
	end := model.NewDate(2025, 3, 20)

	for d := start.AddDays(-5); !d.After(end.AddDays(5)); d = d.AddDays(1) {
		want := !d.Before(start) && !d.After(end)
		if got := Matches(model.Daily(), d, start, &end); got != want {
			t.Errorf("Matches(daily, %s) = %v, want %v", d, got, want)
		}
	}

	if !Matches(model.Daily(), start.AddDays(1000), start, nil) {
		t.Errorf("unbounded daily rule should match far future dates")
	}
}

func TestMatches_WeeklyDays(t *testing.T) {
	rule := mustWeekly(t, "ПН", "СР")
	start := model.NewDate(2025, 1, 1)

	for d := start; d.Before(start.AddDays(60)); d = d.AddDays(1) {
		wd := d.Weekday()
		want := wd == time.Monday || wd == time.Wednesday
		if got := Matches(rule, d, start, nil); got != want {
			t.Errorf("Matches(ПН/СР, %s %s) = %v, want %v", d, wd, got, want)
		}
	}

	monday := model.NewDate(2024, 12, 30)
	if Matches(rule, monday, start, nil) {
		t.Errorf("a Monday before the start date must not match")
	}
}

func TestMatches_WeeklyUnknownAbbreviation(t *testing.T) {
	rule := model.Rule{Kind: model.RuleWeeklyDays, Days: []model.Weekday{"XX", model.Friday}}
	start := model.NewDate(2025, 1, 1)

	friday := model.NewDate(2025, 1, 3)
	if !Matches(rule, friday, start, nil) {
		t.Errorf("known day in a partially malformed set should still match")
	}
	if Matches(rule, friday.AddDays(1), start, nil) {
		t.Errorf("unknown abbreviation should not match anything")
	}
}

func TestMatches_EveryXDays(t *testing.T) {
	rule := mustEvery(t, 3)
	start := model.NewDate(2025, 1, 1)

	tests := []struct {
		date model.Date
		want bool
	}{
		{model.NewDate(2025, 1, 1), true},
		{model.NewDate(2025, 1, 2), false},
		{model.NewDate(2025, 1, 3), false},
		{model.NewDate(2025, 1, 4), true},
		{model.NewDate(2025, 1, 7), true},
		{model.NewDate(2024, 12, 29), false},
	}
	for _, test := range tests {
		if got := Matches(rule, test.date, start, nil); got != test.want {
			t.Errorf("Matches(every 3, %s) = %v, want %v", test.date, got, test.want)
		}
	}

	broken := model.Rule{Kind: model.RuleEveryXDays, Interval: 0}
	if Matches(broken, start, start, nil) {
		t.Errorf("zero interval must never match")
	}
}

func TestNextOnOrAfter(t *testing.T) {
	start := model.NewDate(2025, 1, 1)

	got, ok := NextOnOrAfter(mustEvery(t, 3), model.NewDate(2025, 1, 2), start, nil, DefaultHorizonDays)
	if !ok || got != model.NewDate(2025, 1, 4) {
		t.Errorf("expected 2025-01-04, got %s ok=%v", got, ok)
	}

	got, ok = NextOnOrAfter(model.Daily(), model.NewDate(2024, 12, 1), start, nil, DefaultHorizonDays)
	if !ok || got != start {
		t.Errorf("search should begin at the start date, got %s ok=%v", got, ok)
	}

	end := model.NewDate(2025, 1, 5)
	if _, ok := NextOnOrAfter(mustEvery(t, 10), model.NewDate(2025, 1, 2), start, &end, DefaultHorizonDays); ok {
		t.Errorf("expected no match before end date")
	}
}

func TestNextOnOrAfter_TerminatesWithoutMatches(t *testing.T) {
	rule := model.Rule{Kind: model.RuleWeeklyDays, Days: []model.Weekday{"??"}}
	start := model.NewDate(2025, 1, 1)

	if _, ok := NextOnOrAfter(rule, start, start, nil, DefaultHorizonDays); ok {
		t.Errorf("malformed day set should yield no occurrence")
	}
	if _, ok := NextOnOrAfter(model.Daily(), start, start, nil, 0); ok {
		t.Errorf("zero horizon should yield no occurrence")
	}
}

func TestBetween_AgreesWithMatches(t *testing.T) {
	start := model.NewDate(2025, 3, 1)
	end := model.NewDate(2025, 4, 15)

	rules := map[string]model.Rule{
		"daily":    model.Daily(),
		"weekly":   mustWeekly(t, "ВТ", "СБ", "ВС"),
		"every 4":  mustEvery(t, 4),
		"every 30": mustEvery(t, 30),
	}

	for name, rule := range rules {
		t.Run(name, func(t *testing.T) {
			from := model.NewDate(2025, 3, 20)
			got := Between(rule, from, start, &end, DefaultHorizonDays)

			var want []model.Date
			for i := 0; i < DefaultHorizonDays; i++ {
				d := from.AddDays(i)
				if Matches(rule, d, start, &end) {
					want = append(want, d)
				}
			}

			if len(got) != len(want) {
				t.Fatalf("expected %d days, got %d (%v)", len(want), len(got), got)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("day %d: expected %s, got %s", i, want[i], got[i])
				}
			}
		})
	}
}

func TestBetween_MidnightSkippedByDST(t *testing.T) {
	// Chile moves clocks from 00:00 to 01:00 on Sunday 2026-09-06.
	rule := mustWeekly(t, "ПН", "ВС")
	start := model.NewDate(2026, 1, 1)
	from := model.NewDate(2026, 8, 31)

	got := Between(rule, from, start, nil, 14)
	want := []model.Date{
		model.NewDate(2026, 8, 31),
		model.NewDate(2026, 9, 6),
		model.NewDate(2026, 9, 7),
		model.NewDate(2026, 9, 13),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("day %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBetween_NoRecognizedWeekdays(t *testing.T) {
	rule := model.Rule{Kind: model.RuleWeeklyDays, Days: []model.Weekday{"XX"}}
	start := model.NewDate(2025, 1, 1)
	if got := Between(rule, start, start, nil, 14); len(got) != 0 {
		t.Errorf("expected nothing, got %v", got)
	}
}

func TestRRuleString(t *testing.T) {
	rule := mustWeekly(t, "ПН", "ПТ")
	got, err := RRuleString(rule, model.NewDate(2025, 1, 1), nil, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, part := range []string{"FREQ=WEEKLY", "BYDAY=MO,FR"} {
		if !strings.Contains(got, part) {
			t.Errorf("expected %q in %q", part, got)
		}
	}
	if strings.Contains(got, "DTSTART") {
		t.Errorf("RRULE value must not carry DTSTART: %q", got)
	}

	every, _ := RRuleString(mustEvery(t, 3), model.NewDate(2025, 1, 1), nil, time.UTC)
	if !strings.Contains(every, "INTERVAL=3") {
		t.Errorf("expected INTERVAL=3 in %q", every)
	}
}

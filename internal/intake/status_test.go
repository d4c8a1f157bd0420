package intake

import (
	"context"
	"testing"
	"time"

	"medremind/internal/model"
)

var msk = time.FixedZone("MSK", 3*60*60)

func at(d model.Date, h, m int) time.Time {
	return d.At(h, m, msk)
}

func TestResolve(t *testing.T) {
	day := model.NewDate(2025, 6, 2)

	tests := []struct {
		name   string
		events []model.IntakeEvent
		want   model.DayStatus
	}{
		{
			name: "no events",
			want: model.DayStatus{Status: model.StatusPending},
		},
		{
			name: "latest wins",
			events: []model.IntakeEvent{
				{ID: 1, MedicationID: 1, Taken: true, RecordedAt: at(day, 8, 0)},
				{ID: 2, MedicationID: 1, Skipped: true, RecordedAt: at(day, 8, 30)},
			},
			want: model.DayStatus{Status: model.StatusSkipped, Time: "08:30"},
		},
		{
			name: "input order does not matter",
			events: []model.IntakeEvent{
				{ID: 2, MedicationID: 1, Skipped: true, RecordedAt: at(day, 8, 30)},
				{ID: 1, MedicationID: 1, Taken: true, RecordedAt: at(day, 8, 0)},
			},
			want: model.DayStatus{Status: model.StatusSkipped, Time: "08:30"},
		},
		{
			name: "equal instants fall back to id",
			events: []model.IntakeEvent{
				{ID: 4, MedicationID: 1, Taken: true, RecordedAt: at(day, 9, 0)},
				{ID: 3, MedicationID: 1, Skipped: true, RecordedAt: at(day, 9, 0)},
			},
			want: model.DayStatus{Status: model.StatusTaken, Time: "09:00"},
		},
		{
			name: "other medications and days ignored",
			events: []model.IntakeEvent{
				{ID: 1, MedicationID: 2, Taken: true, RecordedAt: at(day, 10, 0)},
				{ID: 2, MedicationID: 1, Skipped: true, RecordedAt: at(day.AddDays(-1), 23, 0)},
			},
			want: model.DayStatus{Status: model.StatusPending},
		},
		{
			name: "local day, not UTC day",
			events: []model.IntakeEvent{
				// 00:30 in Moscow is still the previous day in UTC.
				{ID: 1, MedicationID: 1, Taken: true, RecordedAt: at(day, 0, 30).UTC()},
			},
			want: model.DayStatus{Status: model.StatusTaken, Time: "00:30"},
		},
		{
			name: "reschedule marker leaves the day pending",
			events: []model.IntakeEvent{
				{ID: 1, MedicationID: 1, Taken: true, RecordedAt: at(day, 8, 0)},
				{ID: 2, MedicationID: 1, Kind: model.KindMoved, RecordedAt: at(day, 8, 10)},
			},
			want: model.DayStatus{Status: model.StatusPending},
		},
		{
			name: "pending reschedule target",
			events: []model.IntakeEvent{
				{ID: 1, MedicationID: 1, Kind: model.KindMoved, RecordedAt: at(day, 9, 5)},
				{ID: 2, MedicationID: 1, Kind: model.KindRescheduled, RecordedAt: at(day, 13, 30)},
			},
			want: model.DayStatus{Status: model.StatusPending},
		},
		{
			name: "decision before the reschedule target answers it",
			events: []model.IntakeEvent{
				{ID: 1, MedicationID: 1, Kind: model.KindMoved, RecordedAt: at(day, 9, 5)},
				{ID: 2, MedicationID: 1, Kind: model.KindRescheduled, RecordedAt: at(day, 13, 30)},
				{ID: 3, MedicationID: 1, Taken: true, RecordedAt: at(day, 13, 22)},
			},
			want: model.DayStatus{Status: model.StatusTaken, Time: "13:22"},
		},
		{
			name: "decision written before the reschedule does not answer it",
			events: []model.IntakeEvent{
				{ID: 1, MedicationID: 1, Taken: true, RecordedAt: at(day, 8, 0)},
				{ID: 2, MedicationID: 1, Kind: model.KindMoved, RecordedAt: at(day, 9, 5)},
				{ID: 3, MedicationID: 1, Kind: model.KindRescheduled, RecordedAt: at(day, 13, 30)},
			},
			want: model.DayStatus{Status: model.StatusPending},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.events, 1, day, msk)
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

type listerFunc func(ctx context.Context, medID uint) ([]model.IntakeEvent, error)

func (f listerFunc) ListIntakes(ctx context.Context, medID uint) ([]model.IntakeEvent, error) {
	return f(ctx, medID)
}

func TestResolver_StatusForSlot(t *testing.T) {
	day := model.NewDate(2025, 6, 2)
	events := []model.IntakeEvent{
		{ID: 1, MedicationID: 1, PlannedTime: "09:00", Taken: true, RecordedAt: at(day, 9, 5)},
		{ID: 2, MedicationID: 1, PlannedTime: "21:00", Skipped: true, RecordedAt: at(day, 21, 2)},
	}
	r := NewResolver(listerFunc(func(context.Context, uint) ([]model.IntakeEvent, error) {
		return events, nil
	}), msk)
	ctx := context.Background()

	day1, err := r.StatusFor(ctx, 1, day)
	if err != nil || day1 != (model.DayStatus{Status: model.StatusSkipped, Time: "21:02"}) {
		t.Errorf("day status: %+v %v", day1, err)
	}
	morning, err := r.StatusForSlot(ctx, 1, day, "09:00")
	if err != nil || morning != (model.DayStatus{Status: model.StatusTaken, Time: "09:05"}) {
		t.Errorf("slot status: %+v %v", morning, err)
	}
	if len(events) != 2 || events[1].PlannedTime != "21:00" {
		t.Errorf("slot filter must not modify the listed events")
	}
}

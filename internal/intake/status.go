package intake

import (
	"context"
	"time"

	"medremind/internal/model"
)

// IntakeLister reads the intake history of one medication.
type IntakeLister interface {
	ListIntakes(ctx context.Context, medicationID uint) ([]model.IntakeEvent, error)
}

// Resolver derives display status from the local store.
type Resolver struct {
	store IntakeLister
	loc   *time.Location
}

func NewResolver(store IntakeLister, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{store: store, loc: loc}
}

// StatusFor resolves the status of a medication on date.
func (r *Resolver) StatusFor(ctx context.Context, medID uint, date model.Date) (model.DayStatus, error) {
	events, err := r.store.ListIntakes(ctx, medID)
	if err != nil {
		return model.DayStatus{}, err
	}
	return Resolve(events, medID, date, r.loc), nil
}

// StatusForSlot is StatusFor restricted to the events answering one
// planned time of day.
func (r *Resolver) StatusForSlot(ctx context.Context, medID uint, date model.Date, plannedTime string) (model.DayStatus, error) {
	events, err := r.store.ListIntakes(ctx, medID)
	if err != nil {
		return model.DayStatus{}, err
	}
	slot := events[:0:0]
	for _, e := range events {
		if e.PlannedTime == plannedTime {
			slot = append(slot, e)
		}
	}
	return Resolve(slot, medID, date, r.loc), nil
}

// Resolve picks the latest event of medID recorded on date (local
// calendar day in loc). Later RecordedAt wins; equal instants fall back to
// the higher event id. A rescheduled event is stamped with its future
// target, so any decision written after it wins regardless of instant. A
// latest event that is neither taken nor skipped leaves the day pending.
func Resolve(events []model.IntakeEvent, medID uint, date model.Date, loc *time.Location) model.DayStatus {
	if loc == nil {
		loc = time.Local
	}

	var latest *model.IntakeEvent
	for i := range events {
		e := &events[i]
		if e.MedicationID != medID {
			continue
		}
		if model.DateOf(e.RecordedAt.In(loc)) != date {
			continue
		}
		if latest == nil || newer(e, latest) {
			latest = e
		}
	}

	if latest == nil {
		return model.DayStatus{Status: model.StatusPending}
	}
	d, ok := latest.Decision()
	if !ok {
		return model.DayStatus{Status: model.StatusPending}
	}

	status := model.StatusTaken
	if d == model.DecisionSkipped {
		status = model.StatusSkipped
	}
	return model.DayStatus{
		Status: status,
		Time:   latest.RecordedAt.In(loc).Format("15:04"),
	}
}

func newer(a, b *model.IntakeEvent) bool {
	if answers(a, b) {
		return true
	}
	if answers(b, a) {
		return false
	}
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.After(b.RecordedAt)
	}
	return a.ID > b.ID
}

// answers reports whether decision d was recorded after the reschedule r.
func answers(d, r *model.IntakeEvent) bool {
	if r.Kind != model.KindRescheduled {
		return false
	}
	_, ok := d.Decision()
	return ok && d.ID > r.ID
}

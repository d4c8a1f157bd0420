// Package reminder keeps the notification service in step with the
// medications in the local store.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "medremind/internal/log"
	"medremind/internal/model"
	"medremind/internal/notify"
	"medremind/internal/schedule"
)

// ErrCancel is wrapped when existing triggers could not be cancelled. The
// resync is aborted because the service state is then unknown.
var ErrCancel = errors.New("reminder: cancelling existing triggers failed")

// Source supplies the inputs of a resync.
type Source interface {
	ListMedications(ctx context.Context) ([]model.Medication, error)
	PendingReschedules(ctx context.Context, now time.Time) ([]model.IntakeEvent, error)
}

// Synchronizer rebuilds the full trigger set on every resync: cancel
// everything, then schedule every candidate from the builder.
//
// All resyncs, and the medication changes passed to AfterChange, run under
// one mutex so a deletion can never interleave with a rebuild.
type Synchronizer struct {
	mu       sync.Mutex
	notifier notify.Service
	builder  schedule.Builder
	source   Source
}

func New(notifier notify.Service, builder schedule.Builder, source Source) *Synchronizer {
	return &Synchronizer{
		notifier: notifier,
		builder:  builder,
		source:   source,
	}
}

// Resync replaces every scheduled trigger with the reminders due for meds
// (plus ad-hoc extras) and returns how many were scheduled.
func (s *Synchronizer) Resync(ctx context.Context, meds []model.Medication, extras []model.Occurrence, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resync(ctx, meds, extras, now)
}

// ResyncStore loads medications and pending reschedules from the source and
// resyncs.
func (s *Synchronizer) ResyncStore(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncStore(ctx, now)
}

// AfterChange runs change and then a store resync under the same lock. A
// failing change skips the resync.
func (s *Synchronizer) AfterChange(ctx context.Context, now time.Time, change func(ctx context.Context) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := change(ctx); err != nil {
		return 0, err
	}
	return s.resyncStore(ctx, now)
}

// Preview returns what a resync would schedule without touching the
// notification service.
func (s *Synchronizer) Preview(ctx context.Context, now time.Time) ([]schedule.Candidate, error) {
	meds, extras, err := s.load(ctx, now)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(meds, extras, now), nil
}

func (s *Synchronizer) resyncStore(ctx context.Context, now time.Time) (int, error) {
	meds, extras, err := s.load(ctx, now)
	if err != nil {
		return 0, err
	}
	return s.resync(ctx, meds, extras, now)
}

func (s *Synchronizer) load(ctx context.Context, now time.Time) ([]model.Medication, []model.Occurrence, error) {
	meds, err := s.source.ListMedications(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading medications: %w", err)
	}
	events, err := s.source.PendingReschedules(ctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("loading reschedules: %w", err)
	}
	return meds, Occurrences(events, s.builder.Location), nil
}

func (s *Synchronizer) resync(ctx context.Context, meds []model.Medication, extras []model.Occurrence, now time.Time) (int, error) {
	if err := s.notifier.CancelAll(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCancel, err)
	}

	candidates := s.builder.Build(meds, extras, now)

	scheduled := 0
	for _, c := range candidates {
		if _, err := s.notifier.ScheduleAt(ctx, c.FireAt, c.Title(), c.Body(), c.Correlation()); err != nil {
			appLog.Error("scheduling reminder failed; continuing", err,
				"medication_id", c.MedicationID,
				"date", c.Date.String(),
				"time", c.Time,
			)
			continue
		}
		scheduled++
	}

	appLog.Info("reminders resynced",
		"medications", len(meds),
		"candidates", len(candidates),
		"scheduled", scheduled,
	)
	return scheduled, nil
}

// Occurrences converts reschedule targets into one-off occurrences on the
// local date of their recorded instant.
func Occurrences(events []model.IntakeEvent, loc *time.Location) []model.Occurrence {
	if loc == nil {
		loc = time.Local
	}
	out := make([]model.Occurrence, 0, len(events))
	for _, e := range events {
		if e.Kind != model.KindRescheduled {
			continue
		}
		out = append(out, model.Occurrence{
			MedicationID: e.MedicationID,
			Date:         model.DateOf(e.RecordedAt.In(loc)),
			Time:         e.PlannedTime,
		})
	}
	return out
}

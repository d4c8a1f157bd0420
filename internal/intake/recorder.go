// Package intake records what the user did with each dose and resolves the
// resulting day status.
//
// Every user action is written to the local store before anything touches
// the network. Sync failures come back as warnings on the result, never as
// errors: the action already happened locally.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "medremind/internal/log"
	"medremind/internal/model"
	"medremind/internal/remote"
	"medremind/internal/store"
)

// DefaultSyncTimeout bounds each call to the sync service.
const DefaultSyncTimeout = 10 * time.Second

var (
	// ErrSync is wrapped by every soft sync warning.
	ErrSync = errors.New("intake: sync service push failed")
	// ErrRemoteDelete marks a medication deleted locally but not remotely.
	ErrRemoteDelete = errors.New("intake: remote medication delete failed")
)

// Syncer is the part of the sync service the recorder pushes to.
type Syncer interface {
	PostIntake(ctx context.Context, p remote.IntakePayload) (*int64, error)
	DeleteMedication(ctx context.Context, serverID int64) error
}

// Coordinator runs a local change and the reminder resync that must follow
// it without letting another resync interleave.
type Coordinator interface {
	AfterChange(ctx context.Context, now time.Time, change func(ctx context.Context) error) (int, error)
}

type Options struct {
	// Syncer may be nil, which disables remote pushes.
	Syncer Syncer
	// Coordinator may be nil, in which case changes are not followed by a
	// resync.
	Coordinator Coordinator
	Timeout     time.Duration
	Location    *time.Location
}

type Recorder struct {
	store   *store.Store
	syncer  Syncer
	coord   Coordinator
	timeout time.Duration
	loc     *time.Location
}

func NewRecorder(st *store.Store, opts Options) *Recorder {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSyncTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Recorder{
		store:   st,
		syncer:  opts.Syncer,
		coord:   opts.Coordinator,
		timeout: opts.Timeout,
		loc:     opts.Location,
	}
}

// Receipt is the outcome of RecordIntake.
type Receipt struct {
	EventID uint `json:"event_id"`
	Synced  bool `json:"synced"`
	// Warning is set when the event was stored but not pushed.
	Warning error `json:"-"`
}

// RecordIntake stores a taken/skipped decision for the occurrence at
// plannedTime and then pushes it to the sync service when the medication
// is server-known.
func (r *Recorder) RecordIntake(ctx context.Context, medID uint, plannedTime string, decision model.Decision, now time.Time) (Receipt, error) {
	if !decision.Valid() {
		return Receipt{}, fmt.Errorf("%w: unknown decision %q", model.ErrInvalid, decision)
	}
	if _, _, err := model.ParseTimeOfDay(plannedTime); err != nil {
		return Receipt{}, err
	}

	med, err := r.store.GetMedication(ctx, medID)
	if err != nil {
		return Receipt{}, err
	}

	ev := &model.IntakeEvent{
		MedicationID:       med.ID,
		MedicationServerID: med.ServerID,
		Kind:               model.KindDecision,
		PlannedTime:        plannedTime,
		RecordedAt:         now,
		Taken:              decision == model.DecisionTaken,
		Skipped:            decision == model.DecisionSkipped,
	}
	if err := r.store.CreateIntakes(ctx, ev); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{EventID: ev.ID}
	if med.ServerID == nil || r.syncer == nil {
		return receipt, nil
	}

	if err := r.push(ctx, ev, *med.ServerID); err != nil {
		receipt.Warning = err
		return receipt, nil
	}
	receipt.Synced = true
	return receipt, nil
}

// RescheduleReceipt is the outcome of Reschedule.
type RescheduleReceipt struct {
	MovedID  uint `json:"moved_id"`
	TargetID uint `json:"target_id"`
	// Warning is set when the events were stored but the resync failed.
	Warning error `json:"-"`
}

// Reschedule moves today's plannedTime occurrence to newTime on newDate. It
// writes a marker on the original slot and a pending event at the target,
// then resyncs so that the target gets its own reminder.
func (r *Recorder) Reschedule(ctx context.Context, medID uint, plannedTime string, newDate model.Date, newTime string, now time.Time) (RescheduleReceipt, error) {
	if _, _, err := model.ParseTimeOfDay(plannedTime); err != nil {
		return RescheduleReceipt{}, err
	}
	h, m, err := model.ParseTimeOfDay(newTime)
	if err != nil {
		return RescheduleReceipt{}, err
	}
	target := newDate.At(h, m, r.loc)
	if !target.After(now) {
		return RescheduleReceipt{}, fmt.Errorf("%w: reschedule target %s %s is not in the future", model.ErrInvalid, newDate, newTime)
	}

	med, err := r.store.GetMedication(ctx, medID)
	if err != nil {
		return RescheduleReceipt{}, err
	}

	today := model.DateOf(now.In(r.loc))
	moved := &model.IntakeEvent{
		MedicationID:       med.ID,
		MedicationServerID: med.ServerID,
		Kind:               model.KindMoved,
		PlannedTime:        plannedTime,
		RecordedAt:         now,
		Note:               fmt.Sprintf("moved to %s %s", newDate, newTime),
	}
	pending := &model.IntakeEvent{
		MedicationID:       med.ID,
		MedicationServerID: med.ServerID,
		Kind:               model.KindRescheduled,
		PlannedTime:        newTime,
		RecordedAt:         target,
		Note:               fmt.Sprintf("rescheduled from %s %s", today, plannedTime),
	}

	warning, err := r.commit(ctx, now, func(ctx context.Context) error {
		return r.store.CreateIntakes(ctx, moved, pending)
	})
	if err != nil {
		return RescheduleReceipt{}, err
	}
	return RescheduleReceipt{MovedID: moved.ID, TargetID: pending.ID, Warning: warning}, nil
}

// DeleteOutcome reports how far a medication deletion got. A non-nil
// RemoteErr means the local record is gone but the server may still hold
// it.
type DeleteOutcome struct {
	PurgedIntakes int   `json:"purged_intakes"`
	RemoteErr     error `json:"-"`
	ResyncErr     error `json:"-"`
}

// Partial reports a local delete whose remote counterpart failed.
func (o DeleteOutcome) Partial() bool {
	return o.RemoteErr != nil
}

// DeleteMedication purges the medication's future intake events, deletes
// it with its history and resyncs reminders. Server-known medications are
// then deleted remotely.
func (r *Recorder) DeleteMedication(ctx context.Context, medID uint, now time.Time) (DeleteOutcome, error) {
	med, err := r.store.GetMedication(ctx, medID)
	if err != nil {
		return DeleteOutcome{}, err
	}

	var out DeleteOutcome
	out.ResyncErr, err = r.commit(ctx, now, func(ctx context.Context) error {
		n, err := r.store.DeleteFutureIntakes(ctx, medID, now)
		if err != nil {
			return err
		}
		out.PurgedIntakes = n
		return r.store.DeleteMedication(ctx, medID)
	})
	if err != nil {
		return DeleteOutcome{}, err
	}

	if med.ServerID == nil || r.syncer == nil {
		return out, nil
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.syncer.DeleteMedication(tctx, *med.ServerID); err != nil {
		out.RemoteErr = fmt.Errorf("%w: %w", ErrRemoteDelete, err)
		appLog.Warn("medication deleted locally only", err, "medication_id", medID, "server_id", *med.ServerID)
	}
	return out, nil
}

// CreateMedication validates and stores a new medication, then resyncs.
// The returned error is the resync warning, if any.
func (r *Recorder) CreateMedication(ctx context.Context, med *model.Medication, now time.Time) (warning error, err error) {
	if err := med.Validate(); err != nil {
		return nil, err
	}
	med.ID = 0
	med.Synced = false
	return r.commit(ctx, now, func(ctx context.Context) error {
		return r.store.CreateMedication(ctx, med)
	})
}

// UpdateMedication validates and saves an edited medication. Future intake
// events of the old schedule are purged first. The server id of the stored
// record is kept.
func (r *Recorder) UpdateMedication(ctx context.Context, med *model.Medication, now time.Time) (warning error, err error) {
	if err := med.Validate(); err != nil {
		return nil, err
	}
	existing, err := r.store.GetMedication(ctx, med.ID)
	if err != nil {
		return nil, err
	}
	med.ServerID = existing.ServerID
	med.CreatedAt = existing.CreatedAt
	med.Synced = false

	return r.commit(ctx, now, func(ctx context.Context) error {
		if _, err := r.store.DeleteFutureIntakes(ctx, med.ID, now); err != nil {
			return err
		}
		return r.store.UpdateMedication(ctx, med)
	})
}

// RetryUnsynced pushes every stored decision that has not reached the sync
// service yet. It returns how many were pushed; individual failures are
// logged and left for the next attempt.
func (r *Recorder) RetryUnsynced(ctx context.Context) (int, error) {
	if r.syncer == nil {
		return 0, nil
	}
	events, err := r.store.UnsyncedIntakes(ctx)
	if err != nil {
		return 0, err
	}

	serverIDs := make(map[uint]*int64)
	pushed := 0
	for i := range events {
		ev := &events[i]
		serverID := ev.MedicationServerID
		if serverID == nil {
			id, ok := serverIDs[ev.MedicationID]
			if !ok {
				med, err := r.store.GetMedication(ctx, ev.MedicationID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return pushed, err
				}
				if med != nil {
					id = med.ServerID
				}
				serverIDs[ev.MedicationID] = id
			}
			serverID = id
		}
		if serverID == nil {
			continue
		}
		if err := r.push(ctx, ev, *serverID); err != nil {
			continue
		}
		pushed++
	}

	if len(events) > 0 {
		appLog.Info("unsynced intakes retried", "pending", len(events), "pushed", pushed)
	}
	return pushed, nil
}

func (r *Recorder) push(ctx context.Context, ev *model.IntakeEvent, medServerID int64) error {
	decision, _ := ev.Decision()
	payload, err := remote.NewIntakePayload(medServerID, ev.PlannedTime, decision, ev.RecordedAt, r.loc, ev.Note)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSync, err)
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	serverID, err := r.syncer.PostIntake(tctx, payload)
	if err != nil {
		appLog.Warn("intake kept locally; sync failed", err, "event_id", ev.ID, "medication_id", ev.MedicationID)
		return fmt.Errorf("%w: %w", ErrSync, err)
	}

	if err := r.store.MarkIntakeSynced(ctx, ev.ID, serverID); err != nil {
		appLog.Warn("intake pushed but sync flag not saved", err, "event_id", ev.ID)
		return fmt.Errorf("%w: %w", ErrSync, err)
	}
	return nil
}

// commit applies change and resyncs through the coordinator. err is the
// change's own failure; warning is a resync failure after a successful
// change.
func (r *Recorder) commit(ctx context.Context, now time.Time, change func(ctx context.Context) error) (warning error, err error) {
	if r.coord == nil {
		return nil, change(ctx)
	}

	var changeErr error
	_, resyncErr := r.coord.AfterChange(ctx, now, func(ctx context.Context) error {
		changeErr = change(ctx)
		return changeErr
	})
	if changeErr != nil {
		return nil, changeErr
	}
	if resyncErr != nil {
		appLog.Warn("change saved; reminder resync failed", resyncErr)
		return resyncErr, nil
	}
	return nil, nil
}

package reminder

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"medremind/internal/model"
	"medremind/internal/notify"
	"medremind/internal/schedule"
	"medremind/internal/testutil"
)

var loc = time.FixedZone("MSK", 3*60*60)

type fakeSource struct {
	meds    []model.Medication
	events  []model.IntakeEvent
	listErr error
}

func (f *fakeSource) ListMedications(context.Context) ([]model.Medication, error) {
	return f.meds, f.listErr
}

func (f *fakeSource) PendingReschedules(_ context.Context, now time.Time) ([]model.IntakeEvent, error) {
	var out []model.IntakeEvent
	for _, e := range f.events {
		if e.RecordedAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

// flakyNotifier wraps Memory and fails selected operations.
type flakyNotifier struct {
	*notify.Memory
	cancelErr  error
	failTimeOf string
}

func (f *flakyNotifier) CancelAll(ctx context.Context) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	return f.Memory.CancelAll(ctx)
}

func (f *flakyNotifier) ScheduleAt(ctx context.Context, at time.Time, title, body string, data model.Correlation) (string, error) {
	if data.Time == f.failTimeOf {
		return "", errors.New("platform refused trigger")
	}
	return f.Memory.ScheduleAt(ctx, at, title, body, data)
}

func aspirin(start model.Date) model.Medication {
	return model.Medication{
		ID: 1, Name: "Aspirin", Form: model.FormTablet,
		StartDate: start, Rule: model.Daily(), Times: []string{"09:00", "21:00"},
	}
}

// withoutHandles strips the random handles.
func withoutHandles(ts []model.Trigger) []model.Trigger {
	out := make([]model.Trigger, len(ts))
	for i, t := range ts {
		t.Handle = ""
		out[i] = t
	}
	return out
}

func TestResync_SchedulesCandidates(t *testing.T) {
	ctx := context.Background()
	today := model.NewDate(2025, 6, 2)
	now := today.At(8, 0, loc)

	mem := notify.NewMemory()
	s := New(mem, schedule.Builder{Location: loc}, &fakeSource{})

	n, err := s.Resync(ctx, []model.Medication{aspirin(today)}, nil, now)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 scheduled, got %d", n)
	}

	list, _ := mem.ListScheduled(ctx)
	if list[0].Title != "Aspirin" || list[0].Body != "Tablet at 09:00" {
		t.Errorf("unexpected texts: %+v", list[0])
	}
	want := model.Correlation{MedicationID: 1, Time: "09:00", Date: today}
	if list[0].Correlation != want {
		t.Errorf("expected correlation %+v, got %+v", want, list[0].Correlation)
	}
	if !list[0].FireAt.Equal(today.At(8, 50, loc)) {
		t.Errorf("unexpected fire time %s", list[0].FireAt)
	}
}

func TestResync_Idempotent(t *testing.T) {
	ctx := context.Background()
	today := model.NewDate(2025, 6, 2)
	now := today.At(8, 0, loc)
	weekly, _ := model.WeeklyDays("ПН", "ЧТ")
	meds := []model.Medication{
		aspirin(today),
		{ID: 2, Name: "Drops", Form: model.FormDrop, StartDate: today, Rule: weekly, Times: []string{"12:00"}},
	}

	mem := notify.NewMemory()
	s := New(mem, schedule.Builder{Location: loc}, &fakeSource{})

	if _, err := s.Resync(ctx, meds, nil, now); err != nil {
		t.Fatalf("first resync: %v", err)
	}
	once, _ := mem.ListScheduled(ctx)

	if _, err := s.Resync(ctx, meds, nil, now); err != nil {
		t.Fatalf("second resync: %v", err)
	}
	twice, _ := mem.ListScheduled(ctx)

	if !reflect.DeepEqual(withoutHandles(once), withoutHandles(twice)) {
		t.Errorf("second resync changed the trigger set:\n%+v\n%+v", once, twice)
	}
}

func TestResync_ContinuesPastFailedTrigger(t *testing.T) {
	ctx := context.Background()
	today := model.NewDate(2025, 6, 2)

	notifier := &flakyNotifier{Memory: notify.NewMemory(), failTimeOf: "09:00"}
	s := New(notifier, schedule.Builder{Location: loc}, &fakeSource{})

	n, err := s.Resync(ctx, []model.Medication{aspirin(today)}, nil, today.At(8, 0, loc))
	if err != nil {
		t.Fatalf("per-trigger failure must not abort resync: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the 21:00 trigger to be scheduled, got %d", n)
	}
}

func TestResync_AbortsWhenCancelFails(t *testing.T) {
	ctx := context.Background()
	today := model.NewDate(2025, 6, 2)

	notifier := &flakyNotifier{Memory: notify.NewMemory(), cancelErr: errors.New("service unavailable")}
	s := New(notifier, schedule.Builder{Location: loc}, &fakeSource{})

	_, err := s.Resync(ctx, []model.Medication{aspirin(today)}, nil, today.At(8, 0, loc))
	if !errors.Is(err, ErrCancel) {
		t.Fatalf("expected ErrCancel, got %v", err)
	}
	if list, _ := notifier.ListScheduled(ctx); len(list) != 0 {
		t.Errorf("nothing should be scheduled after a failed cancel, got %d", len(list))
	}
}

func TestResyncStore_IncludesReschedules(t *testing.T) {
	ctx := context.Background()
	today := model.NewDate(2025, 6, 2)
	now := today.At(8, 0, loc)

	src := &fakeSource{
		meds: []model.Medication{aspirin(today)},
		events: []model.IntakeEvent{
			{ID: 5, MedicationID: 1, Kind: model.KindRescheduled, PlannedTime: "13:15", RecordedAt: today.At(13, 15, loc)},
			{ID: 6, MedicationID: 1, Kind: model.KindRescheduled, PlannedTime: "07:00", RecordedAt: today.At(7, 0, loc)},
		},
	}
	mem := notify.NewMemory()
	s := New(mem, schedule.Builder{Location: loc}, src)

	n, err := s.ResyncStore(ctx, now)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 2 rule triggers plus 1 reschedule, got %d", n)
	}

	preview, err := s.Preview(ctx, now)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(preview) != 3 || preview[1].Time != "13:15" || !preview[1].AdHoc {
		t.Errorf("unexpected preview: %+v", preview)
	}
}

func TestAfterChange(t *testing.T) {
	ctx := context.Background()
	today := model.NewDate(2025, 6, 2)
	src := &fakeSource{meds: []model.Medication{aspirin(today)}}
	mem := notify.NewMemory()
	s := New(mem, schedule.Builder{Location: loc}, src)
	now := today.At(8, 0, loc)

	if _, err := s.ResyncStore(ctx, now); err != nil {
		t.Fatalf("resync: %v", err)
	}

	n, err := s.AfterChange(ctx, now, func(context.Context) error {
		src.meds = nil
		return nil
	})
	if err != nil || n != 0 {
		t.Fatalf("expected empty schedule after delete, got %d %v", n, err)
	}
	if list, _ := mem.ListScheduled(ctx); len(list) != 0 {
		t.Errorf("stale triggers left behind: %d", len(list))
	}

	boom := errors.New("store down")
	if _, err := s.AfterChange(ctx, now, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected change error to surface, got %v", err)
	}
}

func TestResyncStore_RefillsAfterDelivery(t *testing.T) {
	ctx := context.Background()
	today := model.NewDate(2025, 6, 2)

	held, err := notify.NewPersistent(testutil.NewTestDatabase(t))
	if err != nil {
		t.Fatalf("persistent notifier: %v", err)
	}
	s := New(held, schedule.Builder{Location: loc}, &fakeSource{meds: []model.Medication{aspirin(today)}})
	dispatcher := notify.NewDispatcher(held, notify.LogDeliverer{}, nil, time.Minute)

	if _, err := s.ResyncStore(ctx, today.At(8, 0, loc)); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if n, err := dispatcher.DispatchDue(ctx, today.At(21, 0, loc)); err != nil || n != 2 {
		t.Fatalf("dispatch: %d %v", n, err)
	}
	if left, _ := held.ListScheduled(ctx); len(left) != 0 {
		t.Fatalf("expected every reminder delivered, %d left", len(left))
	}

	// The next periodic resync schedules tomorrow's doses.
	if _, err := s.ResyncStore(ctx, today.At(22, 0, loc)); err != nil {
		t.Fatalf("resync: %v", err)
	}
	next, _ := held.ListScheduled(ctx)
	if len(next) != 2 || next[0].Correlation.Date != today.AddDays(1) {
		t.Errorf("expected tomorrow's reminders, got %+v", next)
	}
}

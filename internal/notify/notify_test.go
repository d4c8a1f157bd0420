package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"medremind/internal/model"
	"medremind/internal/testutil"
)

func corr(id uint, tod string) model.Correlation {
	return model.Correlation{MedicationID: id, Time: tod, Date: model.NewDate(2025, 6, 2)}
}

func exerciseService(t *testing.T, svc Service) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)

	h2, err := svc.ScheduleAt(ctx, base.Add(2*time.Hour), "B", "Tablet at 09:00", corr(2, "09:00"))
	if err != nil {
		t.Fatalf("scheduling: %v", err)
	}
	h1, _ := svc.ScheduleAt(ctx, base, "A", "Drops at 07:00", corr(1, "07:00"))
	if h1 == "" || h1 == h2 {
		t.Fatalf("expected distinct handles, got %q and %q", h1, h2)
	}

	list, err := svc.ListScheduled(ctx)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 triggers, got %d", len(list))
	}
	if list[0].Handle != h1 || list[0].Correlation != corr(1, "07:00") {
		t.Errorf("expected earliest trigger first with its correlation, got %+v", list[0])
	}
	if !list[1].FireAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("fire time not preserved: %s", list[1].FireAt)
	}

	if err := svc.CancelAll(ctx); err != nil {
		t.Fatalf("cancelling: %v", err)
	}
	if list, _ := svc.ListScheduled(ctx); len(list) != 0 {
		t.Errorf("expected no triggers after CancelAll, got %d", len(list))
	}
}

func TestMemory(t *testing.T) {
	exerciseService(t, NewMemory())
}

func TestPersistent(t *testing.T) {
	p, err := NewPersistent(testutil.NewTestDatabase(t))
	if err != nil {
		t.Fatalf("creating persistent service: %v", err)
	}
	exerciseService(t, p)
}

type recordingDeliverer struct {
	delivered []model.Trigger
	failFor   uint
}

func (r *recordingDeliverer) Deliver(_ context.Context, t model.Trigger) error {
	if t.Correlation.MedicationID == r.failFor {
		return errors.New("push backend down")
	}
	r.delivered = append(r.delivered, t)
	return nil
}

func TestDispatcher_DeliversDueTriggers(t *testing.T) {
	ctx := context.Background()
	p, err := NewPersistent(testutil.NewTestDatabase(t))
	if err != nil {
		t.Fatalf("creating persistent service: %v", err)
	}

	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	p.ScheduleAt(ctx, now.Add(-time.Minute), "due", "", corr(1, "08:09"))
	p.ScheduleAt(ctx, now.Add(-2*time.Minute), "broken", "", corr(3, "08:08"))
	p.ScheduleAt(ctx, now.Add(time.Hour), "later", "", corr(2, "09:10"))

	deliverer := &recordingDeliverer{failFor: 3}
	feedback := NewFeedback(10)
	d := NewDispatcher(p, deliverer, feedback, time.Minute)

	n, err := d.DispatchDue(ctx, now)
	if err != nil {
		t.Fatalf("dispatching: %v", err)
	}
	if n != 1 || len(deliverer.delivered) != 1 || deliverer.delivered[0].Title != "due" {
		t.Errorf("expected only the due trigger delivered, got %d %+v", n, deliverer.delivered)
	}

	left, _ := p.ListScheduled(ctx)
	if len(left) != 1 || left[0].Title != "later" {
		t.Errorf("expected only the future trigger left, got %+v", left)
	}

	recent := feedback.Recent()
	if len(recent) != 1 || recent[0].Kind != FeedbackReceived || recent[0].Correlation.MedicationID != 1 {
		t.Errorf("unexpected feedback: %+v", recent)
	}
}

func TestFeedback_KeepsNewestFirst(t *testing.T) {
	f := NewFeedback(2)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.Received(corr(1, "08:00"), at)
	f.Opened(corr(2, "09:00"), at)
	f.Opened(corr(3, "10:00"), at)

	recent := f.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected capacity to be enforced, got %d", len(recent))
	}
	if recent[0].Correlation.MedicationID != 3 || recent[1].Correlation.MedicationID != 2 {
		t.Errorf("unexpected order: %+v", recent)
	}
}

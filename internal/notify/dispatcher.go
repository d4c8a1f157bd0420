package notify

import (
	"context"
	"sync"
	"time"

	appLog "medremind/internal/log"
	"medremind/internal/model"
)

// Deliverer puts a due trigger in front of the user (push message, log
// line, ...).
type Deliverer interface {
	Deliver(ctx context.Context, t model.Trigger) error
}

// LogDeliverer only writes the reminder to the log. It is the fallback
// when no push backend is configured.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, t model.Trigger) error {
	appLog.Info("reminder due",
		"title", t.Title,
		"body", t.Body,
		"medication_id", t.Correlation.MedicationID,
		"date", t.Correlation.Date.String(),
		"time", t.Correlation.Time,
	)
	return nil
}

// FeedbackKind tells whether a notification was delivered or opened.
type FeedbackKind string

const (
	FeedbackReceived FeedbackKind = "received"
	FeedbackOpened   FeedbackKind = "opened"
)

// FeedbackEntry is one delivery callback with the original correlation.
type FeedbackEntry struct {
	Kind        FeedbackKind      `json:"kind"`
	Correlation model.Correlation `json:"correlation"`
	At          time.Time         `json:"at"`
}

// Feedback keeps the most recent delivery callbacks for in-app display.
// It drives no scheduling logic.
type Feedback struct {
	mu      sync.Mutex
	max     int
	entries []FeedbackEntry
}

func NewFeedback(max int) *Feedback {
	if max <= 0 {
		max = 50
	}
	return &Feedback{max: max}
}

func (f *Feedback) Received(c model.Correlation, at time.Time) {
	f.push(FeedbackEntry{Kind: FeedbackReceived, Correlation: c, At: at})
}

func (f *Feedback) Opened(c model.Correlation, at time.Time) {
	f.push(FeedbackEntry{Kind: FeedbackOpened, Correlation: c, At: at})
}

func (f *Feedback) push(e FeedbackEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	if len(f.entries) > f.max {
		f.entries = f.entries[len(f.entries)-f.max:]
	}
}

// Recent returns the entries newest first.
func (f *Feedback) Recent() []FeedbackEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FeedbackEntry, len(f.entries))
	for i, e := range f.entries {
		out[len(f.entries)-1-i] = e
	}
	return out
}

// Dispatcher polls the persistent store for due triggers and delivers them.
type Dispatcher struct {
	store     *Persistent
	deliverer Deliverer
	feedback  *Feedback
	interval  time.Duration
	now       func() time.Time
}

func NewDispatcher(store *Persistent, deliverer Deliverer, feedback *Feedback, interval time.Duration) *Dispatcher {
	if deliverer == nil {
		deliverer = LogDeliverer{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Dispatcher{
		store:     store,
		deliverer: deliverer,
		feedback:  feedback,
		interval:  interval,
		now:       time.Now,
	}
}

// Run delivers due triggers every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	appLog.Info("notification dispatcher started", "interval", d.interval.String())

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchDue(ctx, d.now()); err != nil {
			appLog.Error("dispatching due triggers", err)
		}
		select {
		case <-ctx.Done():
			appLog.Info("notification dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// DispatchDue delivers every trigger whose fire time is not after now and
// removes it. A trigger is removed even when delivery fails so a broken
// backend cannot cause repeated reminders.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	triggers, err := d.store.ListScheduled(ctx)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, t := range triggers {
		if t.FireAt.After(now) {
			break
		}
		if err := d.deliverer.Deliver(ctx, t); err != nil {
			appLog.Error("delivering reminder", err, "handle", t.Handle, "medication_id", t.Correlation.MedicationID)
		} else {
			delivered++
			if d.feedback != nil {
				d.feedback.Received(t.Correlation, now)
			}
		}
		if err := d.store.remove(ctx, t.Handle); err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}

// Package notify holds the reminder triggers that are waiting to fire.
//
// The scheduling core only talks to the Service interface. Two backends
// exist: Memory (process-local, used by tests and dry runs) and Persistent
// (a gorm table drained by a Dispatcher).
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"medremind/internal/model"
)

// Service is the notification capability: schedule a trigger, cancel all of
// them, list what is currently held.
type Service interface {
	ScheduleAt(ctx context.Context, at time.Time, title, body string, data model.Correlation) (string, error)
	CancelAll(ctx context.Context) error
	ListScheduled(ctx context.Context) ([]model.Trigger, error)
}

// Memory is an in-process Service.
type Memory struct {
	mu       sync.Mutex
	triggers map[string]model.Trigger
}

func NewMemory() *Memory {
	return &Memory{triggers: make(map[string]model.Trigger)}
}

func (m *Memory) ScheduleAt(_ context.Context, at time.Time, title, body string, data model.Correlation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := uuid.NewString()
	m.triggers[handle] = model.Trigger{
		Handle:      handle,
		Title:       title,
		Body:        body,
		FireAt:      at.UTC(),
		Correlation: data,
	}
	return handle, nil
}

func (m *Memory) CancelAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = make(map[string]model.Trigger)
	return nil
}

func (m *Memory) ListScheduled(_ context.Context) ([]model.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		out = append(out, t)
	}
	sortTriggers(out)
	return out, nil
}

func sortTriggers(ts []model.Trigger) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].FireAt.Equal(ts[j].FireAt) {
			return ts[i].FireAt.Before(ts[j].FireAt)
		}
		return ts[i].Handle < ts[j].Handle
	})
}

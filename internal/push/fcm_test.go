package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"

	"medremind/internal/model"
)

type fakeSender struct {
	got  *messaging.MulticastMessage
	resp *messaging.BatchResponse
	err  error
}

func (f *fakeSender) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.got = m
	return f.resp, f.err
}

func sampleTrigger() model.Trigger {
	return model.Trigger{
		Handle: "h1",
		Title:  "Aspirin",
		Body:   "Tablet at 09:00",
		FireAt: time.Date(2025, 6, 2, 5, 50, 0, 0, time.UTC),
		Correlation: model.Correlation{
			MedicationID: 4,
			Time:         "09:00",
			Date:         model.NewDate(2025, 6, 2),
		},
	}
}

func TestDeliver_SendsCorrelationData(t *testing.T) {
	sender := &fakeSender{resp: &messaging.BatchResponse{
		SuccessCount: 1,
		FailureCount: 1,
		Responses: []*messaging.SendResponse{
			{Success: true, MessageID: "m1"},
			{Success: false, Error: errors.New("unregistered")},
		},
	}}
	f := &FCM{sender: sender, tokens: []string{"token-aaaaaaaaaa", "token-bbbbbbbbbb"}}

	if err := f.Deliver(context.Background(), sampleTrigger()); err != nil {
		t.Fatalf("partial success should not fail: %v", err)
	}

	m := sender.got
	if m.Notification.Title != "Aspirin" || m.Notification.Body != "Tablet at 09:00" {
		t.Errorf("unexpected notification: %+v", m.Notification)
	}
	if m.Data["medication_id"] != "4" || m.Data["time"] != "09:00" || m.Data["date"] != "2025-06-02" {
		t.Errorf("correlation missing from data: %v", m.Data)
	}
	if len(m.Tokens) != 2 {
		t.Errorf("expected both tokens, got %v", m.Tokens)
	}
}

func TestDeliver_AllFailed(t *testing.T) {
	sender := &fakeSender{resp: &messaging.BatchResponse{
		FailureCount: 1,
		Responses:    []*messaging.SendResponse{{Success: false, Error: errors.New("bad token")}},
	}}
	f := &FCM{sender: sender, tokens: []string{"x"}}
	if err := f.Deliver(context.Background(), sampleTrigger()); err == nil {
		t.Errorf("expected an error when no device received the reminder")
	}

	f.sender = &fakeSender{err: errors.New("network")}
	if err := f.Deliver(context.Background(), sampleTrigger()); err == nil {
		t.Errorf("expected transport error to surface")
	}
}

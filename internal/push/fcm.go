// Package push delivers due reminders to devices through Firebase Cloud
// Messaging.
package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	appLog "medremind/internal/log"
	"medremind/internal/model"
)

// multicastSender is the part of *messaging.Client the deliverer needs.
type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCM sends every reminder to a fixed set of device tokens.
type FCM struct {
	sender multicastSender
	tokens []string
}

// NewFCM initializes a Firebase app from credentialsFile (empty uses the
// ambient Google credentials) and targets tokens.
func NewFCM(ctx context.Context, credentialsFile string, tokens []string) (*FCM, error) {
	if len(tokens) == 0 {
		return nil, errors.New("push: no device tokens configured")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting messaging client: %w", err)
	}

	appLog.Info("FCM client initialized", "devices", len(tokens))
	return &FCM{sender: client, tokens: tokens}, nil
}

// Message builds the multicast message for a trigger. The correlation is
// carried in the data payload so that an opened notification can be
// matched back to its occurrence.
func (f *FCM) Message(t model.Trigger) *messaging.MulticastMessage {
	data := t.Correlation.Map()
	data["type"] = "medication_reminder"

	return &messaging.MulticastMessage{
		Tokens: f.tokens,
		Notification: &messaging.Notification{
			Title: t.Title,
			Body:  t.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}

// Deliver sends the reminder. It fails only when no device received it.
func (f *FCM) Deliver(ctx context.Context, t model.Trigger) error {
	resp, err := f.sender.SendEachForMulticast(ctx, f.Message(t))
	if err != nil {
		return fmt.Errorf("sending FCM multicast: %w", err)
	}

	for i, r := range resp.Responses {
		if !r.Success {
			appLog.Warn("FCM delivery to device failed", r.Error, "device", redactToken(f.tokens[i]))
		}
	}
	if resp.SuccessCount == 0 {
		return fmt.Errorf("FCM delivered to none of %d devices", len(f.tokens))
	}

	appLog.Info("FCM reminder sent", "success", resp.SuccessCount, "failure", resp.FailureCount, "medication_id", t.Correlation.MedicationID)
	return nil
}

func redactToken(token string) string {
	if len(token) <= 8 {
		return "..."
	}
	return token[:8] + "..."
}

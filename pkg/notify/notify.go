// Package notify delivers best-effort notifications about transaction changes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Message is a single notification. To and CC hold email addresses.
type Message struct {
	TransactionId string   `json:"transaction_id,omitempty"`
	To            []string `json:"to"`
	CC            []string `json:"cc,omitempty"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
}

// Notifier defines the interface for dispatching a notification.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Decode parses a message enqueued by SQSNotifier.
func Decode(body string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	if len(msg.To) == 0 {
		return Message{}, fmt.Errorf("notification %q has no recipients", msg.Subject)
	}
	return msg, nil
}

// NoOpNotifier drops every message.
type NoOpNotifier struct{}

var _ Notifier = NoOpNotifier{}

// Send implements Notifier.
func (NoOpNotifier) Send(context.Context, Message) error { return nil }

// LogNotifier writes messages to the structured log instead of delivering them.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

// Send implements Notifier.
func (LogNotifier) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "notification", "transaction_id", msg.TransactionId, "to", msg.To, "cc", msg.CC, "subject", msg.Subject)
	return nil
}

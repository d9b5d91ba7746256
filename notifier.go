package permitwatch

import (
	"context"
	"fmt"
	"log/slog"
)

// Notifier delivers a plain-text message to the configured recipient.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// NotifierFunc adapts a plain function to the [Notifier] interface.
type NotifierFunc func(ctx context.Context, subject, body string) error

// Send calls f(ctx, subject, body).
func (f NotifierFunc) Send(ctx context.Context, subject, body string) error {
	return f(ctx, subject, body)
}

// DeliveryError reports a message the transport rejected or could not
// reach. The labels in that message are already committed as notified, so
// the alert is lost rather than retried.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %q: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// LogNotifier writes notifications to a logger instead of sending them.
// It stands in when no recipient is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Send logs subject and body at Info level.
func (n LogNotifier) Send(_ context.Context, subject, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification (no recipient configured)", "subject", subject, "body", body)
	return nil
}

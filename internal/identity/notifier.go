package identity

import "context"

// Notifier is the outbound notification sink. Delivery is fire-and-forget:
// the services do not inspect outcomes beyond letting a returned failure
// propagate to the caller.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NopNotifier discards every notification. Used when no sink is configured.
type NopNotifier struct{}

func (NopNotifier) Send(ctx context.Context, to, subject, body string) error { return nil }

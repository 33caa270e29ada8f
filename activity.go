package accounts

import (
	"context"
	"time"
)

// ActivityEventType enumerates lifecycle event categories.
type ActivityEventType string

const (
	ActivityEventRegistrationComplete  ActivityEventType = "account.registered"
	ActivityEventActivationComplete    ActivityEventType = "account.activated"
	ActivityEventEmailChangeRequested  ActivityEventType = "account.email_change.requested"
	ActivityEventConfirmationComplete  ActivityEventType = "account.email.confirmed"
	ActivityEventPasswordResetRequest  ActivityEventType = "account.password_reset.requested"
	ActivityEventPasswordResetComplete ActivityEventType = "account.password_reset.complete"
	ActivityEventAccountSwept          ActivityEventType = "account.swept"
)

// ActivityEvent captures a committed lifecycle transition. Events are
// published after the record is durably persisted, never before, so a
// subscriber sending mail always observes an existing account.
type ActivityEvent struct {
	EventType  ActivityEventType
	Account    *Account
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes lifecycle events for notification or audit
// purposes. Sinks run best-effort: errors are logged and never roll back
// the transition that produced the event.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

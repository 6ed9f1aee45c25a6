package reward

import (
	"context"
	"time"
)

// EventKind names a code lifecycle transition.
type EventKind string

const (
	EventCodeIssued   EventKind = "code.issued"
	EventCodeRedeemed EventKind = "code.redeemed"
)

// Event describes a committed code transition for notification channels.
type Event struct {
	Kind         EventKind
	Code         Code
	Label        string
	BusinessName string
	OccurredAt   time.Time
}

// Notifier delivers events best-effort. Implementations must not block the
// caller on slow channels and must not report delivery failures back: a
// committed issuance or redemption stands regardless of notification.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Event) {}

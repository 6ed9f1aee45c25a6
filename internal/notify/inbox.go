package notify

import (
	"context"

	"github.com/xenking/spin-rewards/internal/domain/user"
)

// InboxStore persists in-app notifications.
type InboxStore interface {
	AddNotification(ctx context.Context, userID int64, kind, title, body string) error
}

// InboxChannel writes notifications to the user's in-app inbox.
type InboxChannel struct {
	store InboxStore
}

// NewInboxChannel returns an InboxChannel backed by store.
func NewInboxChannel(store InboxStore) *InboxChannel {
	return &InboxChannel{store: store}
}

func (c *InboxChannel) Name() string { return "inapp" }

// Send stores m for the user. Every user has an inbox.
func (c *InboxChannel) Send(ctx context.Context, to user.Contact, m Message) error {
	return c.store.AddNotification(ctx, to.ID, string(m.Event.Kind), m.Title, m.Body)
}

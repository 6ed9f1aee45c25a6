// Package notify delivers reward lifecycle notifications to users over
// in-app, push, email, SMS and event-stream channels.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/spin-rewards/internal/domain/reward"
	"github.com/xenking/spin-rewards/internal/domain/user"
)

// ErrSkip is returned by a Channel that does not deliver the message, for
// example because the user has no address for it.
var ErrSkip = errors.New("channel skipped")

// Message is a rendered notification for one user.
type Message struct {
	Event reward.Event
	Title string
	Body  string
}

// Data returns the key/value payload attached to push messages.
func (m Message) Data() map[string]string {
	return map[string]string{
		"type":   string(m.Event.Kind),
		"code":   m.Event.Code.Code,
		"amount": m.Event.Code.Amount.String(),
	}
}

// Channel delivers messages over one medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, to user.Contact, m Message) error
}

// ContactFinder resolves user ids to contact data.
type ContactFinder interface {
	GetContact(ctx context.Context, id int64) (*user.Contact, error)
}

// Render turns a lifecycle event into user-facing text.
func Render(e reward.Event) Message {
	m := Message{Event: e}
	where := ""
	if e.BusinessName != "" {
		where = " at " + e.BusinessName
	}

	switch e.Kind {
	case reward.EventCodeIssued:
		m.Title = fmt.Sprintf("You won %s!", e.Label)
		m.Body = fmt.Sprintf("Use code %s%s before %s.",
			e.Code.Code, where, e.Code.ExpiresAt.UTC().Format(time.RFC1123))
	case reward.EventCodeRedeemed:
		m.Title = "Discount applied"
		m.Body = fmt.Sprintf("Your code %s (%s) was redeemed%s.", e.Code.Code, e.Label, where)
	default:
		m.Title = string(e.Kind)
		m.Body = e.Code.Code
	}
	return m
}

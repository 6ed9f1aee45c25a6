package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/spin-rewards/internal/domain/user"
)

// LogChannel only logs messages. It stands in for unconfigured channels.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Send(ctx context.Context, to user.Contact, m Message) error {
	zctx.From(ctx).Info("Notification",
		zap.Int64("user_id", to.ID),
		zap.String("kind", string(m.Event.Kind)),
		zap.String("title", m.Title),
		zap.String("body", m.Body),
	)
	return nil
}

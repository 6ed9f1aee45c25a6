package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationRepository stores in-app notifications.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository returns a NotificationRepository that uses the
// given pool.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// AddNotification appends an unread notification to the user's inbox.
func (r *NotificationRepository) AddNotification(ctx context.Context, userID int64, kind, title, body string) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (user_id, kind, title, body)
		VALUES ($1, $2, $3, $4)`,
		userID, kind, title, body,
	); err != nil {
		return fmt.Errorf("adding notification for user %d: %w", userID, err)
	}
	return nil
}

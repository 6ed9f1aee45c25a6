package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/spin-rewards/internal/domain/user"
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetContact returns the notification addresses of a user.
func (r *UserRepository) GetContact(ctx context.Context, id int64) (*user.Contact, error) {
	var c user.Contact
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, push_token
		FROM users WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.PushToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}
	return &c, nil
}

// SetPushToken stores the Expo push token of a user.
func (r *UserRepository) SetPushToken(ctx context.Context, id int64, token string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET push_token = $2 WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("setting push token of user %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

// UpsertUser creates or replaces a user's contact data.
func (r *UserRepository) UpsertUser(ctx context.Context, c user.Contact) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, phone, push_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    push_token = EXCLUDED.push_token`,
		c.ID, c.Name, c.Email, c.Phone, c.PushToken,
	); err != nil {
		return fmt.Errorf("upserting user %d: %w", c.ID, err)
	}
	if _, err := r.pool.Exec(ctx, `
		SELECT setval(pg_get_serial_sequence('users', 'id'), GREATEST((SELECT MAX(id) FROM users), 1))`,
	); err != nil {
		return fmt.Errorf("advancing user id sequence: %w", err)
	}
	return nil
}

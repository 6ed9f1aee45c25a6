package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/spin-rewards/internal/domain/reward"
)

var _ reward.BusinessRepository = (*BusinessRepository)(nil)

// BusinessRepository implements reward.BusinessRepository backed by
// PostgreSQL. Reward policies live in the spin_discounts JSONB column.
type BusinessRepository struct {
	pool *pgxpool.Pool
}

// NewBusinessRepository returns a BusinessRepository that uses the given pool.
func NewBusinessRepository(pool *pgxpool.Pool) *BusinessRepository {
	return &BusinessRepository{pool: pool}
}

// GetBusiness returns the business with its spin settings. Malformed policy
// entries are dropped while decoding.
func (r *BusinessRepository) GetBusiness(ctx context.Context, id int64) (*reward.Business, error) {
	b, err := scanBusiness(r.pool.QueryRow(ctx, `
		SELECT id, name, spin_wheel_enabled, spin_discounts
		FROM businesses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reward.ErrBusinessNotFound
		}
		return nil, fmt.Errorf("getting business %d: %w", id, err)
	}
	return b, nil
}

// UpdateSpinSettings replaces the wheel switch and reward policy.
func (r *BusinessRepository) UpdateSpinSettings(ctx context.Context, id int64, enabled bool, rewards reward.Policy) (*reward.Business, error) {
	b, err := scanBusiness(r.pool.QueryRow(ctx, `
		UPDATE businesses
		SET spin_wheel_enabled = $2, spin_discounts = $3::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING id, name, spin_wheel_enabled, spin_discounts`,
		id, enabled, string(reward.EncodePolicy(rewards)),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reward.ErrBusinessNotFound
		}
		return nil, fmt.Errorf("updating spin settings of business %d: %w", id, err)
	}
	return b, nil
}

// UpsertBusiness creates or replaces a business. It is used by seeding and
// the legacy importer.
func (r *BusinessRepository) UpsertBusiness(ctx context.Context, b reward.Business) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO businesses (id, name, spin_wheel_enabled, spin_discounts)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    spin_wheel_enabled = EXCLUDED.spin_wheel_enabled,
		    spin_discounts = EXCLUDED.spin_discounts,
		    updated_at = now()`,
		b.ID, b.Name, b.SpinEnabled, string(reward.EncodePolicy(b.Rewards)),
	); err != nil {
		return fmt.Errorf("upserting business %d: %w", b.ID, err)
	}
	// Explicit ids bypass the sequence; keep it ahead of them.
	if _, err := r.pool.Exec(ctx, `
		SELECT setval(pg_get_serial_sequence('businesses', 'id'), GREATEST((SELECT MAX(id) FROM businesses), 1))`,
	); err != nil {
		return fmt.Errorf("advancing business id sequence: %w", err)
	}
	return nil
}

func scanBusiness(row pgx.Row) (*reward.Business, error) {
	var (
		b   reward.Business
		raw []byte
	)
	if err := row.Scan(&b.ID, &b.Name, &b.SpinEnabled, &raw); err != nil {
		return nil, err
	}
	rewards, err := reward.DecodePolicy(raw)
	if err != nil {
		// Unreadable policies fall back to the defaults.
		rewards = nil
	}
	b.Rewards = rewards
	return &b, nil
}

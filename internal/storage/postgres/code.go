package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/spin-rewards/internal/domain/reward"
)

var _ reward.Repository = (*CodeRepository)(nil)

const codeColumns = `id, code, user_id, business_id, amount, created_at, expires_at, used, used_at, source`

// CodeRepository implements reward.Repository backed by PostgreSQL.
type CodeRepository struct {
	pool *pgxpool.Pool
}

// NewCodeRepository returns a CodeRepository that uses the given pool.
func NewCodeRepository(pool *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

// CreateIssued inserts the code and its spin attempt in one transaction.
// A transaction-scoped advisory lock on (user, scope) serializes concurrent
// spins of the same user, so the cooldown re-check below cannot race.
func (r *CodeRepository) CreateIssued(ctx context.Context, c *reward.Code, cooldown time.Duration) (*reward.Code, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning issue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	scope := c.Scope()
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, spinLockKey(c.UserID, scope)); err != nil {
		return nil, fmt.Errorf("locking spin scope %s: %w", scope, err)
	}

	last, err := lastAttempt(ctx, tx, c.UserID, scope)
	switch {
	case err == nil:
		if el := reward.Evaluate(last.CreatedAt, cooldown, c.CreatedAt); !el.Eligible {
			return nil, &reward.CooldownError{
				Scope:          scope,
				LastAttemptAt:  last.CreatedAt,
				NextEligibleAt: el.NextEligibleAt,
			}
		}
	case errors.Is(err, reward.ErrNoAttempt):
	default:
		return nil, err
	}

	created, err := scanCode(tx.QueryRow(ctx, `
		INSERT INTO discount_codes (code, user_id, business_id, amount, created_at, expires_at, used, source)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		RETURNING `+codeColumns,
		c.Code, c.UserID, c.BusinessID, c.Amount, c.CreatedAt, c.ExpiresAt, c.Source,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, reward.ErrCodeCollision
		}
		return nil, fmt.Errorf("inserting code: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO spin_attempts (user_id, business_id, code_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		created.UserID, created.BusinessID, created.ID, created.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("inserting spin attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing issue transaction: %w", err)
	}
	return created, nil
}

// FindByCode returns the code with the given normalized string.
func (r *CodeRepository) FindByCode(ctx context.Context, code string) (*reward.Code, error) {
	c, err := scanCode(r.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM discount_codes WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reward.ErrCodeNotFound
		}
		return nil, fmt.Errorf("finding code %q: %w", code, err)
	}
	return c, nil
}

// MarkUsed consumes the code with a single conditional update. Concurrent
// callers serialize on the row lock; only the first sees used = FALSE.
func (r *CodeRepository) MarkUsed(ctx context.Context, code string, businessID *int64, at time.Time) (*reward.Code, error) {
	c, err := scanCode(r.pool.QueryRow(ctx, `
		UPDATE discount_codes
		SET used = TRUE, used_at = $2
		WHERE code = $1
		  AND used = FALSE
		  AND expires_at > $2
		  AND ($3::BIGINT IS NULL OR business_id IS NULL OR business_id = $3)
		RETURNING `+codeColumns,
		code, at, businessID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reward.ErrCodeNotFound
		}
		return nil, fmt.Errorf("marking code %q used: %w", code, err)
	}
	return c, nil
}

// ListByUser returns the user's codes newest first.
func (r *CodeRepository) ListByUser(ctx context.Context, userID int64, businessID *int64) ([]reward.Code, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+codeColumns+`
		FROM discount_codes
		WHERE user_id = $1
		  AND ($2::BIGINT IS NULL OR business_id = $2)
		ORDER BY created_at DESC, id DESC`,
		userID, businessID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing codes of user %d: %w", userID, err)
	}

	codes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (reward.Code, error) {
		c, err := scanCode(row)
		if err != nil {
			return reward.Code{}, err
		}
		return *c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning codes of user %d: %w", userID, err)
	}
	return codes, nil
}

// LastAttempt returns the newest spin attempt of the user in scope.
func (r *CodeRepository) LastAttempt(ctx context.Context, userID int64, scope reward.Scope) (*reward.Attempt, error) {
	return lastAttempt(ctx, r.pool, userID, scope)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lastAttempt(ctx context.Context, q querier, userID int64, scope reward.Scope) (*reward.Attempt, error) {
	// Separate predicates keep the (user_id, business_id, created_at) index usable.
	var row pgx.Row
	if id, ok := scope.BusinessID(); ok {
		row = q.QueryRow(ctx, `
			SELECT id, code_id, created_at FROM spin_attempts
			WHERE user_id = $1 AND business_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT 1`, userID, id)
	} else {
		row = q.QueryRow(ctx, `
			SELECT id, code_id, created_at FROM spin_attempts
			WHERE user_id = $1 AND business_id IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT 1`, userID)
	}

	a := reward.Attempt{UserID: userID, Scope: scope}
	if err := row.Scan(&a.ID, &a.CodeID, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reward.ErrNoAttempt
		}
		return nil, fmt.Errorf("finding last attempt of user %d in %s: %w", userID, scope, err)
	}
	return &a, nil
}

func scanCode(row pgx.Row) (*reward.Code, error) {
	var c reward.Code
	if err := row.Scan(
		&c.ID,
		&c.Code,
		&c.UserID,
		&c.BusinessID,
		&c.Amount,
		&c.CreatedAt,
		&c.ExpiresAt,
		&c.Used,
		&c.UsedAt,
		&c.Source,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func spinLockKey(userID int64, scope reward.Scope) string {
	return fmt.Sprintf("spin:%d:%s", userID, scope)
}

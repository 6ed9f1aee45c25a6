package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/spin-rewards/internal/domain/reward"
)

// importBatchSize bounds the statements sent in one round trip.
const importBatchSize = 500

// LegacyImporter writes codes recovered from the legacy spin tables.
type LegacyImporter struct {
	pool *pgxpool.Pool
}

// NewLegacyImporter returns a LegacyImporter that uses the given pool.
func NewLegacyImporter(pool *pgxpool.Pool) *LegacyImporter {
	return &LegacyImporter{pool: pool}
}

// ImportCodes inserts codes together with their spin attempts, so imported
// history keeps counting towards cooldowns. Codes that already exist are
// left untouched. It returns the number of codes inserted.
func (r *LegacyImporter) ImportCodes(ctx context.Context, codes []reward.Code) (int64, error) {
	var inserted int64
	for start := 0; start < len(codes); start += importBatchSize {
		chunk := codes[start:min(start+importBatchSize, len(codes))]

		n, err := r.importChunk(ctx, chunk)
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func (r *LegacyImporter) importChunk(ctx context.Context, codes []reward.Code) (int64, error) {
	batch := &pgx.Batch{}
	for _, c := range codes {
		batch.Queue(`
			WITH ins AS (
				INSERT INTO discount_codes (code, user_id, business_id, amount, created_at, expires_at, used, used_at, source)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (code) DO NOTHING
				RETURNING id, user_id, business_id, created_at
			)
			INSERT INTO spin_attempts (user_id, business_id, code_id, created_at)
			SELECT user_id, business_id, id, created_at FROM ins`,
			reward.NormalizeCode(c.Code), c.UserID, c.BusinessID, c.Amount,
			c.CreatedAt, c.ExpiresAt, c.Used, c.UsedAt, c.Source,
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	var inserted int64
	for _, c := range codes {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("importing code %q: %w", c.Code, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("closing import batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing import transaction: %w", err)
	}
	return inserted, nil
}

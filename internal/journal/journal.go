// Package journal is a best-effort, durable audit trail for trades,
// hedges, and safe-mode transitions, adapted from the teacher's
// store.PostgresStore. Unlike that store, Journal is never consulted by
// the engine's decisions — spec.md §1 excludes persistence from the
// core's Non-goals list, so the core stays in-memory-only; Journal is
// purely an ambient operational sink cmd/server writes to from the
// outside, the durable analog of the slog lines around the same events.
package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Journal writes audit rows to PostgreSQL. A nil pool is a valid,
// no-op Journal (used when DATABASE_URL is unset).
type Journal struct {
	pool *pgxpool.Pool
}

// New wraps pool. Pass nil for a Journal that discards every record.
func New(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// RecordTrade appends a row for a trade the engine placed directly or
// through the hedge controller.
func (j *Journal) RecordTrade(ctx context.Context, underlyingID int, signedQuantity float64) error {
	if j.pool == nil {
		return nil
	}
	_, err := j.pool.Exec(ctx,
		`INSERT INTO trade_journal (id, underlying_id, quantity, recorded_at)
		 VALUES ($1, $2, $3::NUMERIC, now())`,
		uuid.New().String(), underlyingID, decimal.NewFromFloat(signedQuantity).String(),
	)
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// RecordHedge appends a row for a hedge the hedge controller placed,
// distinguishing it in the audit trail from a direct trade even though
// both ultimately call the same trade callback.
func (j *Journal) RecordHedge(ctx context.Context, underlyingID int, signedQuantity, residualDelta float64) error {
	if j.pool == nil {
		return nil
	}
	_, err := j.pool.Exec(ctx,
		`INSERT INTO hedge_journal (id, underlying_id, quantity, residual_delta, recorded_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, now())`,
		uuid.New().String(), underlyingID, decimal.NewFromFloat(signedQuantity).String(), residualDelta,
	)
	if err != nil {
		return fmt.Errorf("record hedge: %w", err)
	}
	return nil
}

// RecordSafeModeTransition appends a row whenever the risk supervisor
// engages or clears safe mode.
func (j *Journal) RecordSafeModeTransition(ctx context.Context, engaged bool, portfolioValue float64) error {
	if j.pool == nil {
		return nil
	}
	_, err := j.pool.Exec(ctx,
		`INSERT INTO safe_mode_journal (id, engaged, portfolio_value, recorded_at)
		 VALUES ($1, $2, $3::NUMERIC, now())`,
		uuid.New().String(), engaged, decimal.NewFromFloat(portfolioValue).String(),
	)
	if err != nil {
		return fmt.Errorf("record safe mode transition: %w", err)
	}
	return nil
}

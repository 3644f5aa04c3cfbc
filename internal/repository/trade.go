package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-gridsim/internal/ledger"
)

const maxTradesPage = 10000

type TradeRepo struct {
	pool *pgxpool.Pool
}

func NewTradeRepo(pool *pgxpool.Pool) *TradeRepo {
	return &TradeRepo{pool: pool}
}

// GetByRun returns a run's trades in execution order. reason filters to one
// close reason when non-empty.
func (r *TradeRepo) GetByRun(ctx context.Context, runID uuid.UUID, reason ledger.Reason, limit int) ([]ledger.Trade, error) {
	query := `SELECT seq, position_id, side, price, size, fee, pnl, reason, ts
		 FROM backtest_trades WHERE run_id = $1`
	args := []any{runID}
	if reason != "" {
		args = append(args, string(reason))
		query += fmt.Sprintf(" AND reason = $%d", len(args))
	}
	args = append(args, clampLimit(limit, maxTradesPage))
	query += fmt.Sprintf(" ORDER BY seq ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func copyTrades(ctx context.Context, tx pgx.Tx, runID uuid.UUID, trades []ledger.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"backtest_trades"},
		[]string{"run_id", "seq", "position_id", "side", "price", "size", "fee", "pnl", "reason", "ts"},
		pgx.CopyFromSlice(len(trades), func(i int) ([]any, error) {
			t := trades[i]
			return []any{runID, t.Seq, t.PositionID, string(t.Side), t.Price, t.Size,
				numeric(t.Fee), numeric(t.PnL), string(t.Reason), t.Timestamp}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy trades: %w", err)
	}
	if int(n) != len(trades) {
		return fmt.Errorf("copy trades: wrote %d of %d rows", n, len(trades))
	}
	return nil
}

// --- scan helpers ---

func collectTrades(rows rowsIter) ([]ledger.Trade, error) {
	out := []ledger.Trade{}
	for rows.Next() {
		var t ledger.Trade
		var side, reason string
		var fee, pnl pgtype.Numeric
		if err := rows.Scan(&t.Seq, &t.PositionID, &side, &t.Price, &t.Size, &fee, &pnl, &reason, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Side = ledger.Action(side)
		t.Reason = ledger.Reason(reason)
		t.Fee = fromNumeric(fee)
		t.PnL = fromNumeric(pnl)
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

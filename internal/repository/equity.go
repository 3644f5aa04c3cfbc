package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-gridsim/internal/performance"
)

type EquityRepo struct {
	pool *pgxpool.Pool
}

func NewEquityRepo(pool *pgxpool.Pool) *EquityRepo {
	return &EquityRepo{pool: pool}
}

// GetByRun returns the equity curve of a run. A stride above 1 keeps every
// stride-th snapshot plus the last one, for charting long runs.
func (r *EquityRepo) GetByRun(ctx context.Context, runID uuid.UUID, stride int) ([]performance.EquitySnapshot, error) {
	if stride < 1 {
		stride = 1
	}
	rows, err := r.pool.Query(ctx,
		`SELECT ts, balance, unrealized_pnl, equity, open_positions, drawdown
		 FROM equity_snapshots
		 WHERE run_id = $1
		   AND (idx % $2 = 0 OR idx = (SELECT MAX(idx) FROM equity_snapshots WHERE run_id = $1))
		 ORDER BY idx ASC`,
		runID, stride,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []performance.EquitySnapshot{}
	for rows.Next() {
		var s performance.EquitySnapshot
		if err := rows.Scan(&s.Timestamp, &s.Balance, &s.UnrealizedPnL, &s.Equity, &s.OpenPositions, &s.Drawdown); err != nil {
			return nil, err
		}
		s.Timestamp = s.Timestamp.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func copyEquity(ctx context.Context, tx pgx.Tx, runID uuid.UUID, snaps []performance.EquitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"equity_snapshots"},
		[]string{"run_id", "idx", "ts", "balance", "unrealized_pnl", "equity", "open_positions", "drawdown"},
		pgx.CopyFromSlice(len(snaps), func(i int) ([]any, error) {
			s := snaps[i]
			return []any{runID, i, s.Timestamp, s.Balance, s.UnrealizedPnL, s.Equity, s.OpenPositions, s.Drawdown}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy equity: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-gridsim/internal/backtest"
	"github.com/kjannette/trahn-gridsim/internal/models"
)

const maxRunsPage = 500

type RunRepo struct {
	pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Save stores a finished backtest with its full trade log and equity curve
// in one transaction. optimizationID links the run to an optimization and
// may be nil.
func (r *RunRepo) Save(ctx context.Context, res *backtest.Result, source string, optimizationID *uuid.UUID) (uuid.UUID, error) {
	cfgJSON, err := json.Marshal(res.Config)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal config: %w", err)
	}
	reportJSON, err := json.Marshal(res.Report)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal report: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	rep := res.Report
	_, err = tx.Exec(ctx,
		`INSERT INTO backtest_runs
		 (id, optimization_id, source, mode, candles, config, report,
		  total_return, max_drawdown, sharpe_ratio, total_trades, final_balance, interrupted)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		id, optimizationID, source, string(res.Config.Mode), rep.Candles, cfgJSON, reportJSON,
		rep.TotalReturn, rep.MaxDrawdown, rep.SharpeRatio, rep.TotalTrades,
		numeric(rep.FinalBalance), rep.Interrupted,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	if err := copyTrades(ctx, tx, id, res.Trades); err != nil {
		return uuid.Nil, err
	}
	if err := copyEquity(ctx, tx, id, res.Equity); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Get returns nil, nil when no run has the id.
func (r *RunRepo) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs, optionally only those of one optimization.
func (r *RunRepo) List(ctx context.Context, limit int, optimizationID *uuid.UUID) ([]models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs`
	args := []any{}
	if optimizationID != nil {
		args = append(args, *optimizationID)
		query += ` WHERE optimization_id = $1`
	}
	args = append(args, clampLimit(limit, maxRunsPage))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (r *RunRepo) Stats(ctx context.Context) (*models.RunStats, error) {
	var s models.RunStats
	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			AVG(total_return),
			MAX(total_return),
			MIN(total_return),
			COUNT(CASE WHEN (report->>'liquidated_count')::int > 0 THEN 1 END)
		 FROM backtest_runs`,
	).Scan(&s.TotalRuns, &s.AvgReturn, &s.BestReturn, &s.WorstReturn, &s.Liquidated)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RunRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM backtest_runs WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- scan helpers ---

const runColumns = `id, optimization_id, source, mode, candles, config, report,
	total_return, max_drawdown, sharpe_ratio, total_trades, final_balance, interrupted, created_at`

func scanRun(row scannable) (*models.Run, error) {
	var run models.Run
	var balance pgtype.Numeric
	err := row.Scan(
		&run.ID, &run.OptimizationID, &run.Source, &run.Mode, &run.Candles, &run.Config, &run.Report,
		&run.TotalReturn, &run.MaxDrawdown, &run.SharpeRatio, &run.TotalTrades, &balance,
		&run.Interrupted, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.FinalBalance = fromNumeric(balance)
	return &run, nil
}

func collectRuns(rows rowsIter) ([]models.Run, error) {
	out := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

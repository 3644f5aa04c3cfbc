package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-gridsim/internal/models"
	"github.com/kjannette/trahn-gridsim/internal/optimizer"
)

const maxOptimizationRunsPage = 1000

type OptimizationRepo struct {
	pool *pgxpool.Pool
}

func NewOptimizationRepo(pool *pgxpool.Pool) *OptimizationRepo {
	return &OptimizationRepo{pool: pool}
}

// SaveOptimization stores a finished job and every combination it ran. It
// satisfies optimizer.Sink.
func (r *OptimizationRepo) SaveOptimization(ctx context.Context, job optimizer.Job) error {
	rangesJSON, err := json.Marshal(job.Ranges)
	if err != nil {
		return fmt.Errorf("marshal ranges: %w", err)
	}

	var (
		scorer              string
		ok, failed, skipped int
		bestIndex           *int
		bestScore           *float64
		bestParams, summary []byte
		errText             *string
	)
	if o := job.Outcome; o != nil {
		scorer = o.Scorer
		ok, failed, skipped = o.Summary.Count, o.Failed, o.Skipped
		if summary, err = json.Marshal(o.Summary); err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		if b := o.Best; b != nil {
			idx, score := b.Index, b.Score
			bestIndex, bestScore = &idx, &score
			if bestParams, err = json.Marshal(b.Params); err != nil {
				return fmt.Errorf("marshal best params: %w", err)
			}
		}
	}
	if job.Error != "" {
		errText = &job.Error
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO optimizations
		 (id, status, scorer, ranges, total_runs, ok_runs, failed_runs, skipped_runs,
		  best_index, best_score, best_params, summary, error, started_at, finished_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, ok_runs = EXCLUDED.ok_runs,
		   failed_runs = EXCLUDED.failed_runs, skipped_runs = EXCLUDED.skipped_runs,
		   best_index = EXCLUDED.best_index, best_score = EXCLUDED.best_score,
		   best_params = EXCLUDED.best_params, summary = EXCLUDED.summary,
		   error = EXCLUDED.error, finished_at = EXCLUDED.finished_at`,
		job.ID, string(job.Status), scorer, rangesJSON, job.Runs, ok, failed, skipped,
		bestIndex, bestScore, bestParams, summary, errText, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert optimization: %w", err)
	}

	if job.Outcome != nil && len(job.Outcome.Runs) > 0 {
		if err := insertOptimizationRuns(ctx, tx, job.ID, job.Outcome.Runs); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertOptimizationRuns(ctx context.Context, tx pgx.Tx, id uuid.UUID, runs []optimizer.Run) error {
	batch := &pgx.Batch{}
	for _, run := range runs {
		params, err := json.Marshal(run.Params)
		if err != nil {
			return fmt.Errorf("marshal params of run %d: %w", run.Index, err)
		}
		var report []byte
		if run.Report != nil {
			if report, err = json.Marshal(run.Report); err != nil {
				return fmt.Errorf("marshal report of run %d: %w", run.Index, err)
			}
		}
		batch.Queue(
			`INSERT INTO optimization_runs
			 (optimization_id, idx, params, status, score, report, error, duration_ms)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			 ON CONFLICT (optimization_id, idx) DO UPDATE SET
			   status = EXCLUDED.status, score = EXCLUDED.score, report = EXCLUDED.report,
			   error = EXCLUDED.error, duration_ms = EXCLUDED.duration_ms`,
			id, run.Index, params, string(run.Status), run.Score, report, run.Error, run.Duration.Milliseconds(),
		)
	}

	br := tx.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert optimization runs: %w", err)
	}
	return nil
}

// Get returns nil, nil when no optimization has the id.
func (r *OptimizationRepo) Get(ctx context.Context, id uuid.UUID) (*models.Optimization, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+optimizationColumns+` FROM optimizations WHERE id = $1`, id)
	o, err := scanOptimization(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

func (r *OptimizationRepo) List(ctx context.Context, limit int) ([]models.Optimization, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+optimizationColumns+` FROM optimizations ORDER BY started_at DESC LIMIT $1`,
		clampLimit(limit, maxRunsPage),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Optimization{}
	for rows.Next() {
		o, err := scanOptimization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Runs returns the combinations of an optimization, best score first.
func (r *OptimizationRepo) Runs(ctx context.Context, id uuid.UUID, limit int) ([]models.OptimizationRun, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT idx, params, status, score, report, error, duration_ms
		 FROM optimization_runs
		 WHERE optimization_id = $1
		 ORDER BY (status = 'ok') DESC, score DESC, idx ASC
		 LIMIT $2`,
		id, clampLimit(limit, maxOptimizationRunsPage),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.OptimizationRun{}
	for rows.Next() {
		var run models.OptimizationRun
		if err := rows.Scan(&run.Index, &run.Params, &run.Status, &run.Score, &run.Report, &run.Error, &run.Duration); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// --- scan helpers ---

const optimizationColumns = `id, status, scorer, ranges, total_runs, ok_runs, failed_runs, skipped_runs,
	best_index, best_score, best_params, summary, error, started_at, finished_at, created_at`

func scanOptimization(row scannable) (*models.Optimization, error) {
	var o models.Optimization
	err := row.Scan(
		&o.ID, &o.Status, &o.Scorer, &o.Ranges, &o.TotalRuns, &o.OKRuns, &o.FailedRuns, &o.SkippedRuns,
		&o.BestIndex, &o.BestScore, &o.BestParams, &o.Summary, &o.Error,
		&o.StartedAt, &o.FinishedAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-gridsim/internal/backtest"
	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/db"
	"github.com/kjannette/trahn-gridsim/internal/ledger"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/optimizer"
	"github.com/kjannette/trahn-gridsim/internal/repository"
	"github.com/kjannette/trahn-gridsim/internal/testutil"
)

func setup(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool := testutil.SetupPool(t)
	if err := db.Migrate(context.Background(), pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return pool
}

func simulate(t *testing.T) *backtest.Result {
	t.Helper()
	res, err := backtest.Simulate(context.Background(), config.DefaultSimulation(),
		testutil.RandomWalk(500, 100, 0.01, 5), backtest.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	return res
}

// ---------- RunRepo / TradeRepo / EquityRepo ----------

func TestRunRepo(t *testing.T) {
	pool := setup(t)
	runs := repository.NewRunRepo(pool)
	trades := repository.NewTradeRepo(pool)
	equity := repository.NewEquityRepo(pool)
	ctx := context.Background()

	res := simulate(t)
	id, err := runs.Save(ctx, res, "test", nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Cleanup(func() { runs.Delete(context.Background(), id) })

	got, err := runs.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored run")
	}
	if !got.FinalBalance.Equal(res.Report.FinalBalance) {
		t.Fatalf("final balance: got %s want %s", got.FinalBalance, res.Report.FinalBalance)
	}
	if got.TotalTrades != len(res.Trades) || got.Mode != "long" || got.Source != "test" {
		t.Fatalf("unexpected row: %+v", got)
	}

	stored, err := trades.GetByRun(ctx, id, "", 0)
	if err != nil {
		t.Fatalf("GetByRun: %v", err)
	}
	if len(stored) != len(res.Trades) {
		t.Fatalf("trades: got %d want %d", len(stored), len(res.Trades))
	}
	for i := range stored {
		if !stored[i].PnL.Equal(res.Trades[i].PnL) || !stored[i].Fee.Equal(res.Trades[i].Fee) {
			t.Fatalf("trade %d money mismatch: %+v vs %+v", i, stored[i], res.Trades[i])
		}
	}

	closes, err := trades.GetByRun(ctx, id, ledger.ReasonManual, 0)
	if err != nil {
		t.Fatalf("GetByRun(manual): %v", err)
	}
	for _, tr := range closes {
		if tr.Reason != ledger.ReasonManual {
			t.Fatalf("filter leaked reason %s", tr.Reason)
		}
	}

	curve, err := equity.GetByRun(ctx, id, 1)
	if err != nil {
		t.Fatalf("equity GetByRun: %v", err)
	}
	if len(curve) != len(res.Equity) {
		t.Fatalf("equity: got %d want %d", len(curve), len(res.Equity))
	}
	thin, err := equity.GetByRun(ctx, id, 3)
	if err != nil {
		t.Fatalf("equity GetByRun(stride): %v", err)
	}
	if last := thin[len(thin)-1]; !last.Timestamp.Equal(res.Equity[len(res.Equity)-1].Timestamp) {
		t.Fatal("strided curve must end at the final snapshot")
	}

	list, err := runs.List(ctx, 10, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("expected runs")
	}

	stats, err := runs.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	t.Logf("Stats: runs=%d liquidated=%d", stats.TotalRuns, stats.Liquidated)

	missing, err := runs.Get(ctx, uuid.New())
	if err != nil || missing != nil {
		t.Fatalf("Get(unknown): %v %v", missing, err)
	}
}

// ---------- OptimizationRepo ----------

func TestOptimizationRepo(t *testing.T) {
	pool := setup(t)
	repo := repository.NewOptimizationRepo(pool)
	ctx := context.Background()

	ranges := config.Ranges{"grid_count": {1, 10, 20}}
	opt := optimizer.New(config.DefaultSimulation(), optimizer.WithLogger(logger.Discard()), optimizer.WithProgressEvery(0))
	outcome, err := opt.Run(ctx, testutil.RandomWalk(400, 100, 0.01, 9), ranges)
	if err != nil {
		t.Fatalf("optimizer Run: %v", err)
	}

	now := time.Now().UTC()
	job := optimizer.Job{
		ID:         uuid.New(),
		Status:     optimizer.JobDone,
		Ranges:     ranges,
		Runs:       3,
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: &now,
		Outcome:    outcome,
	}
	if err := repo.SaveOptimization(ctx, job); err != nil {
		t.Fatalf("SaveOptimization: %v", err)
	}
	// Saving again updates in place.
	if err := repo.SaveOptimization(ctx, job); err != nil {
		t.Fatalf("SaveOptimization (again): %v", err)
	}

	got, err := repo.Get(ctx, job.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %v %v", got, err)
	}
	if got.OKRuns != 2 || got.FailedRuns != 1 || got.BestIndex == nil {
		t.Fatalf("unexpected optimization row: %+v", got)
	}

	runs, err := repo.Runs(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].Index != *got.BestIndex {
		t.Fatalf("best run should come first: %d vs %d", runs[0].Index, *got.BestIndex)
	}
	if runs[2].Status != string(optimizer.StatusFailed) {
		t.Fatalf("failed run should come last, got %s", runs[2].Status)
	}

	list, err := repo.List(ctx, 5)
	if err != nil || len(list) == 0 {
		t.Fatalf("List: %d %v", len(list), err)
	}
}

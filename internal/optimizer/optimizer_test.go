package optimizer

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-gridsim/internal/backtest"
	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/market"
	"github.com/kjannette/trahn-gridsim/internal/testutil"
)

func candles() []market.Candle {
	return testutil.RandomWalk(600, 100, 0.01, 7)
}

func newQuiet(opts ...Option) *Optimizer {
	all := append([]Option{WithLogger(logger.Discard()), WithProgressEvery(0)}, opts...)
	return New(config.DefaultSimulation(), all...)
}

type observerFunc func(Run)

func (f observerFunc) ObserveRun(r Run) { f(r) }

func TestCombinations_Order(t *testing.T) {
	got := Combinations(config.Ranges{
		"b": {1, 2},
		"a": {"x", "y"},
	})
	want := []map[string]any{
		{"a": "x", "b": 1},
		{"a": "x", "b": 2},
		{"a": "y", "b": 1},
		{"a": "y", "b": 2},
	}
	assert.Equal(t, want, got)
}

func TestRun_FourCombinations(t *testing.T) {
	ranges := config.Ranges{
		"leverage":   {2.0, 3.0},
		"grid_count": {10, 20},
	}
	out, err := newQuiet(WithWorkers(2)).Run(context.Background(), candles(), ranges)
	require.NoError(t, err)

	require.Len(t, out.Runs, 4)
	assert.False(t, out.Cancelled)
	assert.Zero(t, out.Skipped)
	assert.Zero(t, out.Failed)
	assert.Equal(t, DefaultScorer, out.Scorer)
	require.NotNil(t, out.Best)

	for i, r := range out.Runs {
		assert.Equal(t, i, r.Index)
		require.Equal(t, StatusOK, r.Status, r.Error)
		require.NotNil(t, r.Report)
		assert.Equal(t, r.Report.TotalReturn, r.Score)
		assert.GreaterOrEqual(t, out.Best.Score, r.Score)
	}
	assert.Equal(t, 10, out.Runs[0].Config.GridCount)
	assert.Equal(t, 2.0, out.Runs[0].Config.Leverage)
	assert.Equal(t, 20, out.Runs[3].Config.GridCount)
	assert.Equal(t, 3.0, out.Runs[3].Config.Leverage)
	assert.Equal(t, 4, out.Summary.Count)
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	ranges := config.Ranges{"grid_count": {8, 12, 16}, "mode": {"long", "short"}}
	series := candles()

	one, err := newQuiet(WithWorkers(1)).Run(context.Background(), series, ranges)
	require.NoError(t, err)
	many, err := newQuiet(WithWorkers(4)).Run(context.Background(), series, ranges)
	require.NoError(t, err)

	require.Len(t, many.Runs, len(one.Runs))
	for i := range one.Runs {
		assert.Equal(t, one.Runs[i].Score, many.Runs[i].Score, "run %d", i)
	}
	assert.Equal(t, one.Best.Index, many.Best.Index)
}

func TestRun_FailedRunIsIsolated(t *testing.T) {
	// grid_count 1 passes the override but fails engine validation.
	out, err := newQuiet(WithWorkers(2)).Run(context.Background(), candles(),
		config.Ranges{"grid_count": {1, 10}})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, out.Runs[0].Status)
	assert.Contains(t, out.Runs[0].Error, "grid_count")
	assert.Nil(t, out.Runs[0].Report)
	assert.Equal(t, StatusOK, out.Runs[1].Status)
	assert.Equal(t, 1, out.Failed)
	require.NotNil(t, out.Best)
	assert.Equal(t, 1, out.Best.Index)
}

func TestRun_RejectsBadRanges(t *testing.T) {
	o := newQuiet()
	_, err := o.Run(context.Background(), candles(), config.Ranges{"nope": {1}})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = o.Run(context.Background(), candles(), config.Ranges{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = o.Run(context.Background(), nil, config.Ranges{"grid_count": {10}})
	assert.ErrorIs(t, err, market.ErrEmptySeries)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newQuiet().Run(ctx, candles(), config.Ranges{"grid_count": {10, 20, 30}})
	require.NoError(t, err)

	assert.True(t, out.Cancelled)
	assert.Equal(t, 3, out.Skipped)
	assert.Nil(t, out.Best)
	for _, r := range out.Runs {
		assert.Equal(t, StatusSkipped, r.Status)
	}
}

func TestRun_CancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	var observed atomic.Int32
	o := newQuiet(WithWorkers(1), WithObserver(observerFunc(func(Run) {
		observed.Add(1)
		once.Do(cancel)
	})))
	out, err := o.Run(ctx, candles(), config.Ranges{"grid_count": {8, 10, 12, 14}})
	require.NoError(t, err)

	// one worker: the run waiting for the slot must not start after cancel
	assert.True(t, out.Cancelled)
	assert.Equal(t, 1, out.Summary.Count)
	assert.Equal(t, 3, out.Skipped)
	assert.Equal(t, int32(1), observed.Load())
	assert.Equal(t, StatusOK, out.Runs[0].Status)
	for _, r := range out.Runs[1:] {
		assert.Equal(t, StatusSkipped, r.Status, "run %d", r.Index)
	}
	for _, r := range out.Runs {
		if r.Status == StatusOK {
			assert.False(t, r.Report.Interrupted, "run %d", r.Index)
		}
	}
}

func TestRun_CustomScorer(t *testing.T) {
	s, err := ScorerByName("return_over_drawdown")
	require.NoError(t, err)

	out, err := newQuiet(WithScorer(s)).Run(context.Background(), candles(), config.Ranges{"grid_count": {10, 20}})
	require.NoError(t, err)
	assert.Equal(t, "return_over_drawdown", out.Scorer)
	for _, r := range out.Runs {
		want := r.Report.TotalReturn / math.Max(r.Report.MaxDrawdown, minDrawdown)
		assert.InDelta(t, want, r.Score, 1e-12)
	}
}

func TestRun_ObserverSeesEveryRun(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]Status{}
	o := newQuiet(WithWorkers(3), WithObserver(observerFunc(func(r Run) {
		mu.Lock()
		seen[r.Index] = r.Status
		mu.Unlock()
	})))
	_, err := o.Run(context.Background(), candles(), config.Ranges{"grid_count": {1, 10, 20}})
	require.NoError(t, err)
	assert.Equal(t, map[int]Status{0: StatusFailed, 1: StatusOK, 2: StatusOK}, seen)
}

func TestOutcome_Top(t *testing.T) {
	rep := &backtest.Report{}
	out := newOutcome("total_return", []Run{
		{Index: 0, Status: StatusOK, Score: 0.1, Report: rep},
		{Index: 1, Status: StatusFailed},
		{Index: 2, Status: StatusOK, Score: 0.3, Report: rep},
		{Index: 3, Status: StatusOK, Score: 0.1, Report: rep},
		{Index: 4, Status: StatusSkipped},
	}, false, 0)

	top := out.Top(0)
	require.Len(t, top, 3)
	assert.Equal(t, []int{2, 0, 3}, []int{top[0].Index, top[1].Index, top[2].Index})
	assert.Len(t, out.Top(2), 2)

	assert.Equal(t, 2, out.Best.Index)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.Skipped)
}

func TestOutcome_BestPrefersFirstOnTie(t *testing.T) {
	out := newOutcome("total_return", []Run{
		{Index: 0, Status: StatusOK, Score: 0.2},
		{Index: 1, Status: StatusOK, Score: 0.2},
	}, false, 0)
	assert.Equal(t, 0, out.Best.Index)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{4, 1, 3, 2})
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.InDelta(t, 2.5, s.Median, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), s.StdDev, 1e-12)
	assert.Equal(t, 4.0, s.Best)
	assert.Equal(t, 1.0, s.Worst)

	odd := Summarize([]float64{5, 1, 3})
	assert.Equal(t, 3.0, odd.Median)

	single := Summarize([]float64{7})
	assert.Zero(t, single.StdDev)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestScorerByName(t *testing.T) {
	s, err := ScorerByName("")
	require.NoError(t, err)
	assert.Equal(t, DefaultScorer, s.Name)

	_, err = ScorerByName("luck")
	assert.ErrorIs(t, err, ErrUnknownScorer)

	assert.Equal(t, []string{"profit_factor", "return_over_drawdown", "sharpe_ratio", "total_return", "win_rate"}, ScorerNames())

	rod, _ := ScorerByName("return_over_drawdown")
	assert.InDelta(t, 5.0, rod.Score(backtest.Report{TotalReturn: 0.05, MaxDrawdown: 0}), 1e-12)
	assert.InDelta(t, 0.5, rod.Score(backtest.Report{TotalReturn: 0.05, MaxDrawdown: 0.1}), 1e-12)
}

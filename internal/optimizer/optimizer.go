// Package optimizer runs one backtest per combination of parameter values
// and ranks the results.
package optimizer

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/trahn-gridsim/internal/backtest"
	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/market"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Run is one combination and its result.
type Run struct {
	Index    int               `json:"index"`
	Params   map[string]any    `json:"params"`
	Config   config.Simulation `json:"config"`
	Status   Status            `json:"status"`
	Report   *backtest.Report  `json:"report,omitempty"`
	Score    float64           `json:"score"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Observer is told about every finished run. Calls come from worker
// goroutines concurrently.
type Observer interface {
	ObserveRun(Run)
}

type Option func(*Optimizer)

func WithWorkers(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithScorer(s Scorer) Option {
	return func(o *Optimizer) { o.scorer = s }
}

func WithLogger(l *logrus.Entry) Option {
	return func(o *Optimizer) { o.log = l }
}

// WithProgressEvery logs progress after every n finished runs. Zero disables.
func WithProgressEvery(n int) Option {
	return func(o *Optimizer) { o.progressEvery = n }
}

// WithEngineOptions are applied to every engine. Subscribers passed here are
// shared across concurrent runs and must be safe for that.
func WithEngineOptions(opts ...backtest.Option) Option {
	return func(o *Optimizer) { o.engineOpts = append(o.engineOpts, opts...) }
}

func WithObserver(obs Observer) Option {
	return func(o *Optimizer) { o.observers = append(o.observers, obs) }
}

type Optimizer struct {
	base          config.Simulation
	workers       int
	scorer        Scorer
	log           *logrus.Entry
	progressEvery int
	engineOpts    []backtest.Option
	observers     []Observer
}

func New(base config.Simulation, opts ...Option) *Optimizer {
	def, _ := ScorerByName(DefaultScorer)
	o := &Optimizer{
		base:          base,
		workers:       runtime.NumCPU(),
		scorer:        def,
		log:           logger.Component("OPTIMIZER"),
		progressEvery: 10,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Combinations enumerates the cross product of r. Names are sorted and the
// last name varies fastest.
func Combinations(r config.Ranges) []map[string]any {
	names := r.Names()
	if len(names) == 0 {
		return []map[string]any{{}}
	}

	total := r.Size()
	out := make([]map[string]any, 0, total)
	idx := make([]int, len(names))
	for n := 0; n < total; n++ {
		combo := make(map[string]any, len(names))
		for k, name := range names {
			combo[name] = r[name][idx[k]]
		}
		out = append(out, combo)

		for k := len(names) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < len(r[names[k]]) {
				break
			}
			idx[k] = 0
		}
	}
	return out
}

// Run evaluates every combination. Cancelling ctx stops scheduling; runs
// already started finish on a detached context.
func (o *Optimizer) Run(ctx context.Context, candles []market.Candle, ranges config.Ranges) (*Outcome, error) {
	if err := ranges.Validate(o.base); err != nil {
		return nil, err
	}
	if err := market.Validate(candles); err != nil {
		return nil, fmt.Errorf("price series: %w", err)
	}

	combos := Combinations(ranges)
	runs := make([]Run, len(combos))
	for i, combo := range combos {
		runs[i] = Run{Index: i, Params: combo, Status: StatusSkipped}
	}

	o.log.Infof("Starting %d runs on %d workers, scoring by %s", len(combos), o.workers, o.scorer.Name)
	started := time.Now()

	var finished atomic.Int64
	runCtx := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	g.SetLimit(o.workers)

	var cancelled atomic.Bool
	for i := range combos {
		if ctx.Err() != nil {
			cancelled.Store(true)
			break
		}
		g.Go(func() error {
			// g.Go may have blocked on a free slot while ctx was cancelled.
			if ctx.Err() != nil {
				cancelled.Store(true)
				return nil
			}
			runs[i] = o.runOne(runCtx, runs[i], candles)
			for _, obs := range o.observers {
				obs.ObserveRun(runs[i])
			}
			n := finished.Add(1)
			if o.progressEvery > 0 && (n%int64(o.progressEvery) == 0 || int(n) == len(combos)) {
				o.log.Infof("Progress: %d/%d runs (%.0f%%)", n, len(combos), float64(n)/float64(len(combos))*100)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := newOutcome(o.scorer.Name, runs, cancelled.Load(), time.Since(started))
	if out.Cancelled {
		o.log.Warnf("Cancelled: %d runs skipped", out.Skipped)
	}
	if out.Best != nil {
		o.log.Infof("Best run #%d (%s %.4f): %v", out.Best.Index, o.scorer.Name, out.Best.Score, out.Best.Params)
	}
	return out, nil
}

func (o *Optimizer) runOne(ctx context.Context, run Run, candles []market.Candle) Run {
	start := time.Now()

	cfg, err := o.base.With(run.Params)
	if err != nil {
		return failed(run, err, start)
	}
	run.Config = cfg

	opts := append([]backtest.Option{backtest.WithLogger(logger.Discard())}, o.engineOpts...)
	res, err := backtest.Simulate(ctx, cfg, candles, opts...)
	if err != nil {
		o.log.Debugf("Run #%d failed: %v", run.Index, err)
		return failed(run, err, start)
	}

	run.Status = StatusOK
	run.Report = &res.Report
	run.Score = o.scorer.Score(res.Report)
	run.Duration = time.Since(start)
	return run
}

func failed(run Run, err error, start time.Time) Run {
	run.Status = StatusFailed
	run.Error = err.Error()
	run.Duration = time.Since(start)
	return run
}

// Outcome is the aggregate of an optimization.
type Outcome struct {
	Scorer    string        `json:"scorer"`
	Runs      []Run         `json:"runs"`
	Best      *Run          `json:"best,omitempty"`
	Summary   Summary       `json:"summary"`
	Cancelled bool          `json:"cancelled"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

func newOutcome(scorer string, runs []Run, cancelled bool, elapsed time.Duration) *Outcome {
	out := &Outcome{Scorer: scorer, Runs: runs, Cancelled: cancelled, Elapsed: elapsed}

	var scores []float64
	for i := range runs {
		switch runs[i].Status {
		case StatusSkipped:
			out.Skipped++
		case StatusFailed:
			out.Failed++
		case StatusOK:
			scores = append(scores, runs[i].Score)
			if out.Best == nil || runs[i].Score > out.Best.Score {
				out.Best = &runs[i]
			}
		}
	}
	out.Summary = Summarize(scores)
	return out
}

// Top returns up to n successful runs, best first. Ties keep index order.
func (o *Outcome) Top(n int) []Run {
	var ok []Run
	for _, r := range o.Runs {
		if r.Status == StatusOK {
			ok = append(ok, r)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Score > ok[j].Score })
	if n > 0 && len(ok) > n {
		ok = ok[:n]
	}
	return ok
}

// Package backtest replays a candle series through the grid strategy,
// ledger, risk manager and performance tracker.
//
// Each step runs, in order: indicator update, re-grid check, fills (exits
// before entries), risk checks, funding, snapshot. Orders placed during a
// step are first eligible on the next candle.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/indicator"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/market"
	"github.com/kjannette/trahn-gridsim/internal/strategy"
)

// DefaultVolatility is used until the volatility window has filled.
const DefaultVolatility = 0.02

type Option func(*Engine)

func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.log = l }
}

func WithSubscriber(s Subscriber) Option {
	return func(e *Engine) {
		if s != nil {
			e.subs = append(e.subs, s)
		}
	}
}

func WithIndicatorParams(p indicator.Params) Option {
	return func(e *Engine) { e.params = p }
}

// Engine runs one configuration. Run may be called again after it returns,
// but not concurrently.
type Engine struct {
	cfg    config.Simulation
	params indicator.Params
	log    *logrus.Entry
	subs   []Subscriber

	state atomic.Int32
}

func New(cfg config.Simulation, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		params: indicator.DefaultParams(),
		log:    logger.Component("ENGINE"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Simulate is New(cfg, opts...).Run(ctx, candles).
func Simulate(ctx context.Context, cfg config.Simulation, candles []market.Candle, opts ...Option) (*Result, error) {
	return New(cfg, opts...).Run(ctx, candles)
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// Run replays candles. A cancelled ctx stops stepping; the run still
// finalizes and returns a Report with Interrupted set.
func (e *Engine) Run(ctx context.Context, candles []market.Candle) (*Result, error) {
	e.setState(Initializing)

	if err := e.cfg.Validate(); err != nil {
		e.setState(Done)
		return nil, err
	}
	if err := market.Validate(candles); err != nil {
		e.setState(Done)
		return nil, fmt.Errorf("price series: %w", err)
	}
	lookback := indicator.Lookback(e.params)
	if len(candles) < lookback {
		e.setState(Done)
		return nil, &indicator.InsufficientDataError{Need: lookback, Have: len(candles)}
	}

	r := newRun(e.cfg, e.params, candles, e.log, &dispatcher{subs: e.subs, log: e.log})
	if err := r.init(lookback - 1); err != nil {
		e.setState(Done)
		// A fixed bound on the wrong side of the opening price only shows up here.
		if errors.Is(err, strategy.ErrInvalidRange) {
			return nil, &config.ConfigurationError{Problems: []string{"initial grid: " + err.Error()}}
		}
		return nil, fmt.Errorf("initial grid: %w", err)
	}

	e.setState(Running)
	interrupted := false
	for i := lookback; i < len(candles); i++ {
		if ctx.Err() != nil {
			interrupted = true
			e.log.Warnf("Run interrupted at candle %d/%d: %v", i, len(candles), ctx.Err())
			break
		}
		if err := r.step(i); err != nil {
			e.setState(Done)
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	e.setState(Finalizing)
	res := r.finalize(interrupted)
	e.setState(Done)

	r.events.complete(res.Report)
	e.log.Infof("Run complete: %s", res.Report.Summary())
	return res, nil
}

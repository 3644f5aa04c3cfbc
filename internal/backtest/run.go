package backtest

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/indicator"
	"github.com/kjannette/trahn-gridsim/internal/ledger"
	"github.com/kjannette/trahn-gridsim/internal/market"
	"github.com/kjannette/trahn-gridsim/internal/performance"
	"github.com/kjannette/trahn-gridsim/internal/risk"
	"github.com/kjannette/trahn-gridsim/internal/strategy"
)

type levelState int

const (
	idle levelState = iota
	armed
	holding
)

type pendingExit struct {
	order    ledger.Order
	placedAt int
}

type counters struct {
	rejected int
	regrids  int
}

// run is the mutable state of a single Engine.Run.
type run struct {
	cfg     config.Simulation
	log     *logrus.Entry
	events  *dispatcher
	candles []market.Candle
	closes  []float64
	series  []indicator.Values

	ledger   *ledger.Ledger
	guardian *risk.Guardian
	tracker  *performance.Tracker
	planner  *strategy.Planner
	policy   *strategy.Policy

	grid   strategy.Grid
	levels []levelState
	exits  map[int64]pendingExit

	start  int // index of the last warm-up candle
	last   int // last processed index
	counts counters
}

func newRun(cfg config.Simulation, params indicator.Params, candles []market.Candle, log *logrus.Entry, events *dispatcher) *run {
	return &run{
		cfg:      cfg,
		log:      log,
		events:   events,
		candles:  candles,
		closes:   market.Closes(candles),
		series:   indicator.Series(candles, params),
		ledger:   ledger.New(cfg),
		guardian: risk.NewGuardian(risk.LimitsFrom(cfg)),
		tracker:  performance.NewTracker(),
		planner:  strategy.NewPlanner(cfg),
		policy:   strategy.NewPolicy(cfg),
		exits:    make(map[int64]pendingExit),
	}
}

func (r *run) side() ledger.Side {
	if r.cfg.Mode == config.ModeShort {
		return ledger.Short
	}
	return ledger.Long
}

func (r *run) volatility(i int) float64 {
	if vol, ok := indicator.Volatility(r.closes[:i+1], r.cfg.VolatilityLookback); ok {
		return vol
	}
	return DefaultVolatility
}

func (r *run) balance() float64 { return r.ledger.Balance().InexactFloat64() }

// plan sizes and lays out a grid from the market at index i.
func (r *run) plan(i int) (strategy.Grid, error) {
	c := r.candles[i]
	vol := r.volatility(i)
	trend := strategy.ClassifyTrend(r.series[i], c.Close, r.cfg.TrendStrengthThreshold)
	sizing := r.policy.Decide(strategy.MarketState{
		Volatility: vol,
		Trend:      trend,
		Balance:    r.balance(),
		Mode:       r.cfg.Mode,
	})
	g, err := r.planner.Plan(c.Close, vol, sizing)
	if err != nil {
		return strategy.Grid{}, err
	}
	r.log.WithFields(logrus.Fields{
		"generation": g.Generation,
		"trend":      trend,
		"volatility": vol,
	}).Debugf("Grid planned:\n%s", strategy.Format(g, c.Close))
	return g, nil
}

func (r *run) install(g strategy.Grid, price float64) {
	r.grid = g
	r.levels = make([]levelState, len(g.Levels))
	r.arm(price)
}

func (r *run) init(start int) error {
	r.start = start
	r.last = start

	g, err := r.plan(start)
	if err != nil {
		return err
	}
	c := r.candles[start]
	r.install(g, c.Close)
	r.snapshot(c)

	r.log.Infof("Run started: %s mode, %d levels %.4f-%.4f, leverage %.2fx, %d candles",
		r.cfg.Mode, len(g.Levels), g.Lower, g.Upper, g.Sizing.Leverage, len(r.candles))
	r.events.start(StartInfo{Config: r.cfg, Candles: len(r.candles), Grid: g})
	return nil
}

func (r *run) step(i int) error {
	c := r.candles[i]
	r.last = i

	if r.cfg.AdaptiveGrid && (r.cfg.GridLower.Auto || r.cfg.GridUpper.Auto) {
		r.maybeRegrid(i)
	}

	if err := r.fillExits(i, c); err != nil {
		return err
	}
	if err := r.fillEntries(c); err != nil {
		return err
	}

	r.checkRisk(c)

	n := i - r.start
	if n%r.cfg.FundingInterval == 0 {
		r.ledger.AccrueFunding(c.Close)
	}
	if n%r.cfg.SnapshotInterval == 0 {
		r.snapshot(c)
	}

	r.arm(c.Close)
	r.events.step(i, c, r.ledger.Open)
	return nil
}

func (r *run) maybeRegrid(i int) {
	c := r.candles[i]
	ok, reasons := strategy.ShouldRegrid(r.grid, c.Close, r.volatility(i), r.cfg.RegridThreshold)
	if !ok {
		return
	}
	g, err := r.plan(i)
	if err != nil {
		r.log.Warnf("Re-grid skipped at candle %d: %v", i, err)
		return
	}

	// cancel-and-replace: entries of the old grid are dropped, exits of
	// open positions stay in r.exits
	r.grid = g
	r.levels = make([]levelState, len(g.Levels))
	r.counts.regrids++

	r.log.Infof("Re-grid #%d at %.4f - %s", r.counts.regrids, c.Close, strategy.JoinReasons(reasons))
	r.events.regrid(g, reasons)
}

func (r *run) fillExits(i int, c market.Candle) error {
	ids := make([]int64, 0, len(r.exits))
	for id, pe := range r.exits {
		if pe.placedAt < i {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	for _, id := range ids {
		pe := r.exits[id]
		res, t, err := r.ledger.TryFill(pe.order, c)
		if err != nil {
			return err
		}
		if res != ledger.Filled {
			continue
		}
		delete(r.exits, id)
		r.release(pe.order.Level, pe.order.Generation)
		r.events.trade(*t)
	}
	return nil
}

// entryOrder returns level indices in fill order: low to high for longs,
// high to low for shorts.
func (r *run) entryOrder() []int {
	idx := make([]int, len(r.levels))
	for i := range idx {
		idx[i] = i
	}
	if r.cfg.Mode == config.ModeShort {
		sort.Sort(sort.Reverse(sort.IntSlice(idx)))
	}
	return idx
}

func (r *run) fillEntries(c market.Candle) error {
	side := r.side()
	for _, li := range r.entryOrder() {
		if r.levels[li] != armed {
			continue
		}
		level := r.grid.Levels[li]
		if !c.Crosses(level.Price) {
			continue
		}

		order := ledger.Order{
			Kind:       ledger.Entry,
			Side:       side,
			Price:      level.Price,
			Size:       level.Size,
			Leverage:   r.grid.Sizing.Leverage,
			Level:      li,
			Generation: r.grid.Generation,
		}
		state := risk.PortfolioState{
			Balance:         r.balance(),
			Exposure:        r.ledger.Exposure(c.Close),
			CommittedMargin: r.ledger.CommittedMargin(),
			OpenPositions:   r.ledger.OpenCount(),
		}
		if err := r.guardian.PreTradeCheck(state, order.Notional(), order.Margin()); err != nil {
			r.counts.rejected++
			r.levels[li] = idle
			r.log.Debugf("Entry at level %d rejected: %v", li, err)
			continue
		}

		res, t, err := r.ledger.TryFill(order, c)
		if err != nil {
			return err
		}
		if res != ledger.Filled {
			continue
		}

		r.levels[li] = holding
		exitIdx, _ := r.grid.ExitIndex(li)
		r.exits[t.PositionID] = pendingExit{
			order: ledger.Order{
				Kind:       ledger.Exit,
				Side:       side,
				Price:      r.grid.Levels[exitIdx].Price,
				Size:       t.Size,
				Leverage:   order.Leverage,
				Level:      li,
				Generation: order.Generation,
				PositionID: t.PositionID,
			},
			placedAt: r.last,
		}
		r.events.trade(*t)
	}
	return nil
}

func (r *run) checkRisk(c market.Candle) {
	for _, pos := range r.ledger.Open() {
		d := r.guardian.Evaluate(pos, c.Close)
		if !d.Close() {
			continue
		}
		t, err := r.ledger.ClosePosition(pos.ID, c.Close, d.Reason, c.Timestamp)
		if err != nil {
			panic(fmt.Sprintf("backtest: open position %d vanished: %v", pos.ID, err))
		}
		delete(r.exits, pos.ID)
		r.release(pos.Level, pos.Generation)

		if d.Reason == ledger.ReasonLiquidation {
			r.log.Warnf("LIQUIDATION: position %d %s @ %.4f (liq %.4f) at %.4f, pnl %s",
				pos.ID, pos.Side, pos.EntryPrice, pos.LiquidationPrice, c.Close, t.PnL.StringFixed(2))
		} else {
			r.log.Debugf("Position %d closed by %s at %.4f", pos.ID, d.Reason, c.Close)
		}
		r.events.trade(t)
	}
}

// release frees a level of the current grid once its position is gone.
func (r *run) release(level, generation int) {
	if generation == r.grid.Generation && level >= 0 && level < len(r.levels) {
		r.levels[level] = idle
	}
}

// arm places entries for idle levels on the right side of price.
func (r *run) arm(price float64) {
	for i, st := range r.levels {
		if st == idle && r.grid.Arms(i, price) {
			r.levels[i] = armed
		}
	}
}

func (r *run) snapshot(c market.Candle) {
	s := r.tracker.Record(c.Timestamp, r.balance(), r.ledger.UnrealizedPnL(c.Close), r.ledger.OpenCount())
	r.events.snapshot(s)
}

func (r *run) finalize(interrupted bool) *Result {
	c := r.candles[r.last]
	for _, t := range r.ledger.CloseAll(c.Close, ledger.ReasonManual, c.Timestamp) {
		r.events.trade(t)
	}
	r.exits = map[int64]pendingExit{}
	r.snapshot(c)

	trades := r.ledger.Trades()
	equity := r.tracker.Snapshots()
	ppy := performance.PeriodsPerYear(market.Interval(r.candles), r.cfg.SnapshotInterval)
	initial := r.ledger.InitialBalance().InexactFloat64()
	m := performance.Compute(initial, r.balance(), trades, equity, ppy)

	return &Result{
		Report:    buildReport(r.ledger, trades, m, r.counts, r.last+1, interrupted),
		Config:    r.cfg,
		Trades:    trades,
		Equity:    equity,
		FinalGrid: r.grid,
	}
}

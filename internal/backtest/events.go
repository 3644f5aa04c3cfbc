package backtest

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/ledger"
	"github.com/kjannette/trahn-gridsim/internal/market"
	"github.com/kjannette/trahn-gridsim/internal/performance"
	"github.com/kjannette/trahn-gridsim/internal/strategy"
)

// Subscriber receives run events synchronously on the engine goroutine.
// Implementations that do I/O should hand off to their own goroutine. The
// closing snapshot may repeat the timestamp of the one before it, in which
// case it supersedes it.
type Subscriber interface {
	OnTrade(ledger.Trade)
	OnSnapshot(performance.EquitySnapshot)
	OnComplete(Report)
}

// StartInfo describes a run once warm-up is done.
type StartInfo struct {
	Config  config.Simulation
	Candles int
	Grid    strategy.Grid
}

// Starter is implemented by subscribers that want the run-start event.
type Starter interface {
	OnStart(StartInfo)
}

// Regridder is implemented by subscribers that want each replacement grid.
type Regridder interface {
	OnRegrid(grid strategy.Grid, reasons []string)
}

// StepObserver is implemented by subscribers that inspect the book after
// every processed candle.
type StepObserver interface {
	OnStep(index int, c market.Candle, open []ledger.Position)
}

type dispatcher struct {
	subs []Subscriber
	log  *logrus.Entry
}

func (d *dispatcher) each(event string, fn func(Subscriber)) {
	for _, s := range d.subs {
		d.call(event, s, fn)
	}
}

func (d *dispatcher) call(event string, s Subscriber, fn func(Subscriber)) {
	defer func() {
		if p := recover(); p != nil {
			d.log.WithField("subscriber", fmt.Sprintf("%T", s)).
				Errorf("subscriber panicked on %s: %v", event, p)
		}
	}()
	fn(s)
}

func (d *dispatcher) trade(t ledger.Trade) {
	d.each("trade", func(s Subscriber) { s.OnTrade(t) })
}

func (d *dispatcher) snapshot(snap performance.EquitySnapshot) {
	d.each("snapshot", func(s Subscriber) { s.OnSnapshot(snap) })
}

func (d *dispatcher) complete(r Report) {
	d.each("complete", func(s Subscriber) { s.OnComplete(r) })
}

func (d *dispatcher) start(info StartInfo) {
	d.each("start", func(s Subscriber) {
		if st, ok := s.(Starter); ok {
			st.OnStart(info)
		}
	})
}

func (d *dispatcher) regrid(g strategy.Grid, reasons []string) {
	d.each("regrid", func(s Subscriber) {
		if rg, ok := s.(Regridder); ok {
			rg.OnRegrid(g, reasons)
		}
	})
}

func (d *dispatcher) step(i int, c market.Candle, open func() []ledger.Position) {
	var positions []ledger.Position
	d.each("step", func(s Subscriber) {
		if so, ok := s.(StepObserver); ok {
			if positions == nil {
				positions = open()
			}
			so.OnStep(i, c, positions)
		}
	})
}

// Recorder keeps every event it sees, in order.
type Recorder struct {
	mu        sync.Mutex
	started   *StartInfo
	trades    []ledger.Trade
	snapshots []performance.EquitySnapshot
	grids     []strategy.Grid
	report    *Report
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) OnStart(info StartInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = &info
	r.grids = append(r.grids, info.Grid)
}

func (r *Recorder) OnTrade(t ledger.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
}

// OnSnapshot keeps one point per timestamp, like the run's equity curve.
func (r *Recorder) OnSnapshot(s performance.EquitySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.snapshots); n > 0 && r.snapshots[n-1].Timestamp.Equal(s.Timestamp) {
		r.snapshots[n-1] = s
		return
	}
	r.snapshots = append(r.snapshots, s)
}

func (r *Recorder) OnRegrid(g strategy.Grid, _ []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grids = append(r.grids, g)
}

func (r *Recorder) OnComplete(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = &rep
}

func (r *Recorder) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started != nil
}

func (r *Recorder) Trades() []ledger.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

func (r *Recorder) Snapshots() []performance.EquitySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]performance.EquitySnapshot, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

// Grids returns the initial grid followed by every replacement.
func (r *Recorder) Grids() []strategy.Grid {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]strategy.Grid(nil), r.grids...)
}

func (r *Recorder) Report() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.report == nil {
		return Report{}, false
	}
	return *r.report, true
}

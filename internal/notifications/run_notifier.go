package notifications

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-gridsim/internal/backtest"
	"github.com/kjannette/trahn-gridsim/internal/ledger"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/performance"
)

// Messenger delivers one message. *Sender is the production implementation.
type Messenger interface {
	Send(msg string)
}

const DefaultQueueSize = 64

// RunNotifier is a backtest subscriber that turns run events into messages.
// Delivery happens on its own goroutine; when the queue is full new messages
// are dropped so the engine never waits on the network.
type RunNotifier struct {
	out           Messenger
	label         string
	snapshotEvery int
	log           *logrus.Entry

	mu      sync.Mutex
	closed  bool
	queue   chan string
	done    chan struct{}
	dropped atomic.Int64

	snapshots int
}

// NewRunNotifier starts the delivery goroutine. snapshotEvery of zero turns
// progress messages off. Call Close once the run is over.
func NewRunNotifier(out Messenger, label string, snapshotEvery, queueSize int) *RunNotifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	n := &RunNotifier{
		out:           out,
		label:         label,
		snapshotEvery: snapshotEvery,
		log:           logger.Component("NOTIFY"),
		queue:         make(chan string, queueSize),
		done:          make(chan struct{}),
	}
	go n.deliver()
	return n
}

func (n *RunNotifier) deliver() {
	defer close(n.done)
	for msg := range n.queue {
		n.out.Send(msg)
	}
}

func (n *RunNotifier) enqueue(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- fmt.Sprintf("%s: %s", n.label, msg):
	default:
		if n.dropped.Add(1) == 1 {
			n.log.Warn("Notification queue full, dropping messages")
		}
	}
}

// Close stops accepting messages and waits until the queue is drained.
func (n *RunNotifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}

func (n *RunNotifier) Dropped() int64 { return n.dropped.Load() }

func (n *RunNotifier) OnStart(info backtest.StartInfo) {
	g := info.Grid
	n.enqueue(fmt.Sprintf("started %s grid %.2f-%.2f x%d, leverage %.1fx, %d candles",
		g.Mode, g.Lower, g.Upper, len(g.Levels), g.Sizing.Leverage, info.Candles))
}

func (n *RunNotifier) OnTrade(t ledger.Trade) {
	if t.Reason != ledger.ReasonLiquidation {
		return
	}
	n.enqueue(fmt.Sprintf("LIQUIDATION position #%d @ %.2f, pnl $%s",
		t.PositionID, t.Price, t.PnL.StringFixed(2)))
}

func (n *RunNotifier) OnSnapshot(s performance.EquitySnapshot) {
	if n.snapshotEvery <= 0 {
		return
	}
	n.snapshots++
	if n.snapshots%n.snapshotEvery != 0 {
		return
	}
	n.enqueue(fmt.Sprintf("equity $%.2f, drawdown %.2f%%, %d open (%s)",
		s.Equity, s.Drawdown*100, s.OpenPositions, s.Timestamp.Format("2006-01-02 15:04")))
}

func (n *RunNotifier) OnComplete(r backtest.Report) {
	status := "complete"
	if r.Interrupted {
		status = "interrupted"
	}
	n.enqueue(fmt.Sprintf("%s | %s", status, r.Summary()))
}

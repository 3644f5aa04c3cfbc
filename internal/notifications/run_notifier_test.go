package notifications

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-gridsim/internal/backtest"
	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/ledger"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/performance"
	"github.com/kjannette/trahn-gridsim/internal/testutil"
)

type inbox struct {
	mu   sync.Mutex
	msgs []string
	gate chan struct{}
}

func (b *inbox) Send(msg string) {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *inbox) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.msgs...)
}

func TestRunNotifier_OnlyLiquidationTradesAlert(t *testing.T) {
	box := &inbox{}
	n := NewRunNotifier(box, "run-1", 0, 8)

	n.OnTrade(ledger.Trade{PositionID: 1, Price: 100, PnL: decimal.NewFromInt(5), Reason: ledger.ReasonGridExit})
	n.OnTrade(ledger.Trade{PositionID: 2, Price: 81.2, PnL: decimal.NewFromInt(-100), Reason: ledger.ReasonLiquidation})
	n.OnSnapshot(performance.EquitySnapshot{Equity: 9000})
	n.Close()

	msgs := box.all()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d: %v", len(msgs), msgs)
	}
	if msgs[0] != "run-1: LIQUIDATION position #2 @ 81.20, pnl $-100.00" {
		t.Fatalf("unexpected message %q", msgs[0])
	}
}

func TestRunNotifier_SnapshotEvery(t *testing.T) {
	box := &inbox{}
	n := NewRunNotifier(box, "run", 3, 16)
	for i := 0; i < 7; i++ {
		n.OnSnapshot(performance.EquitySnapshot{Equity: 10000, Timestamp: testutil.T0})
	}
	n.Close()

	if got := len(box.all()); got != 2 {
		t.Fatalf("expected 2 progress messages for 7 snapshots, got %d", got)
	}
}

func TestRunNotifier_DropsWhenFull(t *testing.T) {
	box := &inbox{gate: make(chan struct{})}
	n := NewRunNotifier(box, "run", 0, 1)

	// The first message is picked up and blocks in Send, the second fills
	// the queue, the rest are dropped.
	for i := 0; i < 10; i++ {
		n.OnComplete(backtest.Report{})
	}
	if n.Dropped() < 8 {
		t.Fatalf("expected at least 8 dropped, got %d", n.Dropped())
	}

	close(box.gate)
	n.Close()
	if got := int64(len(box.all())) + n.Dropped(); got != 10 {
		t.Fatalf("delivered + dropped = %d, want 10", got)
	}
}

func TestRunNotifier_CloseIsIdempotent(t *testing.T) {
	n := NewRunNotifier(&inbox{}, "run", 0, 1)
	n.Close()
	n.Close()
	n.OnComplete(backtest.Report{})
	if n.Dropped() != 0 {
		t.Fatal("messages after Close are ignored, not dropped")
	}
}

func TestRunNotifier_AsSubscriber(t *testing.T) {
	box := &inbox{}
	n := NewRunNotifier(box, "walk", 0, 32)

	_, err := backtest.Simulate(context.Background(), config.DefaultSimulation(),
		testutil.RandomWalk(300, 100, 0.01, 3),
		backtest.WithLogger(logger.Discard()), backtest.WithSubscriber(n))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	n.Close()

	msgs := box.all()
	if len(msgs) < 2 {
		t.Fatalf("expected start and completion messages, got %v", msgs)
	}
	if !strings.HasPrefix(msgs[0], "walk: started long grid") {
		t.Fatalf("first message should announce the start, got %q", msgs[0])
	}
	if !strings.HasPrefix(msgs[len(msgs)-1], "walk: complete | return") {
		t.Fatalf("last message should be the summary, got %q", msgs[len(msgs)-1])
	}
}

// Package ledger owns positions, fills, fees, funding and the cash balance.
//
// Cash is kept in decimal so that the sum of trade PnL equals the change in
// balance exactly once every position is closed. Callers enforce risk limits
// before asking the ledger to fill; the ledger only executes and panics on
// arithmetic that would corrupt the book.
package ledger

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/market"
)

var ErrPositionNotFound = errors.New("position not found")

type Ledger struct {
	feeRate     decimal.Decimal
	fundingRate decimal.Decimal
	slippage    float64
	spread      float64
	failureRate float64
	rng         *rand.Rand

	initial     decimal.Decimal
	balance     decimal.Decimal
	positions   map[int64]*Position
	nextID      int64
	trades      []Trade
	tradingFees decimal.Decimal
	funding     decimal.Decimal
	failed      int
}

func New(cfg config.Simulation) *Ledger {
	initial := decimal.NewFromFloat(cfg.InitialBalance)
	return &Ledger{
		feeRate:     decimal.NewFromFloat(cfg.FeeRate),
		fundingRate: decimal.NewFromFloat(cfg.FundingRate),
		slippage:    cfg.SlippageRate,
		spread:      cfg.SpreadRate,
		failureRate: cfg.OrderFailureRate,
		rng:         rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		initial:     initial,
		balance:     initial,
		positions:   make(map[int64]*Position),
		nextID:      1,
	}
}

// LiquidationPrice is entry*(1-1/leverage) for longs and entry*(1+1/leverage)
// for shorts. A non-positive result means the position cannot be liquidated
// and is reported as 0.
func LiquidationPrice(side Side, entry, leverage float64) float64 {
	if side == Short {
		return entry * (1 + 1/leverage)
	}
	liq := entry * (1 - 1/leverage)
	if liq <= 0 {
		return 0
	}
	return liq
}

// TryFill fills order if c's range crosses its price. A failed simulated
// fill leaves the order pending for the caller to retry.
func (l *Ledger) TryFill(order Order, c market.Candle) (FillResult, *Trade, error) {
	if !c.Crosses(order.Price) {
		return NotFilled, nil, nil
	}
	if l.failureRate > 0 && l.rng.Float64() < l.failureRate {
		l.failed++
		return FillFailed, nil, nil
	}

	price := l.executionPrice(order.Price, order.Action())

	switch order.Kind {
	case Entry:
		_, t := l.OpenPosition(order.Side, price, order.Size, order.Leverage, order.Level, order.Generation, c.Timestamp)
		return Filled, &t, nil
	case Exit:
		t, err := l.ClosePosition(order.PositionID, price, ReasonGridExit, c.Timestamp)
		if err != nil {
			return NotFilled, nil, fmt.Errorf("fill exit order at level %d: %w", order.Level, err)
		}
		return Filled, &t, nil
	default:
		panic(fmt.Sprintf("ledger: unknown order kind %q", order.Kind))
	}
}

// executionPrice applies randomized slippage and a fixed spread against the
// taker: buys pay more, sells receive less.
func (l *Ledger) executionPrice(price float64, action Action) float64 {
	slip := price * l.slippage * (0.5 + l.rng.Float64())
	adj := slip + price*l.spread
	if action == ActionSell {
		return price - adj
	}
	return price + adj
}

// OpenPosition books a new position at price and debits the entry fee.
func (l *Ledger) OpenPosition(side Side, price, size, leverage float64, level, generation int, ts time.Time) (Position, Trade) {
	if !(price > 0) || !(size > 0) {
		panic(fmt.Sprintf("ledger: open %s with price %g size %g", side, price, size))
	}
	if leverage < 1 {
		panic(fmt.Sprintf("ledger: open %s with leverage %g", side, leverage))
	}

	liq := LiquidationPrice(side, price, leverage)
	checkLiquidationSide(side, price, liq)

	fee := notional(price, size).Mul(l.feeRate)
	pos := &Position{
		ID:               l.nextID,
		Side:             side,
		EntryPrice:       price,
		Size:             size,
		Leverage:         leverage,
		LiquidationPrice: liq,
		OpenedAt:         ts,
		EntryFee:         fee,
		Level:            level,
		Generation:       generation,
	}
	l.nextID++
	l.positions[pos.ID] = pos

	l.balance = l.balance.Sub(fee)
	l.tradingFees = l.tradingFees.Add(fee)

	action := ActionBuy
	if side == Short {
		action = ActionSell
	}
	t := l.appendTrade(Trade{
		PositionID: pos.ID,
		Side:       action,
		Price:      price,
		Size:       size,
		Fee:        fee,
		PnL:        decimal.Zero,
		Timestamp:  ts,
	})
	return *pos, t
}

// ClosePosition realizes the position at price. The trade's PnL is the
// gross move less entry fee, exit fee and accrued funding.
func (l *Ledger) ClosePosition(id int64, price float64, reason Reason, ts time.Time) (Trade, error) {
	pos, ok := l.positions[id]
	if !ok {
		return Trade{}, fmt.Errorf("close %d: %w", id, ErrPositionNotFound)
	}
	if !(price > 0) {
		panic(fmt.Sprintf("ledger: close position %d at price %g", id, price))
	}
	if reason == "" {
		panic(fmt.Sprintf("ledger: close position %d without a reason", id))
	}

	exitFee := notional(price, pos.Size).Mul(l.feeRate)
	gross := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(pos.EntryPrice)).
		Mul(decimal.NewFromFloat(pos.Size))
	if pos.Side == Short {
		gross = gross.Neg()
	}
	pnl := gross.Sub(pos.EntryFee).Sub(exitFee).Sub(pos.Funding)

	l.balance = l.balance.Add(gross).Sub(exitFee)
	l.tradingFees = l.tradingFees.Add(exitFee)
	delete(l.positions, id)

	action := ActionSell
	if pos.Side == Short {
		action = ActionBuy
	}
	return l.appendTrade(Trade{
		PositionID: id,
		Side:       action,
		Price:      price,
		Size:       pos.Size,
		Fee:        exitFee,
		PnL:        pnl,
		Reason:     reason,
		Timestamp:  ts,
	}), nil
}

// CloseAll closes every open position at price in id order.
func (l *Ledger) CloseAll(price float64, reason Reason, ts time.Time) []Trade {
	var out []Trade
	for _, p := range l.Open() {
		t, err := l.ClosePosition(p.ID, price, reason, ts)
		if err != nil {
			panic(fmt.Sprintf("ledger: close all: %v", err))
		}
		out = append(out, t)
	}
	return out
}

// AccrueFunding charges longs and pays shorts rate*size*mark per position
// and returns the net amount debited from the balance.
func (l *Ledger) AccrueFunding(mark float64) decimal.Decimal {
	total := decimal.Zero
	if l.fundingRate.IsZero() {
		return total
	}
	for _, id := range l.sortedIDs() {
		pos := l.positions[id]
		amt := l.fundingRate.Mul(notional(mark, pos.Size))
		if pos.Side == Short {
			amt = amt.Neg()
		}
		pos.Funding = pos.Funding.Add(amt)
		total = total.Add(amt)
	}
	l.balance = l.balance.Sub(total)
	l.funding = l.funding.Add(total)
	return total
}

// Adjust changes a position's leverage and recomputes its liquidation price.
func (l *Ledger) Adjust(id int64, leverage float64) (Position, error) {
	pos, ok := l.positions[id]
	if !ok {
		return Position{}, fmt.Errorf("adjust %d: %w", id, ErrPositionNotFound)
	}
	if leverage < 1 {
		panic(fmt.Sprintf("ledger: adjust position %d to leverage %g", id, leverage))
	}
	pos.Leverage = leverage
	pos.LiquidationPrice = LiquidationPrice(pos.Side, pos.EntryPrice, leverage)
	checkLiquidationSide(pos.Side, pos.EntryPrice, pos.LiquidationPrice)
	return *pos, nil
}

func (l *Ledger) appendTrade(t Trade) Trade {
	t.Seq = len(l.trades) + 1
	l.trades = append(l.trades, t)
	return t
}

func checkLiquidationSide(side Side, entry, liq float64) {
	if liq == 0 {
		return
	}
	if (side == Long && liq >= entry) || (side == Short && liq <= entry) {
		panic(fmt.Sprintf("ledger: %s liquidation price %g on wrong side of entry %g", side, liq, entry))
	}
}

func notional(price, size float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(size))
}

func (l *Ledger) sortedIDs() []int64 {
	ids := make([]int64, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --- accessors ---

func (l *Ledger) InitialBalance() decimal.Decimal { return l.initial }
func (l *Ledger) Balance() decimal.Decimal        { return l.balance }
func (l *Ledger) TradingFees() decimal.Decimal    { return l.tradingFees }
func (l *Ledger) FundingPaid() decimal.Decimal    { return l.funding }
func (l *Ledger) FailedFills() int                { return l.failed }
func (l *Ledger) OpenCount() int                  { return len(l.positions) }

// Open returns copies of the open positions sorted by id.
func (l *Ledger) Open() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, id := range l.sortedIDs() {
		out = append(out, *l.positions[id])
	}
	return out
}

func (l *Ledger) Position(id int64) (Position, bool) {
	p, ok := l.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Trades returns a copy of the trade log.
func (l *Ledger) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *Ledger) UnrealizedPnL(price float64) float64 {
	total := 0.0
	for _, id := range l.sortedIDs() {
		total += l.positions[id].UnrealizedPnL(price)
	}
	return total
}

func (l *Ledger) Exposure(price float64) float64 {
	total := 0.0
	for _, id := range l.sortedIDs() {
		total += l.positions[id].Notional(price)
	}
	return total
}

func (l *Ledger) CommittedMargin() float64 {
	total := 0.0
	for _, id := range l.sortedIDs() {
		total += l.positions[id].Margin()
	}
	return total
}

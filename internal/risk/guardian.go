package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/ledger"
)

var ErrTradeBlocked = errors.New("trade blocked")

// Limits holds the risk thresholds from the simulation config.
// A zero value for any field means that check is disabled.
type Limits struct {
	LiquidationBuffer float64
	StopLossPct       float64
	TakeProfitPct     float64
	ExposureCap       float64 // fraction of balance
	MaxOpenPositions  int
}

func LimitsFrom(cfg config.Simulation) Limits {
	return Limits{
		LiquidationBuffer: cfg.LiquidationBuffer,
		StopLossPct:       cfg.StopLossPct,
		TakeProfitPct:     cfg.TakeProfitPct,
		ExposureCap:       cfg.ExposureCap,
		MaxOpenPositions:  cfg.MaxOpenPositions,
	}
}

type Guardian struct {
	limits Limits
}

func NewGuardian(limits Limits) *Guardian {
	return &Guardian{limits: limits}
}

// Decision is the outcome of evaluating one open position. Reason is empty
// when the position should stay open.
type Decision struct {
	Reason   ledger.Reason
	Distance float64 // signed liquidation distance, +Inf when not liquidatable
}

func (d Decision) Close() bool { return d.Reason != "" }

// LiquidationDistance is (price-liq)/liq for longs and (liq-price)/liq for
// shorts. It goes negative once price has crossed the liquidation price.
// ok is false for positions that cannot be liquidated.
func LiquidationDistance(pos ledger.Position, price float64) (distance float64, ok bool) {
	liq := pos.LiquidationPrice
	if liq <= 0 {
		return 0, false
	}
	if pos.Side == ledger.Short {
		return (liq - price) / liq, true
	}
	return (price - liq) / liq, true
}

// Evaluate checks liquidation, then stop-loss, then take-profit.
func (g *Guardian) Evaluate(pos ledger.Position, price float64) Decision {
	d := Decision{Distance: math.Inf(1)}
	if dist, ok := LiquidationDistance(pos, price); ok {
		d.Distance = dist
		if g.limits.LiquidationBuffer > 0 && dist <= g.limits.LiquidationBuffer {
			d.Reason = ledger.ReasonLiquidation
			return d
		}
	}

	long := pos.Side == ledger.Long
	if sl := g.limits.StopLossPct; sl > 0 {
		if (long && price <= pos.EntryPrice*(1-sl)) || (!long && price >= pos.EntryPrice*(1+sl)) {
			d.Reason = ledger.ReasonStopLoss
			return d
		}
	}
	if tp := g.limits.TakeProfitPct; tp > 0 {
		if (long && price >= pos.EntryPrice*(1+tp)) || (!long && price <= pos.EntryPrice*(1-tp)) {
			d.Reason = ledger.ReasonTakeProfit
			return d
		}
	}
	return d
}

// PortfolioState is the book as seen by pre-trade checks.
type PortfolioState struct {
	Balance         float64
	Exposure        float64
	CommittedMargin float64
	OpenPositions   int
}

// PreTradeCheck validates a new fill of the given notional and margin.
// Returns nil if the fill is allowed, a descriptive error if blocked.
func (g *Guardian) PreTradeCheck(state PortfolioState, notional, margin float64) error {
	if g.limits.MaxOpenPositions > 0 && state.OpenPositions >= g.limits.MaxOpenPositions {
		return fmt.Errorf("%w: %d open positions reached limit of %d",
			ErrTradeBlocked, state.OpenPositions, g.limits.MaxOpenPositions)
	}

	if g.limits.ExposureCap > 0 {
		limit := g.limits.ExposureCap * state.Balance
		if state.Exposure+notional > limit {
			return fmt.Errorf("%w: exposure $%.2f + $%.2f exceeds cap $%.2f",
				ErrTradeBlocked, state.Exposure, notional, limit)
		}
	}

	if state.CommittedMargin+margin > state.Balance {
		return fmt.Errorf("%w: margin $%.2f + $%.2f exceeds balance $%.2f",
			ErrTradeBlocked, state.CommittedMargin, margin, state.Balance)
	}

	return nil
}

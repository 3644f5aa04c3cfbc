package performance

import (
	"math"
	"time"

	"github.com/kjannette/trahn-gridsim/internal/ledger"
)

const (
	year = 365 * 24 * time.Hour

	// MaxProfitFactor stands in for an infinite ratio when nothing lost.
	MaxProfitFactor = 100.0
)

// Metrics are fractions, not percentages: a TotalReturn of 0.05 is +5%.
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	ClosedPositions  int     `json:"closed_positions"`
	WinTrades        int     `json:"win_trades"`
	LossTrades       int     `json:"loss_trades"`
	GrossProfit      float64 `json:"gross_profit"`
	GrossLoss        float64 `json:"gross_loss"`
}

// Compute derives all metrics from a finished run.
func Compute(initial, final float64, trades []ledger.Trade, snapshots []EquitySnapshot, periodsPerYear float64) Metrics {
	m := Metrics{}
	if initial > 0 {
		m.TotalReturn = (final - initial) / initial
	}
	m.AnnualizedReturn = annualizedReturn(initial, final, snapshots)
	m.MaxDrawdown = MaxDrawdown(snapshots)
	m.SharpeRatio = SharpeRatio(snapshots, periodsPerYear)
	fillTradeMetrics(&m, trades)
	return m
}

func fillTradeMetrics(m *Metrics, trades []ledger.Trade) {
	for _, t := range trades {
		if !t.Closing() {
			continue
		}
		m.ClosedPositions++
		pnl := t.PnL.InexactFloat64()

		// a liquidation is a loss whatever its booked pnl
		if t.Reason == ledger.ReasonLiquidation {
			m.LossTrades++
			if pnl < 0 {
				m.GrossLoss += -pnl
			}
			continue
		}
		switch {
		case pnl > 0:
			m.WinTrades++
			m.GrossProfit += pnl
		case pnl < 0:
			m.LossTrades++
			m.GrossLoss += -pnl
		}
	}

	if m.ClosedPositions > 0 {
		m.WinRate = float64(m.WinTrades) / float64(m.ClosedPositions)
	}
	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = MaxProfitFactor
	}
}

func MaxDrawdown(snapshots []EquitySnapshot) float64 {
	if len(snapshots) == 0 {
		return 0
	}
	peak := snapshots[0].Equity
	maxDD := 0.0
	for _, s := range snapshots {
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - s.Equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// SharpeRatio is mean/sample-std of step returns between snapshots,
// annualized by sqrt(periodsPerYear). Risk-free rate is zero.
func SharpeRatio(snapshots []EquitySnapshot, periodsPerYear float64) float64 {
	returns := make([]float64, 0, len(snapshots))
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (snapshots[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std < 1e-10 {
		return 0
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 252
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

// PeriodsPerYear is the number of snapshot periods in a year for candles of
// the given interval sampled every snapshotInterval candles.
func PeriodsPerYear(candleInterval time.Duration, snapshotInterval int) float64 {
	if snapshotInterval < 1 {
		snapshotInterval = 1
	}
	period := candleInterval * time.Duration(snapshotInterval)
	if period <= 0 {
		return 252
	}
	return float64(year) / float64(period)
}

func annualizedReturn(initial, final float64, snapshots []EquitySnapshot) float64 {
	if initial <= 0 || len(snapshots) < 2 {
		return 0
	}
	elapsed := snapshots[len(snapshots)-1].Timestamp.Sub(snapshots[0].Timestamp)
	if elapsed <= 0 {
		return 0
	}
	growth := final / initial
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, float64(year)/float64(elapsed)) - 1
}

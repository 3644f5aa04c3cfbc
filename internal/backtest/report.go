package backtest

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/ledger"
	"github.com/kjannette/trahn-gridsim/internal/performance"
	"github.com/kjannette/trahn-gridsim/internal/strategy"
)

type State int32

const (
	Initializing State = iota
	Running
	Finalizing
	Done
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Report is derived once from the trade log and equity curve when a run
// finishes. Ratios are fractions; money fields are exact decimals.
type Report struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	SharpeRatio      float64 `json:"sharpe_ratio"`

	TotalTrades     int `json:"total_trades"`
	ClosedPositions int `json:"closed_positions"`
	WinTrades       int `json:"win_trades"`
	LiquidatedCount int `json:"liquidated_count"`
	StopLossCount   int `json:"stop_loss_count"`
	TakeProfitCount int `json:"take_profit_count"`
	GridExitCount   int `json:"grid_exit_count"`
	FailedFills     int `json:"failed_fills"`
	RejectedFills   int `json:"rejected_fills"`
	RegridCount     int `json:"regrid_count"`

	FeesPaid       decimal.Decimal `json:"fees_paid"`
	TradingFees    decimal.Decimal `json:"trading_fees"`
	FundingFees    decimal.Decimal `json:"funding_fees"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance"`

	Candles     int   `json:"candles"`
	Interrupted bool  `json:"interrupted"`
	State       State `json:"state"`
}

// Result is a finished run: the report plus the logs it was derived from.
type Result struct {
	Report    Report                       `json:"report"`
	Config    config.Simulation            `json:"config"`
	Trades    []ledger.Trade               `json:"trades"`
	Equity    []performance.EquitySnapshot `json:"equity"`
	FinalGrid strategy.Grid                `json:"final_grid"`
}

func buildReport(l *ledger.Ledger, trades []ledger.Trade, m performance.Metrics, counts counters, candles int, interrupted bool) Report {
	r := Report{
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		MaxDrawdown:      m.MaxDrawdown,
		WinRate:          m.WinRate,
		ProfitFactor:     m.ProfitFactor,
		SharpeRatio:      m.SharpeRatio,

		TotalTrades:     len(trades),
		ClosedPositions: m.ClosedPositions,
		WinTrades:       m.WinTrades,
		FailedFills:     l.FailedFills(),
		RejectedFills:   counts.rejected,
		RegridCount:     counts.regrids,

		TradingFees:    l.TradingFees(),
		FundingFees:    l.FundingPaid(),
		FeesPaid:       l.TradingFees().Add(l.FundingPaid()),
		InitialBalance: l.InitialBalance(),
		FinalBalance:   l.Balance(),

		Candles:     candles,
		Interrupted: interrupted,
		State:       Done,
	}
	for _, t := range trades {
		switch t.Reason {
		case ledger.ReasonLiquidation:
			r.LiquidatedCount++
		case ledger.ReasonStopLoss:
			r.StopLossCount++
		case ledger.ReasonTakeProfit:
			r.TakeProfitCount++
		case ledger.ReasonGridExit:
			r.GridExitCount++
		}
	}
	return r
}

// Summary is a one-line human rendering for logs and notifications.
func (r Report) Summary() string {
	return fmt.Sprintf("return %+.2f%% | drawdown %.2f%% | sharpe %.2f | win %.1f%% | trades %d | liquidations %d | final $%s",
		r.TotalReturn*100, r.MaxDrawdown*100, r.SharpeRatio, r.WinRate*100,
		r.TotalTrades, r.LiquidatedCount, r.FinalBalance.StringFixed(2))
}

func (s *State) UnmarshalText(b []byte) error {
	for _, candidate := range []State{Initializing, Running, Finalizing, Done} {
		if candidate.String() == string(b) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/kjannette/trahn-gridsim/internal/backtest"
)

var ErrUnknownScorer = errors.New("unknown scorer")

// Scorer ranks a finished run. Higher is better.
type Scorer struct {
	Name  string
	Score func(backtest.Report) float64
}

// minDrawdown floors the denominator of return_over_drawdown.
const minDrawdown = 0.01

var scorers = map[string]Scorer{
	"total_return":  {"total_return", func(r backtest.Report) float64 { return r.TotalReturn }},
	"sharpe_ratio":  {"sharpe_ratio", func(r backtest.Report) float64 { return r.SharpeRatio }},
	"profit_factor": {"profit_factor", func(r backtest.Report) float64 { return r.ProfitFactor }},
	"win_rate":      {"win_rate", func(r backtest.Report) float64 { return r.WinRate }},
	"return_over_drawdown": {"return_over_drawdown", func(r backtest.Report) float64 {
		return r.TotalReturn / math.Max(r.MaxDrawdown, minDrawdown)
	}},
}

const DefaultScorer = "total_return"

func ScorerByName(name string) (Scorer, error) {
	if name == "" {
		name = DefaultScorer
	}
	s, ok := scorers[name]
	if !ok {
		return Scorer{}, fmt.Errorf("%w %q (have %v)", ErrUnknownScorer, name, ScorerNames())
	}
	return s, nil
}

func ScorerNames() []string {
	names := make([]string, 0, len(scorers))
	for n := range scorers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

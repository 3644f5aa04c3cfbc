package strategy

import (
	"math"

	"github.com/kjannette/trahn-gridsim/internal/config"
)

type MarketState struct {
	Volatility float64
	Trend      Trend
	Balance    float64
	Mode       config.Mode
}

// Aligned reports whether the trend runs in the grid's direction.
func (s MarketState) Aligned() bool {
	return (s.Mode == config.ModeLong && s.Trend == TrendStrongUp) ||
		(s.Mode == config.ModeShort && s.Trend == TrendStrongDown)
}

// Opposed reports whether the trend runs against the grid's direction.
func (s MarketState) Opposed() bool {
	return (s.Mode == config.ModeLong && s.Trend == TrendStrongDown) ||
		(s.Mode == config.ModeShort && s.Trend == TrendStrongUp)
}

type Sizing struct {
	Leverage float64 `json:"leverage"`
	Margin   float64 `json:"margin"` // per level, quote currency
}

// Rule is a pure multiplier. Rules apply left to right.
type Rule struct {
	Name       string
	Multiplier func(MarketState) float64
}

func volatilityRule(name string, calm, wild float64) Rule {
	return Rule{Name: name, Multiplier: func(s MarketState) float64 {
		switch {
		case s.Volatility < 0.01:
			return calm
		case s.Volatility > 0.05:
			return wild
		}
		return 1
	}}
}

func trendRule(name string, aligned, opposed float64) Rule {
	return Rule{Name: name, Multiplier: func(s MarketState) float64 {
		switch {
		case s.Aligned():
			return aligned
		case s.Opposed():
			return opposed
		}
		return 1
	}}
}

func balanceRule(name string, scale, ceiling float64) Rule {
	return Rule{Name: name, Multiplier: func(s MarketState) float64 {
		return math.Min(ceiling, 1+s.Balance/scale)
	}}
}

func DefaultLeverageRules() []Rule {
	return []Rule{
		volatilityRule("volatility", 1.2, 0.7),
		trendRule("trend", 1.1, 0.9),
		balanceRule("balance", 100000, 1.5),
	}
}

func DefaultSizeRules() []Rule {
	return []Rule{
		volatilityRule("volatility", 1.3, 0.7),
		trendRule("trend", 1.2, 0.8),
		balanceRule("balance", 50000, 2),
	}
}

type Policy struct {
	BaseLeverage        float64
	MaxLeverage         float64
	LevelMargin         float64
	MaxPositionFraction float64
	LeverageRules       []Rule
	SizeRules           []Rule
}

// NewPolicy builds the policy for cfg. The leverage ceiling is the lower of
// max_leverage and the leverage at which a new position would already sit
// inside the liquidation buffer.
func NewPolicy(cfg config.Simulation) *Policy {
	p := &Policy{
		BaseLeverage:        cfg.Leverage,
		MaxLeverage:         math.Min(cfg.MaxLeverage, SafeLeverage(cfg.Mode, cfg.LiquidationBuffer)),
		LevelMargin:         cfg.InvestmentAmount / float64(cfg.GridCount),
		MaxPositionFraction: cfg.MaxPositionFraction,
	}
	if cfg.DynamicSizing {
		p.LeverageRules = DefaultLeverageRules()
		p.SizeRules = DefaultSizeRules()
	}
	return p
}

// SafeLeverage is 95% of the leverage at which the entry price lands exactly
// on the liquidation buffer.
func SafeLeverage(mode config.Mode, buffer float64) float64 {
	if !(buffer > 0) {
		return math.Inf(1)
	}
	edge := 1 + 1/buffer
	if mode == config.ModeShort {
		edge = 1/buffer - 1
	}
	return math.Max(1, 0.95*edge)
}

func (p *Policy) Decide(s MarketState) Sizing {
	lev := p.BaseLeverage
	for _, r := range p.LeverageRules {
		lev *= r.Multiplier(s)
	}
	lev = math.Min(math.Max(lev, 1), math.Max(p.MaxLeverage, 1))

	margin := p.LevelMargin
	for _, r := range p.SizeRules {
		margin *= r.Multiplier(s)
	}
	if p.MaxPositionFraction > 0 {
		margin = math.Min(margin, s.Balance*p.MaxPositionFraction)
	}

	return Sizing{Leverage: lev, Margin: margin}
}

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrInvalidConfig is the sentinel behind every ConfigurationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigurationError lists every problem found while validating a Simulation.
// It is fatal: a run never starts with an invalid configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v:\n  %s", ErrInvalidConfig, strings.Join(e.Problems, "\n  "))
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }

func configErr(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

type Mode string

const (
	ModeLong  Mode = "long"
	ModeShort Mode = "short"
)

// Bound is a grid bound: either a literal price or "auto".
type Bound struct {
	Auto  bool
	Value float64
}

func AutoBound() Bound           { return Bound{Auto: true} }
func FixedBound(v float64) Bound { return Bound{Value: v} }
func (b Bound) String() string {
	if b.Auto {
		return "auto"
	}
	return strconv.FormatFloat(b.Value, 'f', -1, 64)
}

func (b Bound) MarshalJSON() ([]byte, error) {
	if b.Auto {
		return []byte(`"auto"`), nil
	}
	return json.Marshal(b.Value)
}

func (b *Bound) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(s), "auto") {
			*b = AutoBound()
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("grid bound must be a number or \"auto\", got %q", s)
		}
		*b = FixedBound(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("grid bound must be a number or \"auto\": %w", err)
	}
	*b = FixedBound(v)
	return nil
}

// Simulation is the configuration of one backtest run. It is copied by value
// into the engine and never changes during a run.
type Simulation struct {
	InitialBalance    float64 `json:"initial_balance"`
	Leverage          float64 `json:"leverage"`
	MaxLeverage       float64 `json:"max_leverage"`
	GridLower         Bound   `json:"grid_lower_price"`
	GridUpper         Bound   `json:"grid_upper_price"`
	GridCount         int     `json:"grid_count"`
	InvestmentAmount  float64 `json:"investment_amount"`
	Mode              Mode    `json:"mode"`
	FeeRate           float64 `json:"fee_rate"`
	FundingRate       float64 `json:"funding_rate"`
	FundingInterval   int     `json:"funding_interval"` // candles
	LiquidationBuffer float64 `json:"liquidation_buffer"`
	StopLossPct       float64 `json:"stop_loss_pct"`
	TakeProfitPct     float64 `json:"take_profit_pct"`

	// Execution model
	SlippageRate     float64 `json:"slippage_rate"`
	SpreadRate       float64 `json:"spread_rate"`
	OrderFailureRate float64 `json:"order_failure_rate"`
	Seed             uint64  `json:"seed"`

	// Portfolio limits (0 disables)
	MaxOpenPositions    int     `json:"max_open_positions"`
	ExposureCap         float64 `json:"exposure_cap"`
	MaxPositionFraction float64 `json:"max_position_fraction"`

	// Signals and adaptation
	VolatilityLookback     int     `json:"volatility_lookback"`
	TrendStrengthThreshold float64 `json:"trend_strength_threshold"`
	AutoRangeK             float64 `json:"auto_range_k"`
	AdaptiveGrid           bool    `json:"adaptive_grid"`
	RegridThreshold        float64 `json:"regrid_threshold"`
	DynamicSizing          bool    `json:"dynamic_sizing"`

	SnapshotInterval int `json:"snapshot_interval"` // candles
}

// DefaultSimulation is a conservative 3x futures grid on $10k.
func DefaultSimulation() Simulation {
	return Simulation{
		InitialBalance:    10000,
		Leverage:          3,
		MaxLeverage:       10,
		GridLower:         AutoBound(),
		GridUpper:         AutoBound(),
		GridCount:         20,
		InvestmentAmount:  1000,
		Mode:              ModeLong,
		FeeRate:           0.0004,
		FundingRate:       0.0001,
		FundingInterval:   480,
		LiquidationBuffer: 0.1,
		StopLossPct:       0.05,
		TakeProfitPct:     0.10,

		SlippageRate:     0.001,
		SpreadRate:       0.002,
		OrderFailureRate: 0.05,
		Seed:             42,

		MaxOpenPositions:    15,
		ExposureCap:         0.8,
		MaxPositionFraction: 0.05,

		VolatilityLookback:     24,
		TrendStrengthThreshold: 0.6,
		AutoRangeK:             5,
		AdaptiveGrid:           false,
		RegridThreshold:        0.5,
		DynamicSizing:          true,

		SnapshotInterval: 60,
	}
}

// Validate returns a *ConfigurationError describing every invalid field, or nil.
func (s Simulation) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !(s.InitialBalance > 0) {
		add("initial_balance must be positive")
	}
	if !(s.Leverage >= 1) {
		add("leverage must be at least 1 (got %g)", s.Leverage)
	}
	if s.MaxLeverage < s.Leverage {
		add("max_leverage (%g) must be >= leverage (%g)", s.MaxLeverage, s.Leverage)
	}
	if s.GridCount < 2 {
		add("grid_count must be at least 2 (got %d)", s.GridCount)
	}
	if !(s.InvestmentAmount > 0) {
		add("investment_amount must be positive")
	} else if s.InvestmentAmount > s.InitialBalance {
		add("investment_amount (%g) exceeds initial_balance (%g)", s.InvestmentAmount, s.InitialBalance)
	}
	if s.Mode != ModeLong && s.Mode != ModeShort {
		add("mode must be %q or %q (got %q)", ModeLong, ModeShort, s.Mode)
	}
	if s.FeeRate < 0 || s.FeeRate >= 0.1 {
		add("fee_rate must be in [0, 0.1)")
	}
	if math.Abs(s.FundingRate) >= 0.1 {
		add("funding_rate must be in (-0.1, 0.1)")
	}
	if s.FundingInterval < 1 {
		add("funding_interval must be at least 1 candle")
	}
	if !(s.LiquidationBuffer > 0 && s.LiquidationBuffer < 1) {
		add("liquidation_buffer must be in (0, 1)")
	}
	if s.StopLossPct < 0 || s.StopLossPct >= 1 {
		add("stop_loss_pct must be in [0, 1)")
	}
	if s.TakeProfitPct < 0 {
		add("take_profit_pct must not be negative")
	}

	if !s.GridLower.Auto && !(s.GridLower.Value > 0) {
		add("grid_lower_price must be positive or \"auto\"")
	}
	if !s.GridUpper.Auto && !(s.GridUpper.Value > 0) {
		add("grid_upper_price must be positive or \"auto\"")
	}
	if !s.GridLower.Auto && !s.GridUpper.Auto && s.GridLower.Value >= s.GridUpper.Value {
		add("grid_lower_price (%g) must be below grid_upper_price (%g)", s.GridLower.Value, s.GridUpper.Value)
	}

	if s.SlippageRate < 0 || s.SlippageRate >= 0.1 {
		add("slippage_rate must be in [0, 0.1)")
	}
	if s.SpreadRate < 0 || s.SpreadRate >= 0.1 {
		add("spread_rate must be in [0, 0.1)")
	}
	if s.OrderFailureRate < 0 || s.OrderFailureRate >= 1 {
		add("order_failure_rate must be in [0, 1)")
	}
	if s.MaxOpenPositions < 0 {
		add("max_open_positions must not be negative")
	}
	if s.ExposureCap < 0 {
		add("exposure_cap must not be negative")
	}
	if s.MaxPositionFraction < 0 || s.MaxPositionFraction > 1 {
		add("max_position_fraction must be in [0, 1]")
	}
	if s.VolatilityLookback < 2 {
		add("volatility_lookback must be at least 2")
	}
	if s.TrendStrengthThreshold < 0 || s.TrendStrengthThreshold > 1 {
		add("trend_strength_threshold must be in [0, 1]")
	}
	if !(s.AutoRangeK > 0) {
		add("auto_range_k must be positive")
	}
	if s.AdaptiveGrid && !(s.RegridThreshold > 0) {
		add("regrid_threshold must be positive when adaptive_grid is on")
	}
	if s.SnapshotInterval < 1 {
		add("snapshot_interval must be at least 1 candle")
	}

	// A position must open outside its own liquidation zone.
	if s.MaxLeverage >= 1 && s.LiquidationBuffer > 0 &&
		(1-1/s.MaxLeverage)*(1+s.LiquidationBuffer) >= 1 {
		add("max_leverage %g with liquidation_buffer %g would liquidate positions at entry",
			s.MaxLeverage, s.LiquidationBuffer)
	}

	if len(errs) > 0 {
		return &ConfigurationError{Problems: errs}
	}
	return nil
}

// With overlays named overrides onto a copy of s. Names are the JSON field
// names; unknown names are a configuration error.
func (s Simulation) With(overrides map[string]any) (Simulation, error) {
	if len(overrides) == 0 {
		return s, nil
	}

	base, err := json.Marshal(s)
	if err != nil {
		return s, fmt.Errorf("marshal simulation: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return s, fmt.Errorf("unmarshal simulation: %w", err)
	}

	for name, v := range overrides {
		if _, ok := fields[name]; !ok {
			return s, configErr("unknown parameter %q", name)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return s, configErr("parameter %q: %v", name, err)
		}
		fields[name] = raw
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return s, fmt.Errorf("marshal overrides: %w", err)
	}
	var out Simulation
	if err := json.Unmarshal(merged, &out); err != nil {
		return s, configErr("apply overrides: %v", err)
	}
	return out, nil
}

// LoadSimulation reads a JSON file over DefaultSimulation and validates the result.
// An empty path returns the defaults.
func LoadSimulation(path string) (Simulation, error) {
	sim := DefaultSimulation()
	if path == "" {
		return sim, sim.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sim, fmt.Errorf("read simulation config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sim); err != nil {
		return sim, configErr("parse %s: %v", path, err)
	}
	return sim, sim.Validate()
}

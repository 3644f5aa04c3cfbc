package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kjannette/trahn-gridsim/internal/config"
)

const (
	minAutoHalfWidth = 0.025
	maxAutoHalfWidth = 0.10
)

var ErrInvalidRange = errors.New("invalid grid range")

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type GridLevel struct {
	Index int     `json:"index"`
	Price float64 `json:"price"`
	Side  Side    `json:"side"`
	Size  float64 `json:"size"` // base quantity
}

// Grid is immutable once planned. A re-grid produces a new Grid with a
// higher Generation.
type Grid struct {
	Lower      float64     `json:"lower"`
	Upper      float64     `json:"upper"`
	Spacing    float64     `json:"spacing"`
	Levels     []GridLevel `json:"levels"`
	Volatility float64     `json:"volatility"`
	Sizing     Sizing      `json:"sizing"`
	Generation int         `json:"generation"`
	Mode       config.Mode `json:"mode"`
}

func (g Grid) Contains(price float64) bool {
	return price >= g.Lower && price <= g.Upper
}

// IsEntry reports whether level i can open a position. The top level has no
// exit above it in long mode, the bottom level none below it in short mode.
func (g Grid) IsEntry(i int) bool {
	if i < 0 || i >= len(g.Levels) {
		return false
	}
	if g.Mode == config.ModeShort {
		return i > 0
	}
	return i < len(g.Levels)-1
}

// ExitIndex returns the level that closes a position opened at level i.
func (g Grid) ExitIndex(i int) (int, bool) {
	if !g.IsEntry(i) {
		return 0, false
	}
	if g.Mode == config.ModeShort {
		return i - 1, true
	}
	return i + 1, true
}

// Arms reports whether the entry at level i should rest on the book with
// price at the given level: below price for longs, above it for shorts.
func (g Grid) Arms(i int, price float64) bool {
	if !g.IsEntry(i) {
		return false
	}
	if g.Mode == config.ModeShort {
		return g.Levels[i].Price > price
	}
	return g.Levels[i].Price < price
}

type Planner struct {
	lower config.Bound
	upper config.Bound
	count int
	k     float64
	mode  config.Mode

	generation int
}

func NewPlanner(cfg config.Simulation) *Planner {
	return &Planner{
		lower: cfg.GridLower,
		upper: cfg.GridUpper,
		count: cfg.GridCount,
		k:     cfg.AutoRangeK,
		mode:  cfg.Mode,
	}
}

// Bounds resolves the configured bounds around price.
func (p *Planner) Bounds(price, volatility float64) (lower, upper float64) {
	half := math.Min(math.Max(p.k*volatility, minAutoHalfWidth), maxAutoHalfWidth)

	lower = p.lower.Value
	if p.lower.Auto {
		lower = price * (1 - half)
	}
	upper = p.upper.Value
	if p.upper.Auto {
		upper = price * (1 + half)
	}
	return lower, upper
}

// Plan lays out exactly count levels from lower to upper inclusive. Each
// successful call consumes one generation.
func (p *Planner) Plan(price, volatility float64, sizing Sizing) (Grid, error) {
	if !(price > 0) {
		return Grid{}, fmt.Errorf("%w: price must be positive (got %g)", ErrInvalidRange, price)
	}
	if p.count < 2 {
		return Grid{}, fmt.Errorf("%w: grid count must be at least 2 (got %d)", ErrInvalidRange, p.count)
	}
	if !(sizing.Margin > 0) || sizing.Leverage < 1 {
		return Grid{}, fmt.Errorf("invalid sizing: margin %g leverage %g", sizing.Margin, sizing.Leverage)
	}

	lower, upper := p.Bounds(price, volatility)
	if !(lower > 0) || lower >= upper {
		return Grid{}, fmt.Errorf("%w: lower %.4f upper %.4f", ErrInvalidRange, lower, upper)
	}

	spacing := (upper - lower) / float64(p.count-1)
	levels := make([]GridLevel, p.count)
	for i := range levels {
		lp := lower + float64(i)*spacing
		if i == p.count-1 {
			lp = upper
		}
		side := Sell
		if lp < price {
			side = Buy
		}
		levels[i] = GridLevel{
			Index: i,
			Price: lp,
			Side:  side,
			Size:  sizing.Margin * sizing.Leverage / lp,
		}
	}

	g := Grid{
		Lower:      lower,
		Upper:      upper,
		Spacing:    spacing,
		Levels:     levels,
		Volatility: volatility,
		Sizing:     sizing,
		Generation: p.generation,
		Mode:       p.mode,
	}
	p.generation++
	return g, nil
}

// Format renders the grid top-down for logs.
func Format(g Grid, price float64) string {
	if len(g.Levels) == 0 {
		return "No grid levels initialized."
	}

	var b strings.Builder
	b.WriteString("┌──────────────────────────────────────────────┐\n")
	fmt.Fprintf(&b, "│  GRID gen %-3d %-5s  lev %5.2fx  margin %8.2f │\n",
		g.Generation, g.Mode, g.Sizing.Leverage, g.Sizing.Margin)
	b.WriteString("├──────────────────────────────────────────────┤\n")

	for i := len(g.Levels) - 1; i >= 0; i-- {
		l := g.Levels[i]
		marker := "   "
		if g.IsEntry(i) {
			marker = "[E]"
		}
		side := "BUY "
		if l.Side == Sell {
			side = "SELL"
		}
		fmt.Fprintf(&b, "│ %s %s @ %12.4f │ %14.6f │\n", marker, side, l.Price, l.Size)
	}

	b.WriteString("├──────────────────────────────────────────────┤\n")
	fmt.Fprintf(&b, "│  Price: %10.4f  │  Spacing: %10.4f    │\n", price, g.Spacing)
	b.WriteString("└──────────────────────────────────────────────┘")
	return b.String()
}

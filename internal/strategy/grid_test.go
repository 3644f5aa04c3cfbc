package strategy

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kjannette/trahn-gridsim/internal/config"
)

func testPlanner(mutate func(*config.Simulation)) *Planner {
	cfg := config.DefaultSimulation()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewPlanner(cfg)
}

var unitSizing = Sizing{Leverage: 2, Margin: 50}

func TestPlan_FixedBounds(t *testing.T) {
	p := testPlanner(func(c *config.Simulation) {
		c.GridLower = config.FixedBound(90)
		c.GridUpper = config.FixedBound(110)
		c.GridCount = 5
	})

	g, err := p.Plan(100, 0.02, unitSizing)
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{90, 95, 100, 105, 110}
	if len(g.Levels) != len(want) {
		t.Fatalf("expected %d levels, got %d", len(want), len(g.Levels))
	}
	for i, l := range g.Levels {
		if math.Abs(l.Price-want[i]) > 1e-9 {
			t.Fatalf("level %d: expected %.2f, got %.6f", i, want[i], l.Price)
		}
		if l.Index != i {
			t.Fatalf("index mismatch at %d: got %d", i, l.Index)
		}
	}
	if g.Spacing != 5 {
		t.Fatalf("expected spacing 5, got %f", g.Spacing)
	}

	// Below price is buy, at or above is sell
	if g.Levels[1].Side != Buy || g.Levels[2].Side != Sell || g.Levels[4].Side != Sell {
		t.Fatalf("unexpected sides: %+v", g.Levels)
	}

	// Size is margin * leverage / price
	if math.Abs(g.Levels[0].Size-100.0/90) > 1e-12 {
		t.Fatalf("expected size %.6f at 90, got %.6f", 100.0/90, g.Levels[0].Size)
	}
}

func TestPlan_AutoBoundsClamp(t *testing.T) {
	p := testPlanner(nil)

	cases := []struct {
		name      string
		vol       float64
		wantLower float64
		wantUpper float64
	}{
		{"flat series uses minimum width", 0, 97.5, 102.5},
		{"k times vol inside clamp", 0.01, 95, 105},
		{"wild market capped", 0.5, 90, 110},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := p.Plan(100, tc.vol, unitSizing)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(g.Lower-tc.wantLower) > 1e-9 || math.Abs(g.Upper-tc.wantUpper) > 1e-9 {
				t.Fatalf("expected [%.2f, %.2f], got [%.4f, %.4f]", tc.wantLower, tc.wantUpper, g.Lower, g.Upper)
			}
		})
	}
}

func TestPlan_LevelCountProperty(t *testing.T) {
	for count := 2; count <= 40; count++ {
		for _, vol := range []float64{0, 0.003, 0.02, 0.2} {
			p := testPlanner(func(c *config.Simulation) { c.GridCount = count })
			g, err := p.Plan(2500, vol, unitSizing)
			if err != nil {
				t.Fatal(err)
			}
			if len(g.Levels) != count {
				t.Fatalf("count %d: got %d levels", count, len(g.Levels))
			}
			if !(g.Lower < g.Upper) {
				t.Fatalf("count %d vol %g: lower %.4f not below upper %.4f", count, vol, g.Lower, g.Upper)
			}
			if g.Levels[0].Price != g.Lower || g.Levels[count-1].Price != g.Upper {
				t.Fatalf("levels must include both bounds")
			}
		}
	}
}

func TestPlan_Errors(t *testing.T) {
	p := testPlanner(func(c *config.Simulation) {
		c.GridUpper = config.FixedBound(50)
	})
	if _, err := p.Plan(100, 0.02, unitSizing); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for auto lower above fixed upper, got %v", err)
	}

	p = testPlanner(nil)
	if _, err := p.Plan(0, 0.02, unitSizing); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for zero price, got %v", err)
	}
	if _, err := p.Plan(100, 0.02, Sizing{Leverage: 2}); err == nil {
		t.Fatal("expected error for zero margin")
	}
}

func TestPlan_GenerationIncrements(t *testing.T) {
	p := testPlanner(nil)
	for want := 0; want < 3; want++ {
		g, err := p.Plan(100, 0.02, unitSizing)
		if err != nil {
			t.Fatal(err)
		}
		if g.Generation != want {
			t.Fatalf("expected generation %d, got %d", want, g.Generation)
		}
	}
}

func TestGridPairing(t *testing.T) {
	long, _ := testPlanner(func(c *config.Simulation) { c.GridCount = 4 }).Plan(100, 0.02, unitSizing)
	short, _ := testPlanner(func(c *config.Simulation) {
		c.GridCount = 4
		c.Mode = config.ModeShort
	}).Plan(100, 0.02, unitSizing)

	if exit, ok := long.ExitIndex(0); !ok || exit != 1 {
		t.Fatalf("long level 0 should exit at 1, got %d %v", exit, ok)
	}
	if _, ok := long.ExitIndex(3); ok {
		t.Fatal("long top level has no exit")
	}
	if exit, ok := short.ExitIndex(3); !ok || exit != 2 {
		t.Fatalf("short level 3 should exit at 2, got %d %v", exit, ok)
	}
	if _, ok := short.ExitIndex(0); ok {
		t.Fatal("short bottom level has no exit")
	}
}

func TestGridArms(t *testing.T) {
	long, _ := testPlanner(func(c *config.Simulation) { c.GridCount = 5 }).Plan(100, 0.02, unitSizing)
	// levels 90, 95, 100, 105, 110
	armed := 0
	for i := range long.Levels {
		if long.Arms(i, 100) {
			armed++
			if long.Levels[i].Price >= 100 {
				t.Fatalf("long entry armed above price at %.2f", long.Levels[i].Price)
			}
		}
	}
	if armed != 2 {
		t.Fatalf("expected 2 armed long entries, got %d", armed)
	}

	short, _ := testPlanner(func(c *config.Simulation) {
		c.GridCount = 5
		c.Mode = config.ModeShort
	}).Plan(100, 0.02, unitSizing)
	armed = 0
	for i := range short.Levels {
		if short.Arms(i, 100) {
			armed++
		}
	}
	if armed != 2 {
		t.Fatalf("expected 2 armed short entries, got %d", armed)
	}
}

func TestFormat(t *testing.T) {
	g, _ := testPlanner(func(c *config.Simulation) { c.GridCount = 3 }).Plan(100, 0.02, unitSizing)
	out := Format(g, 100)
	if strings.Count(out, " @ ") != 3 {
		t.Fatalf("expected 3 level rows, got:\n%s", out)
	}
	if !strings.Contains(out, "GRID gen 0") {
		t.Fatalf("missing header:\n%s", out)
	}
	if Format(Grid{}, 100) != "No grid levels initialized." {
		t.Fatal("empty grid should render placeholder")
	}
}

package strategy

import (
	"math"
	"testing"
)

func TestShouldRegrid(t *testing.T) {
	g := Grid{Lower: 90, Upper: 110, Volatility: 0.02}

	cases := []struct {
		name    string
		price   float64
		vol     float64
		want    bool
		reasons int
	}{
		{"stable", 100, 0.021, false, 0},
		{"volatility drift", 100, 0.04, true, 1},
		{"price below range", 89, 0.02, true, 1},
		{"price above range and drift", 111, 0.005, true, 2},
		{"price on bound is inside", 110, 0.02, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reasons := ShouldRegrid(g, tc.price, tc.vol, 0.5)
			if got != tc.want || len(reasons) != tc.reasons {
				t.Fatalf("expected (%v, %d reasons), got (%v, %v)", tc.want, tc.reasons, got, reasons)
			}
		})
	}
}

func TestVolatilityDrift(t *testing.T) {
	if d := VolatilityDrift(0.02, 0.03); math.Abs(d-0.5) > 1e-12 {
		t.Fatalf("expected 0.5, got %f", d)
	}
	if d := VolatilityDrift(0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
	if d := VolatilityDrift(0, 0.01); !math.IsInf(d, 1) {
		t.Fatalf("expected +Inf, got %f", d)
	}
}

func TestJoinReasons(t *testing.T) {
	if JoinReasons(nil) != "none" {
		t.Fatal("expected none")
	}
	if got := JoinReasons([]string{"a", "b"}); got != "a, b" {
		t.Fatalf("got %q", got)
	}
}

package strategy

import (
	"fmt"
	"math"
	"strings"
)

// ShouldRegrid reports whether g no longer fits the market and the reasons
// why. Volatility drift is measured relative to the volatility g was planned
// with.
func ShouldRegrid(g Grid, price, volatility, threshold float64) (bool, []string) {
	var reasons []string

	if drift := VolatilityDrift(g.Volatility, volatility); drift > threshold {
		reasons = append(reasons, fmt.Sprintf("volatility drifted %.1f%% (%.4f -> %.4f)",
			drift*100, g.Volatility, volatility))
	}

	if !g.Contains(price) {
		reasons = append(reasons, fmt.Sprintf("price %.4f outside grid range (%.4f - %.4f)",
			price, g.Lower, g.Upper))
	}

	return len(reasons) > 0, reasons
}

// VolatilityDrift is |current - planned| / planned. Any movement away from a
// zero planned volatility counts as unbounded drift.
func VolatilityDrift(planned, current float64) float64 {
	if planned == 0 {
		if current == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(current-planned) / planned
}

func JoinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "none"
	}
	return strings.Join(reasons, ", ")
}

package optimizer

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Best   float64 `json:"best"`
	Worst  float64 `json:"worst"`
}

// Summarize describes a set of scores. StdDev is the sample deviation.
func Summarize(scores []float64) Summary {
	s := Summary{Count: len(scores)}
	if len(scores) == 0 {
		return s
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	s.Worst = sorted[0]
	s.Best = sorted[len(sorted)-1]

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		s.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		s.Median = sorted[mid]
	}

	for _, v := range scores {
		s.Mean += v
	}
	s.Mean /= float64(len(scores))

	if len(scores) > 1 {
		variance := 0.0
		for _, v := range scores {
			variance += (v - s.Mean) * (v - s.Mean)
		}
		s.StdDev = math.Sqrt(variance / float64(len(scores)-1))
	}
	return s
}

// FormatTop renders a ranking table for the terminal.
func FormatTop(runs []Run, scorer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-6s %12s %10s %10s %8s %8s %7s  %s\n",
		"#", "run", scorer, "return%", "maxDD%", "sharpe", "win%", "trades", "params")
	for i, r := range runs {
		if r.Report == nil {
			continue
		}
		rep := r.Report
		fmt.Fprintf(&b, "%-4d %-6d %12.4f %10.2f %10.2f %8.2f %8.1f %7d  %s\n",
			i+1, r.Index, r.Score, rep.TotalReturn*100, rep.MaxDrawdown*100,
			rep.SharpeRatio, rep.WinRate*100, rep.TotalTrades, formatParams(r.Params))
	}
	return b.String()
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d mean=%.4f median=%.4f std=%.4f best=%.4f worst=%.4f",
		s.Count, s.Mean, s.Median, s.StdDev, s.Best, s.Worst)
}

func formatParams(p map[string]any) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return strings.Join(parts, " ")
}

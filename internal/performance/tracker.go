package performance

import "time"

type EquitySnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Balance       float64   `json:"balance"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Equity        float64   `json:"equity"`
	OpenPositions int       `json:"open_positions"`
	Drawdown      float64   `json:"drawdown"` // fraction below the running peak
}

// Tracker accumulates the equity curve, one point per timestamp.
type Tracker struct {
	peak      float64
	prevPeak  float64 // peak before the last point
	snapshots []EquitySnapshot
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Record appends a point. A point at the timestamp of the last one replaces
// it, so the curve never holds a zero-length step.
func (t *Tracker) Record(ts time.Time, balance, unrealized float64, open int) EquitySnapshot {
	if n := len(t.snapshots); n > 0 && t.snapshots[n-1].Timestamp.Equal(ts) {
		t.snapshots = t.snapshots[:n-1]
		t.peak = t.prevPeak
	}

	equity := balance + unrealized
	t.prevPeak = t.peak
	if len(t.snapshots) == 0 || equity > t.peak {
		t.peak = equity
	}
	dd := 0.0
	if t.peak > 0 {
		dd = (t.peak - equity) / t.peak
	}
	s := EquitySnapshot{
		Timestamp:     ts,
		Balance:       balance,
		UnrealizedPnL: unrealized,
		Equity:        equity,
		OpenPositions: open,
		Drawdown:      dd,
	}
	t.snapshots = append(t.snapshots, s)
	return s
}

// Snapshots returns a copy of the curve.
func (t *Tracker) Snapshots() []EquitySnapshot {
	out := make([]EquitySnapshot, len(t.snapshots))
	copy(out, t.snapshots)
	return out
}

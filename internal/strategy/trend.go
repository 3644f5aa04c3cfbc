package strategy

import "github.com/kjannette/trahn-gridsim/internal/indicator"

type Trend string

const (
	TrendStrongUp   Trend = "strong_up"
	TrendStrongDown Trend = "strong_down"
	TrendNeutral    Trend = "neutral"
)

// ClassifyTrend gates on ADX strength, then takes a two-of-three vote between
// RSI against 50, MACD against its signal line, and the Bollinger position.
func ClassifyTrend(v indicator.Values, price, threshold float64) Trend {
	if !v.Ready || v.ADX/100 < threshold {
		return TrendNeutral
	}

	up, down := 0, 0
	switch {
	case v.RSI > 50:
		up++
	case v.RSI < 50:
		down++
	}
	switch {
	case v.MACD > v.MACDSignal:
		up++
	case v.MACD < v.MACDSignal:
		down++
	}
	switch pos := v.BandPosition(price); {
	case pos > 0.7:
		up++
	case pos < 0.3:
		down++
	}

	switch {
	case up >= 2:
		return TrendStrongUp
	case down >= 2:
		return TrendStrongDown
	default:
		return TrendNeutral
	}
}

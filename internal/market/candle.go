package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptySeries   = errors.New("price series is empty")
	ErrUnordered     = errors.New("candle timestamps must be strictly increasing")
	ErrInvalidCandle = errors.New("invalid candle")
)

// Candle is one OHLCV record. A slice of candles ordered by Timestamp is the
// simulation timeline and is never mutated once loaded.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Crosses reports whether the candle's traded range touched price.
func (c Candle) Crosses(price float64) bool {
	return c.Low <= price && price <= c.High
}

// Validate checks ordering and OHLC sanity for a whole series.
func Validate(candles []Candle) error {
	if len(candles) == 0 {
		return ErrEmptySeries
	}
	for i, c := range candles {
		if c.Low <= 0 || c.Open <= 0 || c.Close <= 0 || c.High <= 0 {
			return fmt.Errorf("%w at %d: non-positive price", ErrInvalidCandle, i)
		}
		if c.High < c.Low || c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
			return fmt.Errorf("%w at %d: open/close outside [low, high]", ErrInvalidCandle, i)
		}
		if i > 0 && !c.Timestamp.After(candles[i-1].Timestamp) {
			return fmt.Errorf("%w: index %d (%s) after %s", ErrUnordered, i,
				c.Timestamp.Format(time.RFC3339), candles[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Interval returns the candle granularity, taken as the smallest gap between
// consecutive timestamps. Gaps in the data therefore never inflate it.
func Interval(candles []Candle) time.Duration {
	var step time.Duration
	for i := 1; i < len(candles); i++ {
		d := candles[i].Timestamp.Sub(candles[i-1].Timestamp)
		if d > 0 && (step == 0 || d < step) {
			step = d
		}
	}
	return step
}

// Closes extracts the close prices.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

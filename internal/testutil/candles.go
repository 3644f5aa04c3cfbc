package testutil

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/kjannette/trahn-gridsim/internal/indicator"
	"github.com/kjannette/trahn-gridsim/internal/market"
)

// T0 is the timestamp of the first candle every builder produces.
var T0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Bar builds one candle. Timestamps are assigned by Join.
func Bar(open, high, low, close float64) market.Candle {
	return market.Candle{Open: open, High: high, Low: low, Close: close, Volume: 1}
}

// Flat returns n candles with every price equal to price.
func Flat(n int, price float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = Bar(price, price, price, price)
	}
	return Stamp(out)
}

// Warmup is a flat series exactly as long as the default indicator lookback.
func Warmup(price float64) []market.Candle {
	return Flat(indicator.Lookback(indicator.DefaultParams()), price)
}

// Path walks through closes; each candle opens at the previous close and
// spans both.
func Path(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		out[i] = Bar(prev, math.Max(prev, c), math.Min(prev, c), c)
		prev = c
	}
	return Stamp(out)
}

// RandomWalk is a seeded walk with multiplicative steps of up to +-stepPct.
func RandomWalk(n int, start, stepPct float64, seed uint64) []market.Candle {
	r := rand.New(rand.NewPCG(seed, seed))
	out := make([]market.Candle, n)
	price := start
	for i := range out {
		next := price * (1 + (r.Float64()*2-1)*stepPct)
		wick := price * stepPct * r.Float64() / 2
		out[i] = Bar(price, math.Max(price, next)+wick, math.Min(price, next)-wick, next)
		price = next
	}
	return Stamp(out)
}

// Join concatenates parts and restamps them one minute apart from T0.
func Join(parts ...[]market.Candle) []market.Candle {
	var out []market.Candle
	for _, p := range parts {
		out = append(out, p...)
	}
	return Stamp(out)
}

// Stamp assigns one-minute timestamps from T0 in place and returns candles.
func Stamp(candles []market.Candle) []market.Candle {
	for i := range candles {
		candles[i].Timestamp = T0.Add(time.Duration(i) * time.Minute)
	}
	return candles
}

package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-gridsim/internal/market"
)

func candlesFromCloses(closes ...float64) []market.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestLookbackDefaults(t *testing.T) {
	assert.Equal(t, 34, Lookback(DefaultParams()))
}

func TestComputeInsufficientData(t *testing.T) {
	window := candlesFromCloses(ramp(33, 100, 1)...)
	_, err := Compute(window, DefaultParams())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	var ide *InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 34, ide.Need)
	assert.Equal(t, 33, ide.Have)
}

func TestComputeReadyAtLookback(t *testing.T) {
	window := candlesFromCloses(ramp(34, 100, 1)...)
	v, err := Compute(window, DefaultParams())
	require.NoError(t, err)
	assert.True(t, v.Ready)
	assert.False(t, math.IsNaN(v.ADX))
	assert.False(t, math.IsNaN(v.MACDSignal))
}

func TestSeriesMatchesCompute(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/4) + float64(i)*0.1
	}
	candles := candlesFromCloses(closes...)
	series := Series(candles, DefaultParams())

	for _, k := range []int{34, 50, 80} {
		v, err := Compute(candles[:k], DefaultParams())
		require.NoError(t, err)
		assert.Equal(t, series[k-1], v, "index %d", k-1)
	}
	assert.False(t, series[32].Ready)
	assert.True(t, series[33].Ready)
}

func TestRSIWilder(t *testing.T) {
	rsi := rsiSeries([]float64{1, 2, 1, 2, 3}, 2)
	assert.True(t, math.IsNaN(rsi[1]))
	assert.InDelta(t, 50, rsi[2], 1e-12)
	assert.InDelta(t, 75, rsi[3], 1e-12)
	assert.InDelta(t, 87.5, rsi[4], 1e-12)
}

func TestRSIExtremes(t *testing.T) {
	up := rsiSeries(ramp(20, 100, 1), 14)
	assert.Equal(t, 100.0, up[19])

	down := rsiSeries(ramp(20, 100, -1), 14)
	assert.Equal(t, 0.0, down[19])

	flat := rsiSeries(ramp(20, 100, 0), 14)
	assert.Equal(t, 50.0, flat[19])
}

func TestFlatSeries(t *testing.T) {
	candles := candlesFromCloses(ramp(60, 100, 0)...)
	v, err := Compute(candles, DefaultParams())
	require.NoError(t, err)

	assert.InDelta(t, 0, v.MACD, 1e-12)
	assert.InDelta(t, 0, v.MACDSignal, 1e-12)
	assert.InDelta(t, 100, v.BBUpper, 1e-12)
	assert.InDelta(t, 100, v.BBLower, 1e-12)
	assert.InDelta(t, 2, v.ATR, 1e-12)
	assert.InDelta(t, 0, v.ADX, 1e-12)
	assert.Equal(t, 0.5, v.BandPosition(100))
}

func TestEMASeed(t *testing.T) {
	out := ema([]float64{2, 4, 6, 8}, 3, 0)
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 4, out[2], 1e-12)
	// alpha = 0.5
	assert.InDelta(t, 6, out[3], 1e-12)
}

func TestUptrendSignals(t *testing.T) {
	candles := candlesFromCloses(ramp(60, 100, 1)...)
	v, err := Compute(candles, DefaultParams())
	require.NoError(t, err)

	assert.Greater(t, v.MACD, 0.0)
	assert.Greater(t, v.RSI, 50.0)
	assert.Greater(t, v.ADX, 60.0)
	assert.Greater(t, v.BandPosition(candles[59].Close), 0.7)
}

func TestVolatility(t *testing.T) {
	_, ok := Volatility([]float64{100, 110}, 2)
	assert.False(t, ok)

	vol, ok := Volatility([]float64{50, 100, 110, 99}, 2)
	require.True(t, ok)
	assert.InDelta(t, math.Sqrt(0.02), vol, 1e-9)

	vol, ok = Volatility(ramp(30, 100, 0), 24)
	require.True(t, ok)
	assert.Equal(t, 0.0, vol)
}

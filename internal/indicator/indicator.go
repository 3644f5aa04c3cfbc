// Package indicator computes the technical indicators the simulator consumes.
//
// Smoothing conventions:
//   - EMA(n): alpha = 2/(n+1), seeded with the simple mean of the first n inputs.
//   - RSI(n), ATR(n), ADX(n): Wilder smoothing, avg = (avg*(n-1) + x) / n,
//     seeded with the simple mean of the first n inputs.
//   - Bollinger bands use the population standard deviation.
//
// All functions are pure. Values at index i depend only on candles[0..i].
package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/kjannette/trahn-gridsim/internal/market"
)

var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError reports a window shorter than the indicator lookback.
type InsufficientDataError struct {
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%v: need %d candles, have %d", ErrInsufficientData, e.Need, e.Have)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

type Params struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	BBPeriod   int
	BBStdDev   float64
	ATRPeriod  int
	ADXPeriod  int
}

func DefaultParams() Params {
	return Params{
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		BBPeriod:   20,
		BBStdDev:   2,
		ATRPeriod:  14,
		ADXPeriod:  14,
	}
}

// Values holds every indicator at one index. Ready is false until the
// lookback is met; the numeric fields are then NaN or partial.
type Values struct {
	Ready      bool
	RSI        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	ATR        float64
	ADX        float64
}

// BandPosition places price inside the Bollinger band: 0 at the lower band,
// 1 at the upper. A zero-width band gives 0.5.
func (v Values) BandPosition(price float64) float64 {
	width := v.BBUpper - v.BBLower
	if width <= 0 || math.IsNaN(width) {
		return 0.5
	}
	return (price - v.BBLower) / width
}

// Lookback is the minimum number of candles before every indicator is defined.
func Lookback(p Params) int {
	need := p.RSIPeriod + 1
	need = max(need, p.MACDSlow+p.MACDSignal-1)
	need = max(need, p.BBPeriod)
	need = max(need, p.ATRPeriod+1)
	need = max(need, 2*p.ADXPeriod)
	return need
}

// Compute returns the indicators for the last candle of window.
func Compute(window []market.Candle, p Params) (Values, error) {
	need := Lookback(p)
	if len(window) < need {
		return Values{}, &InsufficientDataError{Need: need, Have: len(window)}
	}
	s := Series(window, p)
	return s[len(s)-1], nil
}

// Series computes Values for every index in one pass per indicator.
func Series(candles []market.Candle, p Params) []Values {
	n := len(candles)
	closes := market.Closes(candles)

	rsi := rsiSeries(closes, p.RSIPeriod)
	macd, signal := macdSeries(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	upper, mid, lower := bollingerSeries(closes, p.BBPeriod, p.BBStdDev)
	atr := atrSeries(candles, p.ATRPeriod)
	adx := adxSeries(candles, p.ADXPeriod)

	ready := Lookback(p) - 1
	out := make([]Values, n)
	for i := range out {
		v := Values{
			RSI:        rsi[i],
			MACD:       macd[i],
			MACDSignal: signal[i],
			MACDHist:   macd[i] - signal[i],
			BBUpper:    upper[i],
			BBMiddle:   mid[i],
			BBLower:    lower[i],
			ATR:        atr[i],
			ADX:        adx[i],
		}
		v.Ready = i >= ready && !v.anyNaN()
		out[i] = v
	}
	return out
}

func (v Values) anyNaN() bool {
	for _, f := range []float64{v.RSI, v.MACD, v.MACDSignal, v.BBUpper, v.BBLower, v.ATR, v.ADX} {
		if math.IsNaN(f) {
			return true
		}
	}
	return false
}

// Volatility is the sample standard deviation of simple returns over the
// last lookback returns of closes. ok is false when there are too few closes.
func Volatility(closes []float64, lookback int) (vol float64, ok bool) {
	if lookback < 2 || len(closes) < lookback+1 {
		return 0, false
	}
	window := closes[len(closes)-lookback-1:]
	returns := make([]float64, 0, lookback)
	for i := 1; i < len(window); i++ {
		returns = append(returns, window[i]/window[i-1]-1)
	}
	return sampleStd(returns), true
}

// --- series helpers ---

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func rsiSeries(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period < 1 || len(closes) <= period {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		g, l := splitChange(closes[i] - closes[i-1])
		gain += g
		loss += l
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiFrom(gain, loss)

	for i := period + 1; i < len(closes); i++ {
		g, l := splitChange(closes[i] - closes[i-1])
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
		out[i] = rsiFrom(gain, loss)
	}
	return out
}

func splitChange(d float64) (gain, loss float64) {
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func rsiFrom(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// ema seeds at start+period-1 with the mean of values[start : start+period].
func ema(values []float64, period, start int) []float64 {
	out := nanSlice(len(values))
	seedAt := start + period - 1
	if period < 1 || start < 0 || seedAt >= len(values) {
		return out
	}
	sum := 0.0
	for i := start; i <= seedAt; i++ {
		sum += values[i]
	}
	out[seedAt] = sum / float64(period)

	alpha := 2 / float64(period+1)
	for i := seedAt + 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

func macdSeries(closes []float64, fast, slow, signal int) (macd, sig []float64) {
	fastEMA := ema(closes, fast, 0)
	slowEMA := ema(closes, slow, 0)

	macd = nanSlice(len(closes))
	for i := slow - 1; i >= 0 && i < len(closes); i++ {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	sig = ema(macd, signal, slow-1)
	return macd, sig
}

func bollingerSeries(closes []float64, period int, k float64) (upper, mid, lower []float64) {
	n := len(closes)
	upper, mid, lower = nanSlice(n), nanSlice(n), nanSlice(n)
	if period < 1 {
		return
	}
	for i := period - 1; i < n; i++ {
		window := closes[i-period+1 : i+1]
		m := mean(window)
		variance := 0.0
		for _, c := range window {
			variance += (c - m) * (c - m)
		}
		sd := math.Sqrt(variance / float64(period))
		mid[i] = m
		upper[i] = m + k*sd
		lower[i] = m - k*sd
	}
	return
}

func trueRange(candles []market.Candle, i int) float64 {
	c, prev := candles[i], candles[i-1].Close
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
}

func atrSeries(candles []market.Candle, period int) []float64 {
	out := nanSlice(len(candles))
	if period < 1 || len(candles) <= period {
		return out
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trueRange(candles, i)
	}
	out[period] = sum / float64(period)
	for i := period + 1; i < len(candles); i++ {
		out[i] = (out[i-1]*float64(period-1) + trueRange(candles, i)) / float64(period)
	}
	return out
}

func adxSeries(candles []market.Candle, period int) []float64 {
	n := len(candles)
	out := nanSlice(n)
	if period < 1 || n < 2*period {
		return out
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = trueRange(candles, i)
	}

	var trS, pS, mS float64
	for i := 1; i <= period; i++ {
		trS += tr[i]
		pS += plusDM[i]
		mS += minusDM[i]
	}

	p := float64(period)
	dx := nanSlice(n)
	dx[period] = directionalIndex(pS, mS, trS)
	for i := period + 1; i < n; i++ {
		trS = trS - trS/p + tr[i]
		pS = pS - pS/p + plusDM[i]
		mS = mS - mS/p + minusDM[i]
		dx[i] = directionalIndex(pS, mS, trS)
	}

	first := 2*period - 1
	sum := 0.0
	for i := period; i <= first; i++ {
		sum += dx[i]
	}
	out[first] = sum / p
	for i := first + 1; i < n; i++ {
		out[i] = (out[i-1]*(p-1) + dx[i]) / p
	}
	return out
}

func directionalIndex(plus, minus, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	pDI := 100 * plus / tr
	mDI := 100 * minus / tr
	if pDI+mDI == 0 {
		return 0
	}
	return 100 * math.Abs(pDI-mDI) / (pDI + mDI)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	v := 0.0
	for _, x := range xs {
		v += (x - m) * (x - m)
	}
	return math.Sqrt(v / float64(len(xs)-1))
}

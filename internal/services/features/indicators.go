package features

import (
	"math"

	"Genesis/internal/domain/models"
)

// EMA returns the exponential moving average series of values with period n.
// The series is seeded at the first value and uses alpha = 2/(n+1).
func EMA(values []float64, n int) []float64 {
	if len(values) == 0 || n <= 0 {
		return nil
	}
	alpha := 2.0 / float64(n+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI computes the latest relative strength index with Wilder smoothing.
// Returns 50 when there are not enough values and 100 when the average loss is zero.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 50
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDSeries holds aligned MACD line, signal and histogram series.
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the MACD(fast, slow, signal) series over closes.
func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	if len(closes) == 0 {
		return MACDSeries{}
	}
	ef := EMA(closes, fast)
	es := EMA(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = ef[i] - es[i]
	}
	sig := EMA(line, signal)
	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return MACDSeries{Line: line, Signal: sig, Histogram: hist}
}

// ATR computes the latest average true range with Wilder smoothing.
// With fewer than period+1 candles the mean true range of what is available is returned.
func ATR(candles []models.Candle, period int) float64 {
	if len(candles) < 2 || period <= 0 {
		return 0
	}
	tr := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		c, prev := candles[i], candles[i-1].Close
		tr = append(tr, math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev))))
	}
	if len(tr) < period {
		sum := 0.0
		for _, v := range tr {
			sum += v
		}
		return sum / float64(len(tr))
	}
	atr := 0.0
	for _, v := range tr[:period] {
		atr += v
	}
	atr /= float64(period)
	for _, v := range tr[period:] {
		atr = (atr*float64(period-1) + v) / float64(period)
	}
	return atr
}

// HighLow returns the highest high and lowest low over the last n candles.
func HighLow(candles []models.Candle, n int) (high, low float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	start := len(candles) - n
	if n <= 0 || start < 0 {
		start = 0
	}
	high, low = candles[start].High, candles[start].Low
	for _, c := range candles[start+1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

// Last returns the final element of s, or 0 when empty.
func Last(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// Prev returns the element before the last one. With fewer than two values
// it returns the last value so that no crossover can be detected.
func Prev(s []float64) float64 {
	if len(s) < 2 {
		return Last(s)
	}
	return s[len(s)-2]
}

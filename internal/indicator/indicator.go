// Package indicator derives the secondary series the strategies trade on:
// true range and ATR, the ATR/percentage trend direction, and the
// short/long RSI differential.
//
// Every function is a pure function of its inputs. Undefined values are
// encoded as NaN and propagate through any computation that reads them.
package indicator

import (
	"fmt"
	"math"

	"backtester/internal/domain"
)

// Direction values.
const (
	Up   = 1
	Down = -1
)

// Params configures Derive.
type Params struct {
	ATRWindow          int     `json:"atr_window" yaml:"atr_window"`
	ATRMultiplier      float64 `json:"atr_multiplier" yaml:"atr_multiplier"`
	DirectionThreshold float64 `json:"direction_threshold" yaml:"direction_threshold"`
	UseAbsolute        bool    `json:"use_absolute" yaml:"use_absolute"`
	RSIShort           int     `json:"rsi_short" yaml:"rsi_short"`
	RSILong            int     `json:"rsi_long" yaml:"rsi_long"`
}

// DefaultParams returns the parameter set used when a request leaves the
// indicator fields unset.
func DefaultParams() Params {
	return Params{
		ATRWindow:          14,
		ATRMultiplier:      3.0,
		DirectionThreshold: 0.05,
		UseAbsolute:        true,
		RSIShort:           7,
		RSILong:            30,
	}
}

// Validate reports malformed parameters as domain.ErrConfig.
func (p Params) Validate() error {
	switch {
	case p.ATRWindow <= 0:
		return fmt.Errorf("atr_window must be positive, got %d: %w", p.ATRWindow, domain.ErrConfig)
	case !(p.ATRMultiplier > 0):
		return fmt.Errorf("atr_multiplier must be positive, got %v: %w", p.ATRMultiplier, domain.ErrConfig)
	case !(p.DirectionThreshold >= 0):
		return fmt.Errorf("direction_threshold must be non-negative, got %v: %w", p.DirectionThreshold, domain.ErrConfig)
	case p.RSIShort <= 0 || p.RSILong <= 0:
		return fmt.Errorf("rsi windows must be positive, got %d/%d: %w", p.RSIShort, p.RSILong, domain.ErrConfig)
	}
	return nil
}

// TrueRange returns max(H-L, |H-prevC|, |L-prevC|) per bar. The first bar
// has no prior close and uses H-L alone.
func TrueRange(bars []domain.Bar) []float64 {
	tr := make([]float64, len(bars))
	for i, b := range bars {
		hl := b.High - b.Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		prev := bars[i-1].Close
		tr[i] = math.Max(hl, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
	}
	return tr
}

// RollingMean returns the simple mean of each trailing window of xs. The
// first window-1 entries, and any window containing NaN, are NaN.
func RollingMean(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	var sum float64
	nans := 0
	for i, x := range xs {
		if math.IsNaN(x) {
			nans++
		} else {
			sum += x
		}
		if i >= window {
			old := xs[i-window]
			if math.IsNaN(old) {
				nans--
			} else {
				sum -= old
			}
		}
		if i < window-1 || nans > 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(window)
	}
	return out
}

// ATR returns the rolling mean of the true range over window bars scaled by
// multiplier. Entries before index window-1 are NaN.
func ATR(bars []domain.Bar, window int, multiplier float64) []float64 {
	return atrOf(TrueRange(bars), window, multiplier)
}

// atrOf scales the rolling mean of a precomputed true range.
func atrOf(tr []float64, window int, multiplier float64) []float64 {
	atr := RollingMean(tr, window)
	for i := range atr {
		atr[i] *= multiplier
	}
	return atr
}

// Direction runs the two-state trend machine over bars and returns +1 while
// in an up trend and -1 while in a down trend, starting in an up trend.
//
// With useAbsolute the retracement distance is atr[i]; otherwise it is the
// fraction threshold of the running extreme. A NaN distance never flips.
func Direction(bars []domain.Bar, atr []float64, threshold float64, useAbsolute bool) []int {
	dirs := make([]int, len(bars))
	if len(bars) == 0 {
		return dirs
	}

	upTrend := true
	lastHigh := bars[0].High
	lastLow := bars[0].High

	for i, b := range bars {
		if upTrend {
			if b.High > lastHigh {
				lastHigh = b.High
			} else if b.Close < floor(lastHigh, threshold, atr, i, useAbsolute) {
				upTrend = false
				lastLow = b.Low
			}
		} else {
			if b.Low < lastLow {
				lastLow = b.Low
			} else if b.Close > ceiling(lastLow, threshold, atr, i, useAbsolute) {
				upTrend = true
				lastHigh = b.High
			}
		}

		if upTrend {
			dirs[i] = Up
		} else {
			dirs[i] = Down
		}
	}
	return dirs
}

func floor(lastHigh, threshold float64, atr []float64, i int, useAbsolute bool) float64 {
	if useAbsolute {
		return lastHigh - atr[i]
	}
	return lastHigh * (1 - threshold)
}

func ceiling(lastLow, threshold float64, atr []float64, i int, useAbsolute bool) float64 {
	if useAbsolute {
		return lastLow + atr[i]
	}
	return lastLow * (1 + threshold)
}

// RSI returns the relative strength index of closes using simple rolling
// means of gains and losses over period bars. The first bar contributes a
// zero gain and zero loss, so RSI is defined from index period-1.
//
// A zero average loss yields 100, or 50 when the average gain is zero too.
func RSI(closes []float64, period int) []float64 {
	n := len(closes)
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		switch {
		case math.IsNaN(d):
			gains[i], losses[i] = math.NaN(), math.NaN()
		case d > 0:
			gains[i] = d
		case d < 0:
			losses[i] = -d
		}
	}

	avgGain := RollingMean(gains, period)
	avgLoss := RollingMean(losses, period)

	rsi := make([]float64, n)
	for i := range rsi {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
			rsi[i] = math.NaN()
		case l == 0 && g == 0:
			rsi[i] = 50
		case l == 0:
			rsi[i] = 100
		default:
			rsi[i] = 100 - 100/(1+g/l)
		}
	}
	return rsi
}

// Closes extracts the close prices of bars.
func Closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

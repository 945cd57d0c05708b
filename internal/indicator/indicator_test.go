package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/domain"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hlc(i int, h, l, c float64) domain.Bar {
	return domain.Bar{
		Symbol:    "TEST",
		Timestamp: day0.AddDate(0, 0, i),
		Open:      c,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    1000,
	}
}

// risingBars returns n bars whose close rises by $1 per bar.
func risingBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = hlc(i, c+0.5, c-0.5, c)
	}
	return bars
}

func TestTrueRangeFirstBarUsesHighLow(t *testing.T) {
	bars := []domain.Bar{
		hlc(0, 105, 100, 102),
		hlc(1, 101, 100, 100.5), // gap below prior close: |L-prevC| = 2
		hlc(2, 110, 109, 109.5), // gap up: |H-prevC| = 9.5
	}
	tr := TrueRange(bars)
	assert.Equal(t, []float64{5, 2, 9.5}, tr)
}

func TestATRDefinedFromWindow(t *testing.T) {
	for _, window := range []int{1, 5, 14} {
		bars := risingBars(30)
		atr := ATR(bars, window, 3)
		require.Len(t, atr, len(bars))
		for i, v := range atr {
			if i < window-1 {
				assert.Truef(t, math.IsNaN(v), "window %d: atr[%d] = %v, want NaN", window, i, v)
			} else {
				assert.Falsef(t, math.IsNaN(v), "window %d: atr[%d] undefined", window, i)
			}
		}
	}
}

func TestATRScalesRollingMean(t *testing.T) {
	bars := []domain.Bar{
		hlc(0, 102, 100, 101), // TR 2
		hlc(1, 103, 99, 100),  // TR 4
		hlc(2, 101, 100, 100), // TR 1
	}
	atr := ATR(bars, 2, 2)
	assert.True(t, math.IsNaN(atr[0]))
	assert.InDelta(t, 6.0, atr[1], 1e-12)
	assert.InDelta(t, 5.0, atr[2], 1e-12)
}

func TestRollingMeanPropagatesNaN(t *testing.T) {
	out := RollingMean([]float64{1, math.NaN(), 3, 5, 7}, 2)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.True(t, math.IsNaN(out[2]))
	assert.InDelta(t, 4.0, out[3], 1e-12)
	assert.InDelta(t, 6.0, out[4], 1e-12)
}

func TestDirectionPercentThreshold(t *testing.T) {
	bars := []domain.Bar{
		hlc(0, 100, 95, 98),
		hlc(1, 110, 100, 108), // new high
		hlc(2, 106, 102, 105), // 105 >= 110*0.95
		hlc(3, 105, 100, 104), // 104 < 104.5: flip down, last low 100
		hlc(4, 102, 98, 99),   // new low 98
		hlc(5, 103, 99, 102),  // 102 <= 98*1.05
		hlc(6, 105, 100, 103), // 103 > 102.9: flip up
	}
	atr := make([]float64, len(bars))
	dirs := Direction(bars, atr, 0.05, false)
	assert.Equal(t, []int{Up, Up, Up, Down, Down, Down, Up}, dirs)
}

func TestDirectionAbsoluteBoundaryIsStrict(t *testing.T) {
	bars := []domain.Bar{
		hlc(0, 110, 100, 108),
		hlc(1, 109, 104, 105),    // floor 110-5 = 105, close equal: stay up
		hlc(2, 109, 103, 104.99), // strictly below: flip down, last low 103
		hlc(3, 107, 104, 108),    // ceiling 103+5 = 108, close equal: stay down
		hlc(4, 109, 104, 108.01), // strictly above: flip up
	}
	atr := []float64{5, 5, 5, 5, 5}
	dirs := Direction(bars, atr, 0, true)
	assert.Equal(t, []int{Up, Up, Down, Down, Up}, dirs)
}

func TestDirectionUndefinedATRNeverFlips(t *testing.T) {
	bars := []domain.Bar{
		hlc(0, 110, 100, 108),
		hlc(1, 105, 50, 51),
		hlc(2, 105, 40, 41),
	}
	atr := []float64{math.NaN(), math.NaN(), math.NaN()}
	dirs := Direction(bars, atr, 0, true)
	assert.Equal(t, []int{Up, Up, Up}, dirs)
}

func TestDirectionMonotonicRiseStaysUp(t *testing.T) {
	bars := risingBars(30)
	dirs := Direction(bars, ATR(bars, 5, 3), 0.05, true)
	for i, d := range dirs {
		assert.Equalf(t, Up, d, "direction[%d]", i)
	}
}

func TestRSIZeroLossIsHundred(t *testing.T) {
	rsi := RSI(Closes(risingBars(20)), 7)
	for i, v := range rsi {
		if i < 6 {
			assert.Truef(t, math.IsNaN(v), "rsi[%d] = %v, want NaN", i, v)
			continue
		}
		assert.Equalf(t, 100.0, v, "rsi[%d]", i)
	}
}

func TestRSIFlatSeriesIsFifty(t *testing.T) {
	rsi := RSI([]float64{10, 10, 10, 10}, 3)
	assert.True(t, math.IsNaN(rsi[1]))
	assert.Equal(t, 50.0, rsi[2])
	assert.Equal(t, 50.0, rsi[3])
}

func TestRSIMixed(t *testing.T) {
	rsi := RSI([]float64{1, 2, 1, 2}, 2)
	assert.True(t, math.IsNaN(rsi[0]))
	assert.Equal(t, 100.0, rsi[1])
	assert.InDelta(t, 50.0, rsi[2], 1e-12)
	assert.InDelta(t, 50.0, rsi[3], 1e-12)

	rsi = RSI([]float64{10, 13, 12}, 2)
	// gains 3,0 losses 0,1 over window ending at 2: 100 - 100/(1+1.5/0.5)
	assert.InDelta(t, 75.0, rsi[2], 1e-12)
}

func TestDerive(t *testing.T) {
	bars := risingBars(40)
	p := DefaultParams()
	p.ATRWindow = 5

	set, err := Derive(bars, p)
	require.NoError(t, err)
	require.Equal(t, len(bars), set.Len())
	assert.Len(t, set.ATR, len(bars))
	assert.Len(t, set.RSIDiff, len(bars))

	row := set.Row(35)
	assert.True(t, row.Defined())
	assert.Equal(t, Up, row.Direction)
	assert.InDelta(t, row.RSILong-row.RSIShort, row.RSIDiff, 1e-12)

	// rsi_long is undefined before index 29, so the differential is too.
	assert.True(t, math.IsNaN(set.RSIDiff[28]))
	assert.False(t, set.Row(28).Defined())

	sub := set.Slice(10, 20)
	assert.Equal(t, 10, sub.Len())
	assert.Equal(t, set.ATR[10], sub.ATR[0])
	sub.ATR[0] = -1
	assert.NotEqual(t, -1.0, set.ATR[10])
}

func TestDeriveATRMatchesATR(t *testing.T) {
	var bars []domain.Bar
	for i := 0; i < 30; i++ {
		c := 100 + 5*math.Sin(float64(i)/3)
		bars = append(bars, hlc(i, c+1+float64(i%4), c-1, c))
	}
	p := DefaultParams()
	p.ATRWindow = 7
	p.ATRMultiplier = 2.5

	set, err := Derive(bars, p)
	require.NoError(t, err)
	want := ATR(bars, p.ATRWindow, p.ATRMultiplier)
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(set.ATR[i]), "index %d", i)
			continue
		}
		assert.InDelta(t, want[i], set.ATR[i], 1e-12, "index %d", i)
	}
}

func TestDeriveErrors(t *testing.T) {
	_, err := Derive(nil, DefaultParams())
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))

	p := DefaultParams()
	p.ATRWindow = 0
	_, err = Derive(risingBars(5), p)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	p = DefaultParams()
	p.ATRMultiplier = math.NaN()
	_, err = Derive(risingBars(5), p)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestDeriveIsDeterministic(t *testing.T) {
	bars := risingBars(25)
	a, err := Derive(bars, DefaultParams())
	require.NoError(t, err)
	b, err := Derive(bars, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, a.Direction, b.Direction)
	assert.Equal(t, len(a.ATR), len(b.ATR))
}

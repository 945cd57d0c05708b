package perf

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dailySeries(vals ...float64) Series {
	var s Series
	for i, v := range vals {
		s.Append(date(2024, 1, 1).AddDate(0, 0, i), v)
	}
	return s
}

func TestSharpe(t *testing.T) {
	v := Sharpe(dailySeries(0.01, 0.02, 0.03))
	require.True(t, v.Valid)
	assert.InDelta(t, 2*math.Sqrt(252), v.V, 1e-9)
}

func TestSharpeUndefined(t *testing.T) {
	assert.False(t, Sharpe(Series{}).Valid)
	assert.False(t, Sharpe(dailySeries(0.01)).Valid)
	assert.False(t, Sharpe(dailySeries(0, 0, 0)).Valid, "zero volatility")
}

func TestCompSumAndCumulativeReturn(t *testing.T) {
	s := dailySeries(0.1, -0.5, 0.2)
	c := CompSum(s)
	assert.InDeltaSlice(t, []float64{0.1, -0.45, -0.34}, c.Values, 1e-12)
	cr, ok := CumulativeReturn(s).Float()
	require.True(t, ok)
	assert.InDelta(t, -0.34, cr, 1e-12)
	assert.False(t, CumulativeReturn(Series{}).Valid)
}

func TestMaxDrawdown(t *testing.T) {
	dd := MaxDrawdown(dailySeries(0.1, -0.5, 0.2))
	require.True(t, dd.Valid)
	assert.InDelta(t, -0.5, dd.V, 1e-12)

	// The first return sets the initial peak.
	dd = MaxDrawdown(dailySeries(-0.1, 0.05))
	require.True(t, dd.Valid)
	assert.Equal(t, 0.0, dd.V)

	assert.False(t, MaxDrawdown(Series{}).Valid)
}

func TestCAGR(t *testing.T) {
	s := Series{
		Dates:  []time.Time{date(2023, 1, 1), date(2024, 1, 1)},
		Values: []float64{0, 0.21},
	}
	v := CAGR(s)
	require.True(t, v.Valid)
	assert.InDelta(t, 0.21, v.V, 1e-12)

	single := Series{Dates: []time.Time{date(2023, 1, 1)}, Values: []float64{0.1}}
	assert.False(t, CAGR(single).Valid)
}

func TestCalmar(t *testing.T) {
	s := Series{
		Dates:  []time.Time{date(2023, 1, 1), date(2023, 7, 2), date(2024, 1, 1)},
		Values: []float64{0.1, -0.5, 0.2},
	}
	v := Calmar(s)
	require.True(t, v.Valid)
	assert.InDelta(t, -0.68, v.V, 1e-9)

	// No drawdown: undefined rather than infinite.
	assert.False(t, Calmar(dailySeries(0.01, 0.02)).Valid)
}

func TestSummarizeDropsNaN(t *testing.T) {
	s := dailySeries(math.NaN(), 0.01, 0.02, math.Inf(1), 0.03)
	sum := Summarize(s)
	assert.Equal(t, 3, sum.Periods)
	assert.Equal(t, date(2024, 1, 2), sum.Start)
	assert.Equal(t, date(2024, 1, 5), sum.End)
	assert.InDelta(t, 2*math.Sqrt(252), sum.Sharpe.V, 1e-9)

	empty := Summarize(Series{})
	assert.Equal(t, 0, empty.Periods)
	assert.False(t, empty.Sharpe.Valid)
	assert.False(t, empty.Calmar.Valid)
}

func TestValueJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}{A: Defined(1.5), B: Undefined})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.5,"b":null}`, string(b))

	var got struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, Defined(1.5), got.A)
	assert.False(t, got.B.Valid)

	assert.Equal(t, "n/a", Undefined.String())
	assert.False(t, Defined(math.NaN()).Valid)
}

func TestMonthly(t *testing.T) {
	s := Series{
		Dates:  []time.Time{date(2024, 1, 30), date(2024, 1, 31), date(2024, 2, 1)},
		Values: []float64{0.1, 0.1, -0.05},
	}
	m := Monthly(s)
	require.Len(t, m, 2)
	assert.Equal(t, time.January, m[0].Month)
	assert.InDelta(t, 0.21, m[0].Return, 1e-12)
	assert.InDelta(t, -0.05, m[1].Return, 1e-12)
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	err := RenderHTML(&buf, ReportInput{
		Title:       "AAPL <trend>",
		Symbol:      "AAPL",
		Strategy:    "trend-change",
		Params:      map[string]any{"atr_window": 14},
		InitialCash: 100000,
		Returns:     dailySeries(0.01, -0.02, 0.015, 0.005),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "Sharpe")
	assert.Contains(t, out, "atr_window")
	assert.Contains(t, out, "2024-01")
	assert.Contains(t, out, "100,000.00")
	assert.Contains(t, out, "AAPL &lt;trend&gt;", "title must be escaped")
}

func TestRenderHTMLEmptySeries(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, ReportInput{Symbol: "NONE"}))
	assert.Contains(t, buf.String(), "not enough data")
	assert.Contains(t, buf.String(), "n/a")
}

package backtest

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/domain"
	"backtester/internal/strategy"
)

func TestDefaultGrids(t *testing.T) {
	g, err := DefaultGrid(strategy.KindTrendChange)
	require.NoError(t, err)
	combos, err := g.Expand(strategy.DefaultTrendChangeParams())
	require.NoError(t, err)
	assert.Len(t, combos, 10*9)

	g, err = DefaultGrid(strategy.KindRSIDiff)
	require.NoError(t, err)
	combos, err = g.Expand(strategy.DefaultRSIDiffParams())
	require.NoError(t, err)
	assert.Len(t, combos, 9*7)

	_, err = DefaultGrid("macd")
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestRanges(t *testing.T) {
	assert.Equal(t, []int{5, 10, 15, 20, 25, 30, 35, 40, 45, 50}, IntRange(5, 50, 5))
	assert.Equal(t, []float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5}, FloatRange(1, 5, 0.5))
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, FloatRange(0.1, 0.3, 0.1))
	assert.Nil(t, IntRange(1, 5, 0))
}

func TestGridDropsInvalidCombinations(t *testing.T) {
	g := RSIDiffGrid{Shorts: []int{5, 10, 30}, Longs: []int{20}}
	combos, err := g.Expand(strategy.DefaultRSIDiffParams())
	require.NoError(t, err)
	require.Len(t, combos, 2, "short >= long is not a valid RSI pair")

	_, err = RSIDiffGrid{Shorts: []int{30}, Longs: []int{20}}.Expand(strategy.DefaultRSIDiffParams())
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = TrendChangeGrid{}.Expand(strategy.DefaultRSIDiffParams())
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestOptimizePicksHighestSharpe(t *testing.T) {
	src := newFakeSource().add("AAPL", sine(0))
	r := NewRunner(src, WithLogger(quietLogger()), WithWorkers(4))

	grid := TrendChangeGrid{ATRWindows: []int{5, 10, 20}, ATRMultipliers: []float64{1, 2, 3}}
	var done atomic.Int64
	rep, err := r.Optimize(context.Background(), request("AAPL"), grid, func(Progress) { done.Add(1) })
	require.NoError(t, err)

	require.Len(t, rep.Rows, 9)
	assert.EqualValues(t, 9, done.Load())
	require.NotNil(t, rep.Best)
	for _, row := range rep.Rows {
		if row.Ranked() {
			assert.LessOrEqual(t, row.Sharpe.V, rep.Best.Sharpe.V)
		}
	}
	assert.Equal(t, 1, src.callCount("AAPL"), "bars are fetched once per grid search")

	require.NotNil(t, rep.Heatmap)
	assert.Equal(t, []string{"5", "10", "20"}, rep.Heatmap.XTicks)
	assert.Equal(t, []string{"1", "2", "3"}, rep.Heatmap.YTicks)
	assert.Len(t, rep.Heatmap.Cells, 3)
}

func TestOptimizeNoViableParameters(t *testing.T) {
	// Every bar predates the requested range, so each run has an empty
	// return series.
	src := newFakeSource().add("OLD", sine(0))
	r := NewRunner(src, WithLogger(quietLogger()))

	req := request("OLD")
	req.Start, req.End = day(2025, 2, 3), day(2025, 12, 31)
	rep, err := r.Optimize(context.Background(), req, RSIDiffGrid{Shorts: []int{5, 7}, Longs: []int{20, 30}}, nil)
	require.ErrorIs(t, err, domain.ErrNoViableParameters)
	require.NotNil(t, rep)
	assert.Nil(t, rep.Best)
	assert.Len(t, rep.Rows, 4, "every combination keeps its row")
	for _, row := range rep.Rows {
		assert.False(t, row.Ranked())
		assert.NotEmpty(t, row.Error)
	}
}

func TestOptimizeDefaultsParamsFromGrid(t *testing.T) {
	src := newFakeSource().add("AAPL", sine(0))
	r := NewRunner(src, WithLogger(quietLogger()))

	req := request("AAPL")
	req.Params = nil
	rep, err := r.Optimize(context.Background(), req, RSIDiffGrid{Shorts: []int{5}, Longs: []int{30}}, nil)
	if err != nil {
		require.ErrorIs(t, err, domain.ErrNoViableParameters)
	}
	require.Len(t, rep.Rows, 1)
	assert.Equal(t, strategy.KindRSIDiff, rep.Strategy)

	req.Params = strategy.DefaultTrendChangeParams()
	_, err = r.Optimize(context.Background(), req, RSIDiffGrid{}, nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

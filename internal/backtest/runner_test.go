package backtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/domain"
	"backtester/internal/strategy"
)

func request(symbol string) Request {
	return Request{
		Symbol:      symbol,
		Start:       day(2023, 1, 2),
		End:         day(2023, 12, 29),
		InitialCash: 100_000,
		Commission:  0.001,
		Params:      strategy.DefaultTrendChangeParams(),
	}
}

func TestRunTrimsToRequestedRange(t *testing.T) {
	src := newFakeSource().add("AAPL", sine(0))
	r := NewRunner(src, WithLogger(quietLogger()))

	res := r.Run(context.Background(), request("AAPL"))
	require.NoError(t, res.Err)
	assert.True(t, res.OK())
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, ModeSingle, res.Mode)
	assert.Equal(t, strategy.KindTrendChange, res.Strategy)

	require.Equal(t, weekdaysBetween(day(2023, 1, 2), day(2023, 12, 29)), res.Returns.Len())
	assert.Equal(t, day(2023, 1, 2), res.Returns.Dates[0])
	assert.Equal(t, day(2023, 12, 29), res.Returns.Dates[res.Returns.Len()-1])

	assert.NotEmpty(t, res.Fills, "a 40 bar cycle of +-20 should trigger trades")
	assert.True(t, res.Summary.Sharpe.Valid)
	assert.True(t, res.Summary.MaxDrawdown.Valid)
}

func TestRunRSIDiff(t *testing.T) {
	src := newFakeSource().add("MSFT", sine(1))
	r := NewRunner(src, WithLogger(quietLogger()))

	req := request("MSFT")
	req.Params = strategy.DefaultRSIDiffParams()
	res := r.Run(context.Background(), req)
	require.NoError(t, res.Err)
	assert.Equal(t, strategy.KindRSIDiff, res.Strategy)
	assert.Positive(t, res.Returns.Len())
}

func TestRunUnknownSymbolDegradesToUndefined(t *testing.T) {
	r := NewRunner(newFakeSource(), WithLogger(quietLogger()))

	res := r.Run(context.Background(), request("NOPE"))
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, domain.ErrNotFound)
	assert.True(t, domain.IsDataUnavailable(res.Err))
	assert.False(t, res.Summary.Sharpe.Valid)
	assert.False(t, res.Summary.Calmar.Valid)
}

func TestRunRangeWithoutBars(t *testing.T) {
	src := newFakeSource().add("AAPL", sine(0))
	r := NewRunner(src, WithLogger(quietLogger()))

	req := request("AAPL")
	req.Start, req.End = day(2025, 3, 3), day(2025, 6, 30)
	res := r.Run(context.Background(), req)
	assert.ErrorIs(t, res.Err, domain.ErrDataUnavailable)
	assert.Zero(t, res.Returns.Len())
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	r := NewRunner(newFakeSource(), WithLogger(quietLogger()))

	cases := map[string]func(*Request){
		"no symbol":     func(q *Request) { q.Symbol = " " },
		"no params":     func(q *Request) { q.Params = nil },
		"reversed":      func(q *Request) { q.Start, q.End = q.End, q.Start },
		"zero cash":     func(q *Request) { q.InitialCash = 0 },
		"bad fee":       func(q *Request) { q.Commission = -0.1 },
		"bad strategy":  func(q *Request) { q.Params = strategy.RSIDiffParams{RSIShort: 30, RSILong: 7, PositionSize: 0.8} },
		"zero fraction": func(q *Request) { p := strategy.DefaultTrendChangeParams(); p.PositionSize = 0; q.Params = p },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request("AAPL")
			mutate(&req)
			res := r.Run(context.Background(), req)
			assert.ErrorIs(t, res.Err, domain.ErrConfig)
		})
	}
}

func TestRunRecoversPanics(t *testing.T) {
	src := newFakeSource()
	src.panics = true
	r := NewRunner(src, WithLogger(quietLogger()))

	var res *Result
	require.NotPanics(t, func() { res = r.Run(context.Background(), request("AAPL")) })
	assert.ErrorIs(t, res.Err, domain.ErrComputation)
	assert.False(t, res.Summary.Sharpe.Valid)
}

func TestRunRecordsSummary(t *testing.T) {
	src := newFakeSource().add("AAPL", sine(0))
	rec := &memRecorder{}
	r := NewRunner(src, WithLogger(quietLogger()), WithRecorder(rec))

	res := r.Run(context.Background(), request("AAPL"))
	r.Run(context.Background(), request("NOPE"))

	require.Len(t, rec.runs, 2)
	assert.Equal(t, res.ID, rec.runs[0].ID)
	assert.Equal(t, "single", rec.runs[0].Mode)
	assert.Equal(t, "trend-change", rec.runs[0].Strategy)
	assert.Contains(t, rec.runs[0].Params, `"atr_window":14`)
	assert.Equal(t, res.Summary.Sharpe, rec.runs[0].Sharpe)
	assert.NotEmpty(t, rec.runs[1].Error)
	assert.False(t, rec.runs[1].Sharpe.Valid)
}

func TestWarmupFloor(t *testing.T) {
	r := NewRunner(newFakeSource(), WithWarmupBars(10), WithWorkers(3))
	assert.Equal(t, MinWarmupBars, r.warmup)
	assert.Equal(t, 3, r.Workers())
}

// startRecorder remembers the start date of every fetch.
type startRecorder struct {
	*fakeSource
	mu     sync.Mutex
	starts []time.Time
}

func (s *startRecorder) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	s.mu.Lock()
	s.starts = append(s.starts, start)
	s.mu.Unlock()
	return s.fakeSource.FetchBars(ctx, symbol, start, end)
}

func TestWarmupCoversHolidays(t *testing.T) {
	// One weekday in twelve is a holiday.
	var series []domain.Bar
	for i, b := range weekdayBars("HOL", day(2022, 1, 3), day(2023, 12, 29), sine(0)) {
		if i%12 != 11 {
			series = append(series, b)
		}
	}
	fake := newFakeSource()
	fake.series["HOL"] = series
	src := &startRecorder{fakeSource: fake}

	r := NewRunner(src, WithWarmupBars(MinWarmupBars), WithLogger(quietLogger()))
	req := request("HOL")
	res := r.Run(context.Background(), req)
	require.NoError(t, res.Err)
	require.Len(t, src.starts, 1)

	warm := 0
	for _, b := range series {
		if !b.Timestamp.Before(src.starts[0]) && b.Timestamp.Before(req.Start) {
			warm++
		}
	}
	assert.GreaterOrEqual(t, warm, MinWarmupBars)
}

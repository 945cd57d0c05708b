package backtest

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/domain"
	"backtester/internal/perf"
)

func batchSource() *fakeSource {
	return newFakeSource().
		add("AAA", sine(0)).
		add("BBB", sine(1.5)).
		add("CCC", sine(3)).
		add("FLAT", flat)
}

func symbolsOf(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Symbol
	}
	return out
}

func TestBatchRanksAndKeepsFailures(t *testing.T) {
	r := NewRunner(batchSource(), WithLogger(quietLogger()), WithWorkers(2))

	var calls atomic.Int64
	rep, err := r.Batch(context.Background(),
		[]string{"FLAT", "AAA", "MISSING", "BBB", " ", "CCC"},
		request(""),
		func(p Progress) {
			calls.Add(1)
			assert.Equal(t, 5, p.Total)
		},
	)
	require.NoError(t, err)
	require.Len(t, rep.Rows, 5, "blank symbols are dropped, failures kept")
	assert.EqualValues(t, 5, calls.Load())
	assert.Equal(t, 1, rep.Failed)

	for i, row := range rep.Rows[:3] {
		assert.True(t, row.Ranked(), "row %d (%s) should have a Sharpe", i, row.Symbol)
		assert.Equal(t, i+1, row.Rank)
	}
	assert.GreaterOrEqual(t, rep.Rows[0].Sharpe.V, rep.Rows[1].Sharpe.V)
	assert.GreaterOrEqual(t, rep.Rows[1].Sharpe.V, rep.Rows[2].Sharpe.V)

	// Undefined rows trail, ordered by symbol.
	assert.Equal(t, []string{"FLAT", "MISSING"}, symbolsOf(rep.Rows[3:]))
	assert.Empty(t, rep.Rows[3].Error, "a flat series runs fine but has no Sharpe")
	assert.Contains(t, rep.Rows[4].Error, "instrument not found")
}

func TestBatchOrderIndependentOfSubmission(t *testing.T) {
	syms := []string{"AAA", "BBB", "CCC", "FLAT", "MISSING", "ZZZ"}
	r := NewRunner(batchSource(), WithLogger(quietLogger()), WithWorkers(4))

	first, err := r.Batch(context.Background(), syms, request(""), nil)
	require.NoError(t, err)
	want := symbolsOf(first.Rows)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 3; i++ {
		shuffled := append([]string(nil), syms...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		rep, err := r.Batch(context.Background(), shuffled, request(""), nil)
		require.NoError(t, err)
		assert.Equal(t, want, symbolsOf(rep.Rows))
	}
}

func TestBatchCancelledSkipsQueuedRuns(t *testing.T) {
	r := NewRunner(batchSource(), WithLogger(quietLogger()), WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := r.Batch(ctx, []string{"AAA", "BBB", "CCC"}, request(""), nil)
	require.NoError(t, err)
	require.Len(t, rep.Rows, 3)
	for _, res := range rep.Results {
		assert.ErrorIs(t, res.Err, ErrSkipped)
		assert.True(t, errors.Is(res.Err, context.Canceled))
	}
	assert.Equal(t, 3, rep.Failed)
}

func TestBatchRejectsBadTemplate(t *testing.T) {
	r := NewRunner(batchSource(), WithLogger(quietLogger()))

	_, err := r.Batch(context.Background(), nil, request(""), nil)
	assert.ErrorIs(t, err, domain.ErrConfig)

	tmpl := request("")
	tmpl.InitialCash = -1
	_, err = r.Batch(context.Background(), []string{"AAA"}, tmpl, nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestRankUndefinedAlwaysLast(t *testing.T) {
	base := []Row{
		{Symbol: "A", Sharpe: perf.Defined(0.5)},
		{Symbol: "B", Sharpe: perf.Undefined, Error: "data unavailable"},
		{Symbol: "C", Sharpe: perf.Defined(-1.2)},
		{Symbol: "D", Sharpe: perf.Undefined},
		{Symbol: "E", Sharpe: perf.Defined(2.1)},
		{Symbol: "F", Sharpe: perf.Defined(0.5)},
	}
	want := []string{"E", "A", "F", "C", "B", "D"}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		rows := append([]Row(nil), base...)
		rng.Shuffle(len(rows), func(a, b int) { rows[a], rows[b] = rows[b], rows[a] })
		Rank(rows)
		assert.Equal(t, want, symbolsOf(rows))
		assert.Equal(t, 1, rows[0].Rank)
		assert.Equal(t, len(rows), rows[len(rows)-1].Rank)
	}
}

package builtins

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/domain"
	"backtester/internal/indicator"
	"backtester/internal/strategy"
)

type event struct {
	bar    int
	action strategy.Action
	size   int64
}

// replay drives s over bars and rows, filling every intent immediately at
// the bar's close so the next bar sees the updated position.
func replay(t *testing.T, s strategy.Strategy, tracker *strategy.Tracker, bars []domain.Bar, rows []indicator.Row) []event {
	t.Helper()
	var (
		st     strategy.State
		cash   = 100000.0
		events []event
	)
	for i, bar := range bars {
		in := s.OnBar(bar, rows[i], &st, cash)
		if in.Action == strategy.NoAction {
			continue
		}
		events = append(events, event{bar: i, action: in.Action, size: in.Size})

		side := domain.OrderSideBuy
		if in.Action == strategy.ExitLong {
			side = domain.OrderSideSell
		}
		tracker.Submitted("o", bar, in)
		tracker.OnOrder(domain.Order{ID: "o", Side: side, Status: domain.OrderStatusFilled, FilledQty: in.Size, FilledAvgPrice: bar.Close})
		st.Apply(domain.Fill{Side: side, Qty: in.Size, Price: bar.Close})
		if side == domain.OrderSideBuy {
			cash -= float64(in.Size) * bar.Close
		} else {
			cash += float64(in.Size) * bar.Close
		}
	}
	return events
}

func risingBars(n int) []domain.Bar {
	day0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = domain.Bar{Symbol: "UP", Timestamp: day0.AddDate(0, 0, i), Open: c - 0.25, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1}
	}
	return bars
}

func rowsOf(set *indicator.Set) []indicator.Row {
	rows := make([]indicator.Row, set.Len())
	for i := range rows {
		rows[i] = set.Row(i)
	}
	return rows
}

func TestTrendChangeMonotonicRiseEntersOnceAtFirstBar(t *testing.T) {
	p := strategy.DefaultTrendChangeParams()
	p.ATRWindow = 5
	p.EnterOnFirstBar = true

	bars := risingBars(30)
	set, err := indicator.Derive(bars, p.Indicators())
	require.NoError(t, err)

	tracker := strategy.NewTracker(nil)
	events := replay(t, NewTrendChange(p, tracker), tracker, bars, rowsOf(set))

	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].bar)
	assert.Equal(t, strategy.EnterLong, events[0].action)
	// floor(100000 * 0.8 / 100)
	assert.Equal(t, int64(800), events[0].size)
}

func TestTrendChangeSuppressesFirstBarByDefault(t *testing.T) {
	p := strategy.DefaultTrendChangeParams()
	p.ATRWindow = 5

	bars := risingBars(30)
	set, err := indicator.Derive(bars, p.Indicators())
	require.NoError(t, err)

	tracker := strategy.NewTracker(nil)
	events := replay(t, NewTrendChange(p, tracker), tracker, bars, rowsOf(set))
	assert.Empty(t, events)
}

func TestTrendChangeEntersAndExitsOnTransitions(t *testing.T) {
	bars := risingBars(6)
	dirs := []int{indicator.Down, indicator.Down, indicator.Up, indicator.Up, indicator.Down, indicator.Up}
	rows := make([]indicator.Row, len(dirs))
	for i, d := range dirs {
		rows[i] = indicator.Row{Direction: d}
	}

	tracker := strategy.NewTracker(nil)
	events := replay(t, NewTrendChange(strategy.DefaultTrendChangeParams(), tracker), tracker, bars, rows)

	require.Len(t, events, 3)
	assert.Equal(t, event{bar: 2, action: strategy.EnterLong, size: events[0].size}, events[0])
	assert.Equal(t, 4, events[1].bar)
	assert.Equal(t, strategy.ExitLong, events[1].action)
	assert.Equal(t, events[0].size, events[1].size)
	assert.Equal(t, 5, events[2].bar)
	assert.Equal(t, strategy.EnterLong, events[2].action)
}

func TestTrendChangeWaitsForPendingOrder(t *testing.T) {
	tracker := strategy.NewTracker(nil)
	s := NewTrendChange(strategy.DefaultTrendChangeParams(), tracker)
	bar := risingBars(1)[0]

	st := strategy.State{LastDirection: indicator.Down}
	tracker.Submitted("open", bar, strategy.Intent{Action: strategy.EnterLong, Size: 1})

	in := s.OnBar(bar, indicator.Row{Direction: indicator.Up}, &st, 1000)
	assert.Equal(t, strategy.None, in)
	// A skipped bar does not consume the transition.
	assert.Equal(t, indicator.Down, st.LastDirection)

	tracker.OnOrder(domain.Order{ID: "open", Status: domain.OrderStatusCancelled})
	in = s.OnBar(bar, indicator.Row{Direction: indicator.Up}, &st, 1000)
	assert.Equal(t, strategy.EnterLong, in.Action)
}

func TestRSIDiffEntersWhenCrossingThreshold(t *testing.T) {
	bars := risingBars(15)
	rows := make([]indicator.Row, len(bars))
	for i := range rows {
		rows[i] = indicator.Row{RSIDiff: 10}
	}
	rows[10].RSIDiff = 25
	rows[11].RSIDiff = 25

	p := strategy.DefaultRSIDiffParams()
	require.Equal(t, 20.0, p.RSIDiffThreshold)

	tracker := strategy.NewTracker(nil)
	events := replay(t, NewRSIDiff(p, tracker), tracker, bars, rows)

	require.Len(t, events, 1)
	assert.Equal(t, 10, events[0].bar)
	assert.Equal(t, strategy.EnterLong, events[0].action)
	assert.Equal(t, strategy.PositionSize(100000, 0.8, bars[10].Close), events[0].size)
}

func TestRSIDiffExitsBelowNegativeThreshold(t *testing.T) {
	bars := risingBars(5)
	vals := []float64{25, -10, -20, -20.5, 30}
	rows := make([]indicator.Row, len(vals))
	for i, v := range vals {
		rows[i] = indicator.Row{RSIDiff: v}
	}

	tracker := strategy.NewTracker(nil)
	events := replay(t, NewRSIDiff(strategy.DefaultRSIDiffParams(), tracker), tracker, bars, rows)

	require.Len(t, events, 3)
	assert.Equal(t, []int{0, 3, 4}, []int{events[0].bar, events[1].bar, events[2].bar})
	assert.Equal(t, strategy.ExitLong, events[1].action)
}

func TestRSIDiffIgnoresUndefinedSpread(t *testing.T) {
	tracker := strategy.NewTracker(nil)
	s := NewRSIDiff(strategy.DefaultRSIDiffParams(), tracker)
	var st strategy.State
	in := s.OnBar(risingBars(1)[0], indicator.Row{RSIDiff: math.NaN()}, &st, 1000)
	assert.Equal(t, strategy.None, in)
}

// No strategy may enter while holding or exit while flat, whatever the
// indicator sequence.
func TestStrategiesNeverDoubleEnterOrExitFlat(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bars := risingBars(500)
	rows := make([]indicator.Row, len(bars))
	for i := range rows {
		d := indicator.Up
		if rng.Intn(2) == 0 {
			d = indicator.Down
		}
		rows[i] = indicator.Row{Direction: d, RSIDiff: rng.Float64()*100 - 50}
	}

	tc := strategy.DefaultTrendChangeParams()
	tc.EnterOnFirstBar = true
	for _, p := range []strategy.Params{tc, strategy.DefaultRSIDiffParams()} {
		tracker := strategy.NewTracker(nil)
		s, err := New(p, tracker)
		require.NoError(t, err)

		holding := false
		for _, ev := range replay(t, s, tracker, bars, rows) {
			switch ev.action {
			case strategy.EnterLong:
				require.Falsef(t, holding, "%s entered while holding at bar %d", s.Name(), ev.bar)
				holding = true
			case strategy.ExitLong:
				require.Truef(t, holding, "%s exited while flat at bar %d", s.Name(), ev.bar)
				holding = false
			}
		}
	}
}

func TestNewDispatchesByKind(t *testing.T) {
	s, err := New(strategy.DefaultTrendChangeParams(), nil)
	require.NoError(t, err)
	assert.Equal(t, "trend-change", s.Name())

	s, err = New(strategy.DefaultRSIDiffParams(), nil)
	require.NoError(t, err)
	assert.Equal(t, "rsi-diff", s.Name())

	assert.ElementsMatch(t, strategy.Kinds, NewRegistry().List())
}

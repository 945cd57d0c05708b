package builtins

import (
	"backtester/internal/domain"
	"backtester/internal/indicator"
	"backtester/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*TrendChange)(nil)

// TrendChange enters long when the trend direction turns up and exits when
// it turns down. Bars without a direction change produce no order.
type TrendChange struct {
	params  strategy.TrendChangeParams
	tracker *strategy.Tracker
}

// NewTrendChange creates a TrendChange strategy.
func NewTrendChange(p strategy.TrendChangeParams, tracker *strategy.Tracker) *TrendChange {
	if tracker == nil {
		tracker = strategy.NewTracker(nil)
	}
	return &TrendChange{params: p, tracker: tracker}
}

// Name returns "trend-change".
func (s *TrendChange) Name() string {
	return string(strategy.KindTrendChange)
}

// OnBar compares the bar's direction to the last one seen.
func (s *TrendChange) OnBar(bar domain.Bar, row indicator.Row, st *strategy.State, cash float64) strategy.Intent {
	if s.tracker.Pending() {
		return strategy.None
	}

	dir := row.Direction
	defer func() { st.LastDirection = dir }()

	if st.LastDirection == 0 && !s.params.EnterOnFirstBar {
		return strategy.None
	}
	if dir == st.LastDirection {
		return strategy.None
	}

	switch {
	case dir == indicator.Up && !st.Holding:
		size := strategy.PositionSize(cash, s.params.PositionSize, bar.Close)
		if size <= 0 {
			return strategy.None
		}
		return strategy.Intent{Action: strategy.EnterLong, Size: size}
	case dir == indicator.Down && st.Holding:
		return strategy.Intent{Action: strategy.ExitLong, Size: st.Size}
	}
	return strategy.None
}

package builtins

import (
	"backtester/internal/domain"
	"backtester/internal/indicator"
	"backtester/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RSIDiff)(nil)

// RSIDiff trades the spread between the long and short RSI: it enters when
// the spread rises above the threshold and exits when it falls below the
// negated threshold. An undefined spread never triggers.
type RSIDiff struct {
	params  strategy.RSIDiffParams
	tracker *strategy.Tracker
}

// NewRSIDiff creates an RSIDiff strategy.
func NewRSIDiff(p strategy.RSIDiffParams, tracker *strategy.Tracker) *RSIDiff {
	if tracker == nil {
		tracker = strategy.NewTracker(nil)
	}
	return &RSIDiff{params: p, tracker: tracker}
}

// Name returns "rsi-diff".
func (s *RSIDiff) Name() string {
	return string(strategy.KindRSIDiff)
}

func (s *RSIDiff) OnBar(bar domain.Bar, row indicator.Row, st *strategy.State, cash float64) strategy.Intent {
	if s.tracker.Pending() {
		return strategy.None
	}

	if !st.Holding {
		if row.RSIDiff > s.params.RSIDiffThreshold {
			size := strategy.PositionSize(cash, s.params.PositionSize, bar.Close)
			if size > 0 {
				return strategy.Intent{Action: strategy.EnterLong, Size: size}
			}
		}
		return strategy.None
	}

	if row.RSIDiff < -s.params.RSIDiffThreshold {
		return strategy.Intent{Action: strategy.ExitLong, Size: st.Size}
	}
	return strategy.None
}

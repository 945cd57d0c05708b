// Package engine runs one strategy over one instrument's bars against a
// simulated broker and records the resulting equity and return series.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"backtester/internal/broker"
	"backtester/internal/domain"
	"backtester/internal/indicator"
	"backtester/internal/perf"
	"backtester/internal/strategy"
)

// Feed is the augmented price series consumed by the engine: bars plus the
// indicator rows aligned with them.
type Feed struct {
	Symbol     string
	Bars       []domain.Bar
	Indicators *indicator.Set
}

// Validate checks that the feed is non-empty and aligned.
func (f Feed) Validate() error {
	if len(f.Bars) == 0 {
		return fmt.Errorf("feed %s: no bars: %w", f.Symbol, domain.ErrDataUnavailable)
	}
	if f.Indicators == nil || f.Indicators.Len() != len(f.Bars) {
		return fmt.Errorf("feed %s: indicator rows do not match %d bars: %w", f.Symbol, len(f.Bars), domain.ErrComputation)
	}
	return nil
}

// Result is the outcome of a single simulation.
type Result struct {
	Equity      perf.Series
	Returns     perf.Series
	Fills       []domain.Fill
	Orders      []domain.Order
	FinalCash   float64
	FinalEquity float64
}

// Engine simulates strategies with a fixed starting cash and commission.
type Engine struct {
	initialCash float64
	commission  float64
	logger      *slog.Logger
}

// NewEngine creates an Engine. commission is a fraction of notional charged
// per fill.
func NewEngine(initialCash, commission float64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		initialCash: initialCash,
		commission:  commission,
		logger:      logger,
	}
}

// Run drives strat bar by bar. On each bar it fills orders queued on the
// previous bar at this bar's open, marks the position at the close, asks the
// strategy for an intent and submits it. Returns are measured close to
// close, the first against the starting cash.
//
// The context is checked between bars.
func (e *Engine) Run(ctx context.Context, feed Feed, strat strategy.Strategy, tracker *strategy.Tracker) (*Result, error) {
	if err := feed.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = strategy.NewTracker(e.logger)
	}

	sim := broker.NewSimulatorBroker(e.initialCash, e.commission)
	st := &strategy.State{}
	res := &Result{}
	prev := e.initialCash

	for i, bar := range feed.Bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		done, fills := sim.ProcessBar(bar)
		for _, f := range fills {
			st.Apply(f)
		}
		for _, o := range done {
			tracker.OnOrder(o)
		}
		res.Fills = append(res.Fills, fills...)
		res.Orders = append(res.Orders, done...)

		sim.Mark(bar)
		acct, err := sim.GetAccount(ctx)
		if err != nil {
			return nil, err
		}

		in := strat.OnBar(bar, feed.Indicators.Row(i), st, acct.Cash)
		if in.Action != strategy.NoAction {
			if err := e.submit(ctx, sim, tracker, bar, in); err != nil {
				return nil, err
			}
		}

		res.Equity.Append(bar.Timestamp, acct.Equity)
		res.Returns.Append(bar.Timestamp, acct.Equity/prev-1)
		prev = acct.Equity
	}

	acct, _ := sim.GetAccount(ctx)
	res.FinalCash = acct.Cash
	res.FinalEquity = acct.Equity
	return res, nil
}

func (e *Engine) submit(ctx context.Context, sim broker.Broker, tracker *strategy.Tracker, bar domain.Bar, in strategy.Intent) error {
	side := domain.OrderSideBuy
	if in.Action == strategy.ExitLong {
		side = domain.OrderSideSell
	}
	placed, err := sim.SubmitOrder(ctx, &domain.Order{
		Symbol:    bar.Symbol,
		Side:      side,
		Qty:       in.Size,
		CreatedAt: bar.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("submit on %s: %v: %w", bar.Date(), err, domain.ErrComputation)
	}
	tracker.Submitted(placed.ID, bar, in)
	return nil
}

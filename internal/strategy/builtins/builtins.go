// Package builtins provides the strategy implementations that ship with the
// backtester.
package builtins

import (
	"fmt"

	"backtester/internal/domain"
	"backtester/internal/strategy"
)

// NewRegistry returns a Registry with every built-in strategy registered.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(strategy.KindTrendChange, func(p strategy.Params, t *strategy.Tracker) (strategy.Strategy, error) {
		tp, ok := p.(strategy.TrendChangeParams)
		if !ok {
			return nil, fmt.Errorf("trend-change: unexpected params %T: %w", p, domain.ErrConfig)
		}
		return NewTrendChange(tp, t), nil
	})
	r.Register(strategy.KindRSIDiff, func(p strategy.Params, t *strategy.Tracker) (strategy.Strategy, error) {
		rp, ok := p.(strategy.RSIDiffParams)
		if !ok {
			return nil, fmt.Errorf("rsi-diff: unexpected params %T: %w", p, domain.ErrConfig)
		}
		return NewRSIDiff(rp, t), nil
	})
	return r
}

var defaultRegistry = NewRegistry()

// New builds the built-in strategy for p.
func New(p strategy.Params, tracker *strategy.Tracker) (strategy.Strategy, error) {
	return defaultRegistry.New(p, tracker)
}

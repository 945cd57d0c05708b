// Package backtest orchestrates backtests: a single run over one instrument,
// a batch of instruments sharing one strategy configuration, and a grid
// search over strategy parameters for one instrument. Failed runs never
// abort a batch; they surface as rows with undefined metrics.
package backtest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/perf"
	"backtester/internal/strategy"
)

// ErrSkipped marks runs that were queued but never started because the
// caller cancelled the batch.
var ErrSkipped = errors.New("run skipped")

// Mode names how a run was requested.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeBatch    Mode = "batch"
	ModeOptimize Mode = "optimize"
)

// Request describes one backtest.
type Request struct {
	Symbol      string
	Start       time.Time
	End         time.Time
	InitialCash float64
	Commission  float64 // fraction of notional per fill
	Params      strategy.Params
}

// Validate checks the request. Failures wrap domain.ErrConfig.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Symbol) == "":
		return fmt.Errorf("symbol is required: %w", domain.ErrConfig)
	case r.Params == nil:
		return fmt.Errorf("strategy params are required: %w", domain.ErrConfig)
	case r.Start.IsZero() || r.End.IsZero():
		return fmt.Errorf("start and end dates are required: %w", domain.ErrConfig)
	case r.End.Before(r.Start):
		return fmt.Errorf("end %s before start %s: %w", r.End.Format(time.DateOnly), r.Start.Format(time.DateOnly), domain.ErrConfig)
	case !(r.InitialCash > 0):
		return fmt.Errorf("initial cash must be positive, got %v: %w", r.InitialCash, domain.ErrConfig)
	case !(r.Commission >= 0 && r.Commission < 1):
		return fmt.Errorf("commission must be in [0, 1), got %v: %w", r.Commission, domain.ErrConfig)
	}
	return r.Params.Validate()
}

// Result is the outcome of one run. When Err is set the metrics in Summary
// are undefined and Returns may be empty.
type Result struct {
	ID          string
	Mode        Mode
	Symbol      string
	Strategy    strategy.Kind
	Params      strategy.Params
	Start       time.Time
	End         time.Time
	Returns     perf.Series
	Equity      perf.Series
	Fills       []domain.Fill
	FinalEquity float64
	Summary     perf.Summary
	Err         error
	Elapsed     time.Duration
}

// OK reports whether the run completed.
func (r *Result) OK() bool { return r.Err == nil }

// Key labels the run's parameter combination.
func (r *Result) Key() string {
	if r.Params == nil {
		return ""
	}
	return strategy.Key(r.Params)
}

// Progress is reported after every finished or skipped run of a batch or
// grid search.
type Progress struct {
	Done   int
	Total  int
	Symbol string
	Key    string
	Err    error
}

// ProgressFunc receives progress updates. It is called from worker
// goroutines and must be safe for concurrent use.
type ProgressFunc func(Progress)

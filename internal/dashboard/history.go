package dashboard

import (
	"strings"

	"backtester/pkg/backtester"
)

// RunFilter selects persisted runs for display. Empty fields match
// everything.
type RunFilter struct {
	Mode     string
	Symbol   string
	Strategy string
	Failed   bool // only runs that ended with an error
}

// FilterRuns returns the runs matching f, preserving order.
func FilterRuns(runs []backtester.RunSummary, f RunFilter) []backtester.RunSummary {
	var out []backtester.RunSummary
	for _, r := range runs {
		if f.Mode != "" && !strings.EqualFold(r.Mode, f.Mode) {
			continue
		}
		if f.Symbol != "" && !strings.EqualFold(r.Symbol, f.Symbol) {
			continue
		}
		if f.Strategy != "" && !strings.EqualFold(r.Strategy, f.Strategy) {
			continue
		}
		if f.Failed && r.Error == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// HistoryStats summarises a list of runs.
type HistoryStats struct {
	Runs    int
	Failed  int
	Symbols int
	Best    *backtester.RunSummary // highest defined Sharpe
}

// SummarizeRuns computes HistoryStats over runs.
func SummarizeRuns(runs []backtester.RunSummary) HistoryStats {
	st := HistoryStats{Runs: len(runs)}
	symbols := make(map[string]bool)
	for i := range runs {
		r := &runs[i]
		symbols[r.Symbol] = true
		if r.Error != "" {
			st.Failed++
		}
		if r.Sharpe != nil && (st.Best == nil || *r.Sharpe > *st.Best.Sharpe) {
			st.Best = r
		}
	}
	st.Symbols = len(symbols)
	return st
}

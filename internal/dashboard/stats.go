// Package dashboard provides sorting, tier grouping and terminal rendering
// of backtest result tables, shared by the CLI and the REST dashboard.
package dashboard

import (
	"sort"
	"strconv"
	"strings"

	"backtester/pkg/backtester"
)

// Sort modes for result tables.
const (
	SortSharpe    = 0 // Sharpe ratio (default)
	SortCalmar    = 1 // Calmar ratio
	SortCAGR      = 2 // compound annual growth
	SortDrawdown  = 3 // shallowest drawdown first
	SortReturn    = 4 // cumulative return
	SortSymbol    = 5 // alphabetical
	SortModeCount = 6
)

// SortModeLabel returns a short label for the given sort mode.
func SortModeLabel(mode int) string {
	switch mode {
	case SortSharpe:
		return "SHARPE"
	case SortCalmar:
		return "CALMAR"
	case SortCAGR:
		return "CAGR"
	case SortDrawdown:
		return "MDD"
	case SortReturn:
		return "RET"
	case SortSymbol:
		return "SYM"
	default:
		return "?"
	}
}

// ParseSortMode accepts a mode number or a label (case-insensitive).
// Anything else selects SortSharpe.
func ParseSortMode(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 0 && n < SortModeCount {
			return n
		}
		return SortSharpe
	}
	switch strings.ToUpper(s) {
	case "CALMAR":
		return SortCalmar
	case "CAGR":
		return SortCAGR
	case "MDD", "DRAWDOWN", "MAX_DRAWDOWN":
		return SortDrawdown
	case "RET", "RETURN", "CUMULATIVE_RETURN":
		return SortReturn
	case "SYM", "SYMBOL":
		return SortSymbol
	}
	return SortSharpe
}

// metric returns the sort value of r for mode. ok is false when the
// metric is undefined.
func metric(r *backtester.Row, mode int) (float64, bool) {
	var v *float64
	switch mode {
	case SortCalmar:
		v = r.Calmar
	case SortCAGR:
		v = r.CAGR
	case SortDrawdown:
		v = r.MaxDrawdown
	case SortReturn:
		v = r.CumulativeReturn
	default:
		v = r.Sharpe
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// SortRows sorts rows by mode, best first. Rows with an undefined metric
// keep their relative order after every defined row. Drawdowns are
// non-positive, so larger is shallower and sorts first.
func SortRows(rows []backtester.Row, mode int) {
	sort.SliceStable(rows, func(i, j int) bool {
		if mode == SortSymbol {
			if rows[i].Symbol != rows[j].Symbol {
				return rows[i].Symbol < rows[j].Symbol
			}
			return rows[i].Key < rows[j].Key
		}
		vi, oki := metric(&rows[i], mode)
		vj, okj := metric(&rows[j], mode)
		switch {
		case oki && !okj:
			return true
		case !oki:
			return false
		}
		return vi > vj
	})
}

// TopN returns the first n rows, or all of them when n <= 0.
func TopN(rows []backtester.Row, n int) []backtester.Row {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[:n]
}

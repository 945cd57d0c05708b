package backtest

import (
	"math"
	"sort"

	"backtester/internal/perf"
	"backtester/internal/strategy"
)

// Row is one line of a ranked batch or grid-search table.
type Row struct {
	Rank             int            `json:"rank"`
	RunID            string         `json:"run_id,omitempty"`
	Symbol           string         `json:"symbol"`
	Strategy         strategy.Kind  `json:"strategy"`
	Key              string         `json:"key"`
	Params           map[string]any `json:"params,omitempty"`
	Sharpe           perf.Value     `json:"sharpe"`
	Calmar           perf.Value     `json:"calmar"`
	CAGR             perf.Value     `json:"cagr"`
	MaxDrawdown      perf.Value     `json:"max_drawdown"`
	CumulativeReturn perf.Value     `json:"cumulative_return"`
	Trades           int            `json:"trades"`
	Error            string         `json:"error,omitempty"`
}

// RowOf converts a run result into a table row.
func RowOf(res *Result) Row {
	row := Row{
		RunID:            res.ID,
		Symbol:           res.Symbol,
		Strategy:         res.Strategy,
		Key:              res.Key(),
		Sharpe:           res.Summary.Sharpe,
		Calmar:           res.Summary.Calmar,
		CAGR:             res.Summary.CAGR,
		MaxDrawdown:      res.Summary.MaxDrawdown,
		CumulativeReturn: res.Summary.CumulativeReturn,
		Trades:           len(res.Fills),
	}
	if res.Params != nil {
		row.Params = res.Params.Values()
	}
	if res.Err != nil {
		row.Error = res.Err.Error()
	}
	return row
}

// Ranked reports whether the row has a usable Sharpe ratio.
func (r Row) Ranked() bool {
	return defined(r.Sharpe)
}

// Rank sorts rows by Sharpe ratio, highest first, and numbers them from 1.
// Rows without a defined Sharpe sort after every row that has one. Ties are
// broken by symbol and then parameter key, so the order never depends on
// the order rows were produced in.
func Rank(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		da, db := a.Ranked(), b.Ranked()
		if da != db {
			return da
		}
		if da && a.Sharpe.V != b.Sharpe.V {
			return a.Sharpe.V > b.Sharpe.V
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Key < b.Key
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
}

func defined(v perf.Value) bool {
	return v.Valid && !math.IsNaN(v.V) && !math.IsInf(v.V, 0)
}

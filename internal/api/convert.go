package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"backtester/internal/backtest"
	"backtester/internal/domain"
	"backtester/internal/perf"
	"backtester/internal/store"
	"backtester/internal/strategy"
	"backtester/pkg/backtester"
)

// request builds a runner request from wire fields, applying the
// configured cash and commission defaults.
func (s *Service) request(symbol, start, end, name string, params map[string]any, cash float64, commission *float64) (backtest.Request, error) {
	from, err := parseDate("start", start)
	if err != nil {
		return backtest.Request{}, err
	}
	to, err := parseDate("end", end)
	if err != nil {
		return backtest.Request{}, err
	}
	p, err := ParamsOf(name, params)
	if err != nil {
		return backtest.Request{}, err
	}

	req := backtest.Request{
		Symbol:      strings.ToUpper(strings.TrimSpace(symbol)),
		Start:       from,
		End:         to,
		InitialCash: s.defaults.InitialCash,
		Commission:  s.defaults.Commission,
		Params:      p,
	}
	if cash != 0 {
		req.InitialCash = cash
	}
	if commission != nil {
		req.Commission = *commission
	}
	return req, nil
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%s date is required: %w", field, domain.ErrConfig)
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s date %q: want YYYY-MM-DD: %w", field, s, domain.ErrConfig)
	}
	return t, nil
}

// ParamsOf resolves a strategy name and parameter overrides, keyed by the
// names listed in the strategy catalog, into validated params.
func ParamsOf(name string, overrides map[string]any) (strategy.Params, error) {
	var cfg strategy.Config
	if len(overrides) > 0 {
		b, err := json.Marshal(overrides)
		if err != nil {
			return nil, fmt.Errorf("encoding params: %v: %w", err, domain.ErrConfig)
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("params: %v: %w", err, domain.ErrConfig)
		}
	}
	cfg.Strategy = name
	return cfg.Build()
}

// GridOf converts a wire grid into a runner grid for kind. An empty grid
// selects the default search space.
func GridOf(kind strategy.Kind, axes map[string][]float64) (backtest.Grid, error) {
	if len(axes) == 0 {
		return backtest.DefaultGrid(kind)
	}
	switch kind {
	case strategy.KindTrendChange:
		var g backtest.TrendChangeGrid
		for name, vals := range axes {
			var err error
			switch name {
			case "atr_window":
				g.ATRWindows, err = ints(name, vals)
			case "atr_multiplier":
				g.ATRMultipliers = vals
			case "direction_threshold":
				g.DirectionThresholds = vals
			default:
				err = fmt.Errorf("grid: %s has no parameter %q: %w", kind, name, domain.ErrConfig)
			}
			if err != nil {
				return nil, err
			}
		}
		return g, nil
	case strategy.KindRSIDiff:
		var g backtest.RSIDiffGrid
		for name, vals := range axes {
			var err error
			switch name {
			case "rsi_short":
				g.Shorts, err = ints(name, vals)
			case "rsi_long":
				g.Longs, err = ints(name, vals)
			case "rsi_diff_threshold":
				g.Thresholds = vals
			default:
				err = fmt.Errorf("grid: %s has no parameter %q: %w", kind, name, domain.ErrConfig)
			}
			if err != nil {
				return nil, err
			}
		}
		return g, nil
	}
	return nil, fmt.Errorf("grid: unknown strategy %q: %w", kind, domain.ErrConfig)
}

func gridAxes(kind strategy.Kind) []string {
	switch kind {
	case strategy.KindTrendChange:
		return []string{"atr_window", "atr_multiplier", "direction_threshold"}
	case strategy.KindRSIDiff:
		return []string{"rsi_short", "rsi_long", "rsi_diff_threshold"}
	}
	return nil
}

func ints(name string, vals []float64) ([]int, error) {
	out := make([]int, len(vals))
	for i, v := range vals {
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("grid: %s takes whole numbers, got %v: %w", name, v, domain.ErrConfig)
		}
		out[i] = int(v)
	}
	return out, nil
}

// valueOf maps an optional statistic to a nullable wire float.
func valueOf(v perf.Value) *float64 {
	f, ok := v.Float()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func dateOf(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func points(s perf.Series) []backtester.Point {
	out := make([]backtester.Point, 0, s.Len())
	for i, d := range s.Dates {
		v := s.Values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, backtester.Point{Date: dateOf(d), Value: v})
	}
	return out
}

func resultOf(res *backtest.Result) *backtester.BacktestResult {
	out := &backtester.BacktestResult{
		ID:       res.ID,
		Symbol:   res.Symbol,
		Strategy: string(res.Strategy),
		Start:    dateOf(res.Start),
		End:      dateOf(res.End),
		Metrics: backtester.Metrics{
			Sharpe:           valueOf(res.Summary.Sharpe),
			Calmar:           valueOf(res.Summary.Calmar),
			CAGR:             valueOf(res.Summary.CAGR),
			MaxDrawdown:      valueOf(res.Summary.MaxDrawdown),
			CumulativeReturn: valueOf(res.Summary.CumulativeReturn),
			Volatility:       valueOf(res.Summary.Volatility),
			Periods:          res.Summary.Periods,
		},
		FinalEquity: res.FinalEquity,
		Fills:       make([]backtester.Fill, 0, len(res.Fills)),
		Equity:      points(res.Equity),
		Returns:     points(res.Returns),
	}
	if res.Params != nil {
		out.Params = res.Params.Values()
	}
	for _, f := range res.Fills {
		out.Fills = append(out.Fills, backtester.Fill{
			Date:       dateOf(f.Time),
			Side:       string(f.Side),
			Price:      f.Price,
			Qty:        f.Qty,
			Commission: f.Commission,
		})
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func rowOf(r backtest.Row) backtester.Row {
	return backtester.Row{
		Rank:             r.Rank,
		RunID:            r.RunID,
		Symbol:           r.Symbol,
		Strategy:         string(r.Strategy),
		Key:              r.Key,
		Params:           r.Params,
		Sharpe:           valueOf(r.Sharpe),
		Calmar:           valueOf(r.Calmar),
		CAGR:             valueOf(r.CAGR),
		MaxDrawdown:      valueOf(r.MaxDrawdown),
		CumulativeReturn: valueOf(r.CumulativeReturn),
		Trades:           r.Trades,
		Error:            r.Error,
	}
}

func rowsOf(rows []backtest.Row) []backtester.Row {
	out := make([]backtester.Row, len(rows))
	for i, r := range rows {
		out[i] = rowOf(r)
	}
	return out
}

func batchOf(rep *backtest.BatchReport) *backtester.BatchResult {
	return &backtester.BatchResult{
		Strategy:  string(rep.Strategy),
		Params:    rep.Params,
		Start:     dateOf(rep.Start),
		End:       dateOf(rep.End),
		Rows:      rowsOf(rep.Rows),
		Failed:    rep.Failed,
		ElapsedMS: rep.Elapsed.Milliseconds(),
	}
}

func optimizeOf(rep *backtest.OptimizeReport) *backtester.OptimizeResult {
	out := &backtester.OptimizeResult{
		Symbol:    rep.Symbol,
		Strategy:  string(rep.Strategy),
		Start:     dateOf(rep.Start),
		End:       dateOf(rep.End),
		Rows:      rowsOf(rep.Rows),
		ElapsedMS: rep.Elapsed.Milliseconds(),
	}
	if rep.Best != nil {
		best := rowOf(*rep.Best)
		out.Best = &best
	}
	if h := rep.Heatmap; h != nil {
		cells := make([][]*float64, len(h.Cells))
		for y, row := range h.Cells {
			cells[y] = make([]*float64, len(row))
			for x, v := range row {
				cells[y][x] = valueOf(v)
			}
		}
		out.Heatmap = &backtester.Heatmap{X: h.X, Y: h.Y, XTicks: h.XTicks, YTicks: h.YTicks, Cells: cells}
	}
	return out
}

func runSummaryOf(r *store.RunRecord) backtester.RunSummary {
	sum := backtester.RunSummary{
		ID:               r.ID,
		Mode:             r.Mode,
		Symbol:           r.Symbol,
		Strategy:         r.Strategy,
		Start:            dateOf(r.Start),
		End:              dateOf(r.End),
		Sharpe:           valueOf(r.Sharpe),
		Calmar:           valueOf(r.Calmar),
		CAGR:             valueOf(r.CAGR),
		MaxDrawdown:      valueOf(r.MaxDrawdown),
		CumulativeReturn: valueOf(r.CumulativeReturn),
		Error:            r.Error,
		CreatedAt:        r.CreatedAt,
	}
	if r.Params != "" {
		_ = json.Unmarshal([]byte(r.Params), &sum.Params)
	}
	return sum
}

func progressOf(p backtest.Progress) backtester.Progress {
	out := backtester.Progress{Done: p.Done, Total: p.Total, Symbol: p.Symbol, Key: p.Key}
	if p.Err != nil {
		out.Error = p.Err.Error()
	}
	return out
}

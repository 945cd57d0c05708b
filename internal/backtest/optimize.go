package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"backtester/internal/domain"
	"backtester/internal/gather"
	"backtester/internal/perf"
	"backtester/internal/strategy"
	"backtester/internal/util"
)

// Grid is a Cartesian product of discrete values per strategy parameter.
type Grid interface {
	Kind() strategy.Kind
	// Expand returns one params value per valid combination, filling axes
	// left empty from base. Invalid combinations are dropped.
	Expand(base strategy.Params) ([]strategy.Params, error)
	// Axes names the two parameters shown on a heatmap.
	Axes() (x, y string)
}

// TrendChangeGrid searches ATR window and multiplier, and optionally the
// direction threshold.
type TrendChangeGrid struct {
	ATRWindows          []int     `json:"atr_windows,omitempty" yaml:"atr_windows,omitempty"`
	ATRMultipliers      []float64 `json:"atr_multipliers,omitempty" yaml:"atr_multipliers,omitempty"`
	DirectionThresholds []float64 `json:"direction_thresholds,omitempty" yaml:"direction_thresholds,omitempty"`
}

func (g TrendChangeGrid) Kind() strategy.Kind { return strategy.KindTrendChange }

func (g TrendChangeGrid) Axes() (string, string) { return "atr_window", "atr_multiplier" }

func (g TrendChangeGrid) Expand(base strategy.Params) ([]strategy.Params, error) {
	b, ok := base.(strategy.TrendChangeParams)
	if !ok {
		return nil, fmt.Errorf("grid %s: base params are %s: %w", g.Kind(), kindOf(base), domain.ErrConfig)
	}
	windows := orDefault(g.ATRWindows, b.ATRWindow)
	mults := orDefault(g.ATRMultipliers, b.ATRMultiplier)
	thresholds := orDefault(g.DirectionThresholds, b.DirectionThreshold)

	var out []strategy.Params
	for _, w := range windows {
		for _, m := range mults {
			for _, th := range thresholds {
				p := b
				p.ATRWindow, p.ATRMultiplier, p.DirectionThreshold = w, m, th
				if p.Validate() == nil {
					out = append(out, p)
				}
			}
		}
	}
	return nonEmpty(g.Kind(), out)
}

// RSIDiffGrid searches the short and long RSI windows, and optionally the
// entry threshold.
type RSIDiffGrid struct {
	Shorts     []int     `json:"rsi_shorts,omitempty" yaml:"rsi_shorts,omitempty"`
	Longs      []int     `json:"rsi_longs,omitempty" yaml:"rsi_longs,omitempty"`
	Thresholds []float64 `json:"rsi_diff_thresholds,omitempty" yaml:"rsi_diff_thresholds,omitempty"`
}

func (g RSIDiffGrid) Kind() strategy.Kind { return strategy.KindRSIDiff }

func (g RSIDiffGrid) Axes() (string, string) { return "rsi_short", "rsi_long" }

func (g RSIDiffGrid) Expand(base strategy.Params) ([]strategy.Params, error) {
	b, ok := base.(strategy.RSIDiffParams)
	if !ok {
		return nil, fmt.Errorf("grid %s: base params are %s: %w", g.Kind(), kindOf(base), domain.ErrConfig)
	}
	shorts := orDefault(g.Shorts, b.RSIShort)
	longs := orDefault(g.Longs, b.RSILong)
	thresholds := orDefault(g.Thresholds, b.RSIDiffThreshold)

	var out []strategy.Params
	for _, s := range shorts {
		for _, l := range longs {
			for _, th := range thresholds {
				p := b
				p.RSIShort, p.RSILong, p.RSIDiffThreshold = s, l, th
				if p.Validate() == nil {
					out = append(out, p)
				}
			}
		}
	}
	return nonEmpty(g.Kind(), out)
}

// DefaultGrid returns the stock search space for kind: ATR windows 5..50
// step 5 by multipliers 1..5 step 0.5, or RSI short windows 3..19 step 2 by
// long windows 20..50 step 5.
func DefaultGrid(kind strategy.Kind) (Grid, error) {
	switch kind {
	case strategy.KindTrendChange:
		return TrendChangeGrid{
			ATRWindows:     IntRange(5, 50, 5),
			ATRMultipliers: FloatRange(1, 5, 0.5),
		}, nil
	case strategy.KindRSIDiff:
		return RSIDiffGrid{
			Shorts: IntRange(3, 19, 2),
			Longs:  IntRange(20, 50, 5),
		}, nil
	}
	return nil, fmt.Errorf("no default grid for strategy %q: %w", kind, domain.ErrConfig)
}

// IntRange returns from, from+step, ... up to and including to.
func IntRange(from, to, step int) []int {
	if step <= 0 {
		return nil
	}
	var out []int
	for v := from; v <= to; v += step {
		out = append(out, v)
	}
	return out
}

// FloatRange returns from, from+step, ... up to and including to, rounded
// to nine decimals.
func FloatRange(from, to, step float64) []float64 {
	if !(step > 0) {
		return nil
	}
	var out []float64
	for i := 0; ; i++ {
		v := math.Round((from+float64(i)*step)*1e9) / 1e9
		if v > to+1e-9 {
			break
		}
		out = append(out, v)
	}
	return out
}

func orDefault[T any](vals []T, def T) []T {
	if len(vals) == 0 {
		return []T{def}
	}
	return vals
}

func nonEmpty(kind strategy.Kind, out []strategy.Params) ([]strategy.Params, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("grid %s: no valid parameter combination: %w", kind, domain.ErrConfig)
	}
	return out, nil
}

func kindOf(p strategy.Params) string {
	if p == nil {
		return "nil"
	}
	return string(p.Kind())
}

// Heatmap lays the best Sharpe ratio of each (x, y) cell out as a matrix.
// Cells where no combination produced a defined Sharpe are undefined.
type Heatmap struct {
	X      string         `json:"x"`
	Y      string         `json:"y"`
	XTicks []string       `json:"x_ticks"`
	YTicks []string       `json:"y_ticks"`
	Cells  [][]perf.Value `json:"cells"` // [y][x]
}

// OptimizeReport is the ranked outcome of a grid search.
type OptimizeReport struct {
	Symbol   string        `json:"symbol"`
	Strategy strategy.Kind `json:"strategy"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Rows     []Row         `json:"rows"`
	Best     *Row          `json:"best,omitempty"`
	Heatmap  *Heatmap      `json:"heatmap,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`

	Results []*Result `json:"-"`
}

// Optimize backtests every combination of grid for tmpl.Symbol and picks
// the one with the highest Sharpe ratio. tmpl.Params, when set, supplies
// values for axes the grid leaves empty.
//
// The bars are fetched once and shared by every combination. When no
// combination yields a defined Sharpe ratio the report is still returned,
// with Best nil, together with an error wrapping
// domain.ErrNoViableParameters.
func (r *Runner) Optimize(ctx context.Context, tmpl Request, grid Grid, progress ProgressFunc) (*OptimizeReport, error) {
	if grid == nil {
		return nil, fmt.Errorf("optimize: no grid: %w", domain.ErrConfig)
	}
	if tmpl.Params == nil {
		p, err := strategy.Config{Strategy: string(grid.Kind())}.Build()
		if err != nil {
			return nil, err
		}
		tmpl.Params = p
	}
	if tmpl.Params.Kind() != grid.Kind() {
		return nil, fmt.Errorf("optimize: %s grid with %s params: %w", grid.Kind(), tmpl.Params.Kind(), domain.ErrConfig)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	combos, err := grid.Expand(tmpl.Params)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	r.log.Info("optimize started", "symbol", tmpl.Symbol, "strategy", grid.Kind(), "combinations", len(combos))

	shared := *r
	shared.source = r.prefetch(ctx, tmpl)

	results := make([]*Result, len(combos))
	pc := &progressCounter{fn: progress, total: len(combos)}
	runAll(ctx, r.workers, len(combos),
		func(ctx context.Context, i int) {
			req := tmpl
			req.Params = combos[i]
			results[i] = shared.run(ctx, req, ModeOptimize)
			pc.report(results[i])
		},
		func(i int, err error) {
			req := tmpl
			req.Params = combos[i]
			results[i] = skipped(req, tmpl.Symbol, ModeOptimize, err)
			pc.report(results[i])
		},
	)

	rep := &OptimizeReport{
		Symbol:   tmpl.Symbol,
		Strategy: grid.Kind(),
		Start:    tmpl.Start,
		End:      tmpl.End,
		Rows:     make([]Row, len(results)),
		Results:  results,
	}
	for i, res := range results {
		rep.Rows[i] = RowOf(res)
	}
	rep.Heatmap = buildHeatmap(grid, rep.Rows)
	Rank(rep.Rows)
	rep.Elapsed = time.Since(started)

	if len(rep.Rows) == 0 || !rep.Rows[0].Ranked() {
		r.log.Warn("optimize found no viable parameters", "symbol", tmpl.Symbol, "combinations", len(combos))
		return rep, fmt.Errorf("optimize %s: %d combinations: %w", tmpl.Symbol, len(combos), domain.ErrNoViableParameters)
	}
	best := rep.Rows[0]
	rep.Best = &best

	r.log.Info("optimize done",
		"symbol", tmpl.Symbol,
		"best", best.Key,
		"sharpe", best.Sharpe,
		"elapsed", rep.Elapsed.Round(time.Millisecond),
	)
	return rep, nil
}

// prefetch loads the warm-up extended series for tmpl once.
func (r *Runner) prefetch(ctx context.Context, tmpl Request) gather.Source {
	start := util.TradingDaysBefore(gather.Day(tmpl.Start), r.warmup)
	bars, err := r.source.FetchBars(ctx, tmpl.Symbol, start, gather.Day(tmpl.End))
	return &staticSource{name: r.source.Name(), bars: bars, err: err}
}

// staticSource serves an already fetched series.
type staticSource struct {
	name string
	bars []domain.Bar
	err  error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) FetchBars(_ context.Context, _ string, start, end time.Time) ([]domain.Bar, error) {
	if s.err != nil {
		return nil, s.err
	}
	return gather.Filter(s.bars, start, end), nil
}

func buildHeatmap(grid Grid, rows []Row) *Heatmap {
	xName, yName := grid.Axes()
	hm := &Heatmap{X: xName, Y: yName}

	xs, ys := map[string]float64{}, map[string]float64{}
	for _, row := range rows {
		xl, xv := tick(row.Params[xName])
		yl, yv := tick(row.Params[yName])
		xs[xl], ys[yl] = xv, yv
	}
	hm.XTicks = sortedTicks(xs)
	hm.YTicks = sortedTicks(ys)

	xi := indexOf(hm.XTicks)
	yi := indexOf(hm.YTicks)
	hm.Cells = make([][]perf.Value, len(hm.YTicks))
	for i := range hm.Cells {
		hm.Cells[i] = make([]perf.Value, len(hm.XTicks))
	}
	for _, row := range rows {
		if !row.Ranked() {
			continue
		}
		xl, _ := tick(row.Params[xName])
		yl, _ := tick(row.Params[yName])
		cell := &hm.Cells[yi[yl]][xi[xl]]
		if !cell.Valid || row.Sharpe.V > cell.V {
			*cell = row.Sharpe
		}
	}
	return hm
}

func tick(v any) (string, float64) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), float64(n)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), n
	}
	return fmt.Sprint(v), 0
}

func sortedTicks(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if m[out[i]] != m[out[j]] {
			return m[out[i]] < m[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func indexOf(ticks []string) map[string]int {
	m := make(map[string]int, len(ticks))
	for i, t := range ticks {
		m[t] = i
	}
	return m
}

package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"backtester/internal/dashboard"
	"backtester/internal/domain"
	"backtester/internal/gather/us"
	"backtester/pkg/backtester"
)

// runFlags are shared by every command that starts a backtest.
type runFlags struct {
	start      string
	end        string
	strategy   string
	params     []string
	cash       float64
	commission float64
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.start, "start", "2020-01-01", "first date of the test (YYYY-MM-DD)")
	fs.StringVar(&f.end, "end", time.Now().Format(time.DateOnly), "last date of the test (YYYY-MM-DD)")
	fs.StringVarP(&f.strategy, "strategy", "s", "trend-change", "strategy: trend-change or rsi-diff")
	fs.StringArrayVarP(&f.params, "param", "p", nil, "strategy parameter override name=value (repeatable)")
	fs.Float64Var(&f.cash, "cash", 0, "initial cash (default from config)")
	fs.Float64Var(&f.commission, "commission", -1, "commission as a fraction of notional (default from config)")
}

func (f *runFlags) commissionPtr() *float64 {
	if f.commission < 0 {
		return nil
	}
	c := f.commission
	return &c
}

func (f *runFlags) request(symbol string) (backtester.BacktestRequest, error) {
	params, err := parseParams(f.params)
	if err != nil {
		return backtester.BacktestRequest{}, err
	}
	return backtester.BacktestRequest{
		Symbol:      symbol,
		Start:       f.start,
		End:         f.end,
		Strategy:    f.strategy,
		Params:      params,
		InitialCash: f.cash,
		Commission:  f.commissionPtr(),
	}, nil
}

// batchRequest collects symbols from args and stock list files.
func (f *runFlags) batchRequest(args, files []string) (backtester.BatchRequest, error) {
	symbols := append([]string(nil), args...)
	if len(files) > 0 {
		listed, err := us.LoadSymbolLists(files)
		if err != nil {
			return backtester.BatchRequest{}, err
		}
		symbols = append(symbols, listed...)
	}
	if len(symbols) == 0 {
		return backtester.BatchRequest{}, errors.New("no symbols: pass them as arguments or with --symbols-file")
	}
	one, err := f.request("")
	if err != nil {
		return backtester.BatchRequest{}, err
	}
	return backtester.BatchRequest{
		Symbols:     symbols,
		Start:       one.Start,
		End:         one.End,
		Strategy:    one.Strategy,
		Params:      one.Params,
		InitialCash: one.InitialCash,
		Commission:  one.Commission,
	}, nil
}

// parseParams turns name=value pairs into a parameter map. Numeric values
// become numbers and true/false become booleans.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, val, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("param %q: want name=value: %w", p, domain.ErrConfig)
		}
		val = strings.TrimSpace(val)
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			out[name] = f
		} else if b, err := strconv.ParseBool(val); err == nil {
			out[name] = b
		} else {
			out[name] = val
		}
	}
	return out, nil
}

// parseGrid turns name=v1,v2,... axes into a grid. A from:to:step value
// expands to the inclusive range.
func parseGrid(axes []string) (map[string][]float64, error) {
	if len(axes) == 0 {
		return nil, nil
	}
	out := make(map[string][]float64, len(axes))
	for _, a := range axes {
		name, expr, ok := strings.Cut(a, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || expr == "" {
			return nil, fmt.Errorf("grid %q: want name=v1,v2 or name=from:to:step: %w", a, domain.ErrConfig)
		}
		vals, err := parseAxis(expr)
		if err != nil {
			return nil, fmt.Errorf("grid %s: %w", name, err)
		}
		out[name] = vals
	}
	return out, nil
}

func parseAxis(expr string) ([]float64, error) {
	if parts := strings.Split(expr, ":"); len(parts) == 3 {
		var r [3]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("range %q: %w", expr, domain.ErrConfig)
			}
			r[i] = v
		}
		from, to, step := r[0], r[1], r[2]
		if step <= 0 || to < from {
			return nil, fmt.Errorf("range %q: want from <= to and a positive step: %w", expr, domain.ErrConfig)
		}
		var vals []float64
		// Count steps instead of accumulating to keep 0.1 increments exact.
		for i := 0; ; i++ {
			v := from + float64(i)*step
			if v > to+step*1e-9 {
				break
			}
			vals = append(vals, math.Round(v*1e9)/1e9)
		}
		return vals, nil
	}
	var vals []float64
	for _, s := range strings.Split(expr, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", s, domain.ErrConfig)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// progressPrinter rewrites one status line on stderr.
func progressPrinter(label string) func(backtester.Progress) {
	return func(p backtester.Progress) {
		status := "ok"
		if p.Error != "" {
			status = "failed"
		}
		name := p.Symbol
		if p.Key != "" && label == "optimize" {
			name = p.Key
		}
		fmt.Fprintf(stderr, "\r%s %d/%d %-40s %s", label, p.Done, p.Total, name, status)
		if p.Done == p.Total {
			fmt.Fprintln(stderr)
		}
	}
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run SYMBOL",
		Short: "Backtest one strategy on one symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(args[0])
			if err != nil {
				return err
			}
			return withBackend(func(b backend) error {
				res, err := b.Backtest(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res)
				}
				dashboard.RenderResult(stdout, res)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		f     runFlags
		files []string
		sortS string
		top   int
		tiers bool
	)
	cmd := &cobra.Command{
		Use:   "batch [SYMBOL...]",
		Short: "Backtest one strategy across many symbols and rank them by Sharpe",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.batchRequest(args, files)
			if err != nil {
				return err
			}
			return withBackend(func(b backend) error {
				var progress func(backtester.Progress)
				if !jsonOutput {
					progress = progressPrinter("batch")
				}
				res, err := b.Batch(cmd.Context(), req, progress)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res)
				}
				dashboard.RenderTable(stdout, res.Rows, dashboard.TableOptions{
					Title: fmt.Sprintf("BATCH %s %s..%s  failed: %d", res.Strategy, res.Start, res.End, res.Failed),
					Sort:  dashboard.ParseSortMode(sortS),
					TopN:  top,
					Tiers: tiers,
				})
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringArrayVar(&files, "symbols-file", nil, "stock list file (one symbol per line, HSI codes or CSV); repeatable")
	cmd.Flags().StringVar(&sortS, "sort", "sharpe", "sort column: sharpe, calmar, cagr, mdd, ret or symbol")
	cmd.Flags().IntVar(&top, "top", 0, "show at most this many rows (per tier with --tiers)")
	cmd.Flags().BoolVar(&tiers, "tiers", false, "group rows by Sharpe tier")
	return cmd
}

func newOptimizeCmd() *cobra.Command {
	var (
		f    runFlags
		grid []string
		top  int
	)
	cmd := &cobra.Command{
		Use:   "optimize SYMBOL",
		Short: "Grid-search strategy parameters on one symbol",
		Long: `optimize backtests every parameter combination of a grid and ranks
them by Sharpe. Without --grid the default search space of the strategy is
used. Axes are given as name=v1,v2,... or name=from:to:step, for example
--grid atr_window=5:50:5 --grid atr_multiplier=1,2,3.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			one, err := f.request(args[0])
			if err != nil {
				return err
			}
			axes, err := parseGrid(grid)
			if err != nil {
				return err
			}
			req := backtester.OptimizeRequest{
				Symbol:      one.Symbol,
				Start:       one.Start,
				End:         one.End,
				Strategy:    one.Strategy,
				Params:      one.Params,
				InitialCash: one.InitialCash,
				Commission:  one.Commission,
				Grid:        axes,
			}
			return withBackend(func(b backend) error {
				var progress func(backtester.Progress)
				if !jsonOutput {
					progress = progressPrinter("optimize")
				}
				res, runErr := b.Optimize(cmd.Context(), req, progress)
				if res == nil {
					return runErr
				}
				if jsonOutput {
					if err := printJSON(res); err != nil {
						return err
					}
					return runErr
				}
				dashboard.RenderTable(stdout, res.Rows, dashboard.TableOptions{
					Title:  fmt.Sprintf("OPTIMIZE %s %s %s..%s", res.Symbol, res.Strategy, res.Start, res.End),
					TopN:   top,
					Params: true,
				})
				fmt.Fprintln(stdout)
				dashboard.RenderHeatmap(stdout, res.Heatmap)
				if res.Best != nil {
					fmt.Fprintf(stdout, "\nbest: %s  sharpe %s\n", res.Best.Key, dashboard.FormatRatio(res.Best.Sharpe))
				}
				return runErr
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringArrayVarP(&grid, "grid", "g", nil, "grid axis name=v1,v2 or name=from:to:step (repeatable)")
	cmd.Flags().IntVar(&top, "top", 20, "show at most this many combinations")
	return cmd
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the available strategies and their defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(b backend) error {
				infos, err := b.Strategies(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(infos)
				}
				dashboard.RenderStrategies(stdout, infos)
				return nil
			})
		},
	}
}

func newReportCmd() *cobra.Command {
	var (
		f   runFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "report SYMBOL",
		Short: "Write the HTML tearsheet of one backtest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = strings.ToUpper(args[0]) + "-report.html"
			}
			return withBackend(func(b backend) error {
				html, err := b.Report(cmd.Context(), req)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, html, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "wrote %s (%s bytes)\n", out, dashboard.FormatInt(len(html)))
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default SYMBOL-report.html)")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var (
		limit  int
		filter dashboard.RunFilter
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent persisted runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(b backend) error {
				runs, err := b.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				runs = dashboard.FilterRuns(runs, filter)
				if jsonOutput {
					return printJSON(runs)
				}
				dashboard.RenderRuns(stdout, runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of runs to fetch")
	cmd.Flags().StringVar(&filter.Mode, "mode", "", "only runs of this mode (single, batch, optimize)")
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "only runs of this symbol")
	cmd.Flags().StringVar(&filter.Strategy, "strategy", "", "only runs of this strategy")
	cmd.Flags().BoolVar(&filter.Failed, "failed", false, "only failed runs")
	return cmd
}

package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/strategy"
)

// BatchReport is the ranked outcome of running one strategy over many
// instruments. Rows holds one entry per requested symbol, failures
// included.
type BatchReport struct {
	Strategy strategy.Kind  `json:"strategy"`
	Params   map[string]any `json:"params"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Rows     []Row          `json:"rows"`
	Failed   int            `json:"failed"`
	Elapsed  time.Duration  `json:"elapsed_ns"`

	Results []*Result `json:"-"`
}

// Batch backtests tmpl against every symbol concurrently. tmpl.Symbol is
// ignored. An invalid template fails the whole batch with a wrapped
// domain.ErrConfig; anything that goes wrong for an individual symbol only
// degrades that symbol's row.
func (r *Runner) Batch(ctx context.Context, symbols []string, tmpl Request, progress ProgressFunc) (*BatchReport, error) {
	symbols = cleanSymbols(symbols)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("batch: no symbols: %w", domain.ErrConfig)
	}
	check := tmpl
	check.Symbol = symbols[0]
	if err := check.Validate(); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	started := time.Now()
	results := make([]*Result, len(symbols))
	pc := &progressCounter{fn: progress, total: len(symbols)}

	r.log.Info("batch started", "symbols", len(symbols), "strategy", tmpl.Params.Kind(), "workers", r.workers)

	runAll(ctx, r.workers, len(symbols),
		func(ctx context.Context, i int) {
			req := tmpl
			req.Symbol = symbols[i]
			results[i] = r.run(ctx, req, ModeBatch)
			pc.report(results[i])
		},
		func(i int, err error) {
			results[i] = skipped(tmpl, symbols[i], ModeBatch, err)
			pc.report(results[i])
		},
	)

	rep := &BatchReport{
		Strategy: tmpl.Params.Kind(),
		Params:   tmpl.Params.Values(),
		Start:    tmpl.Start,
		End:      tmpl.End,
		Rows:     make([]Row, len(results)),
		Results:  results,
		Elapsed:  time.Since(started),
	}
	for i, res := range results {
		rep.Rows[i] = RowOf(res)
		if !res.OK() {
			rep.Failed++
		}
	}
	Rank(rep.Rows)

	r.log.Info("batch done",
		"symbols", len(symbols),
		"failed", rep.Failed,
		"elapsed", rep.Elapsed.Round(time.Millisecond),
	)
	return rep, nil
}

func skipped(tmpl Request, symbol string, mode Mode, err error) *Result {
	return &Result{
		Mode:     mode,
		Symbol:   symbol,
		Strategy: tmpl.Params.Kind(),
		Params:   tmpl.Params,
		Start:    tmpl.Start,
		End:      tmpl.End,
		Err:      err,
	}
}

// cleanSymbols trims whitespace and drops blank entries. Duplicates are
// kept so that the table has one row per requested symbol.
func cleanSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Package api exposes the backtest runner to the outer surfaces: the REST
// dashboard, the gRPC service and the CLI. It translates wire requests
// into runner calls and runner results into wire responses.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"backtester/internal/backtest"
	"backtester/internal/config"
	"backtester/internal/domain"
	"backtester/internal/perf"
	"backtester/internal/store"
	"backtester/internal/strategy"
	"backtester/pkg/backtester"
)

// Service runs backtests on behalf of remote callers.
type Service struct {
	runner   *backtest.Runner
	runs     store.RunStore
	defaults config.BacktestConfig
	hub      *Hub
	log      *slog.Logger
}

// NewService creates a Service. runs may be nil, in which case run history
// is unavailable.
func NewService(runner *backtest.Runner, runs store.RunStore, defaults config.BacktestConfig) *Service {
	return &Service{
		runner:   runner,
		runs:     runs,
		defaults: defaults,
		hub:      NewHub(),
		log:      slog.Default().With("component", "api"),
	}
}

// Hub returns the hub that receives progress events of every batch and
// grid search.
func (s *Service) Hub() *Hub { return s.hub }

// Strategies lists the available strategies.
func (s *Service) Strategies() []backtester.StrategyInfo {
	cat := strategy.Catalog()
	out := make([]backtester.StrategyInfo, 0, len(cat))
	for _, d := range cat {
		out = append(out, backtester.StrategyInfo{
			Kind:        string(d.Kind),
			Name:        d.Name,
			Description: d.Description,
			Defaults:    d.Defaults,
			GridAxes:    gridAxes(d.Kind),
		})
	}
	return out
}

// Backtest runs one backtest. Only a malformed request is an error; a run
// that fails for data reasons returns a result with Error set.
func (s *Service) Backtest(ctx context.Context, in backtester.BacktestRequest) (*backtester.BacktestResult, error) {
	req, err := s.request(in.Symbol, in.Start, in.End, in.Strategy, in.Params, in.InitialCash, in.Commission)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res := s.runner.Run(ctx, req)
	return resultOf(res), nil
}

// Report runs a backtest and writes its HTML tearsheet to w. Unlike
// Backtest, a failed run is returned as an error since there is nothing to
// render.
func (s *Service) Report(ctx context.Context, in backtester.BacktestRequest, w io.Writer) error {
	req, err := s.request(in.Symbol, in.Start, in.End, in.Strategy, in.Params, in.InitialCash, in.Commission)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	res := s.runner.Run(ctx, req)
	if res.Err != nil {
		return res.Err
	}
	return perf.RenderHTML(w, perf.ReportInput{
		Title:       fmt.Sprintf("%s %s backtest", res.Symbol, res.Strategy.DisplayName()),
		Symbol:      res.Symbol,
		Strategy:    res.Strategy.DisplayName(),
		Params:      res.Params.Values(),
		InitialCash: req.InitialCash,
		Returns:     res.Returns,
	})
}

// Batch runs one strategy over many symbols. onProgress, when set, is
// called from worker goroutines after every symbol.
func (s *Service) Batch(ctx context.Context, in backtester.BatchRequest, onProgress func(backtester.Progress)) (*backtester.BatchResult, error) {
	tmpl, err := s.request("", in.Start, in.End, in.Strategy, in.Params, in.InitialCash, in.Commission)
	if err != nil {
		return nil, err
	}
	rep, err := s.runner.Batch(ctx, in.Symbols, tmpl, s.progress(backtest.ModeBatch, onProgress))
	if err != nil {
		return nil, err
	}
	return batchOf(rep), nil
}

// Optimize grid-searches parameters for one symbol. When no combination is
// viable the ranked result is returned together with an error wrapping
// domain.ErrNoViableParameters.
func (s *Service) Optimize(ctx context.Context, in backtester.OptimizeRequest, onProgress func(backtester.Progress)) (*backtester.OptimizeResult, error) {
	kind, err := strategy.ParseKind(in.Strategy)
	if err != nil {
		return nil, err
	}
	grid, err := GridOf(kind, in.Grid)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.request(in.Symbol, in.Start, in.End, in.Strategy, in.Params, in.InitialCash, in.Commission)
	if err != nil {
		return nil, err
	}

	rep, err := s.runner.Optimize(ctx, tmpl, grid, s.progress(backtest.ModeOptimize, onProgress))
	if rep == nil {
		return nil, err
	}
	out := optimizeOf(rep)
	if err != nil {
		out.Error = err.Error()
	}
	return out, err
}

// Runs lists the most recent persisted runs.
func (s *Service) Runs(ctx context.Context, limit int) ([]backtester.RunSummary, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("run history not configured: %w", domain.ErrUnavailable)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	recs, err := s.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %v: %w", err, domain.ErrUnavailable)
	}
	out := make([]backtester.RunSummary, 0, len(recs))
	for i := range recs {
		out = append(out, runSummaryOf(&recs[i]))
	}
	return out, nil
}

// Run fetches one persisted run.
func (s *Service) Run(ctx context.Context, id string) (*backtester.RunSummary, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("run history not configured: %w", domain.ErrUnavailable)
	}
	rec, err := s.runs.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %v: %w", id, err, domain.ErrUnavailable)
	}
	sum := runSummaryOf(rec)
	return &sum, nil
}

// progress fans runner progress out to the caller and the hub.
func (s *Service) progress(mode backtest.Mode, fn func(backtester.Progress)) backtest.ProgressFunc {
	job := uuid.NewString()
	return func(p backtest.Progress) {
		wp := progressOf(p)
		if fn != nil {
			fn(wp)
		}
		s.hub.Publish(Event{Job: job, Mode: string(mode), Progress: wp})
	}
}

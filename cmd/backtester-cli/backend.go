package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"backtester/internal/api"
	"backtester/internal/config"
	"backtester/internal/util"
	"backtester/pkg/backtester"
)

// backend runs commands in-process, against the REST API or over gRPC.
type backend interface {
	Strategies(ctx context.Context) ([]backtester.StrategyInfo, error)
	Backtest(ctx context.Context, req backtester.BacktestRequest) (*backtester.BacktestResult, error)
	Batch(ctx context.Context, req backtester.BatchRequest, onProgress func(backtester.Progress)) (*backtester.BatchResult, error)
	Optimize(ctx context.Context, req backtester.OptimizeRequest, onProgress func(backtester.Progress)) (*backtester.OptimizeResult, error)
	Report(ctx context.Context, req backtester.BacktestRequest) ([]byte, error)
	Runs(ctx context.Context, limit int) ([]backtester.RunSummary, error)
	Close() error
}

var errNotSupported = errors.New("not supported over gRPC; use an http:// remote or run locally")

// openBackend picks the backend for remote: empty runs locally, grpc://
// dials the gRPC service and anything else is a REST base URL.
func openBackend(remote string) (backend, error) {
	switch {
	case remote == "":
		cfg, err := config.LoadOrDefault(config.PathFromEnv())
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		util.SetDefault(util.NewLogger(logLevel(cfg.Logging.Level), "text", stderr))
		svc, closeFn, err := api.Open(cfg)
		if err != nil {
			return nil, err
		}
		return &localBackend{svc: svc, close: closeFn}, nil
	case strings.HasPrefix(remote, "grpc://"):
		c, err := api.DialGRPC(strings.TrimPrefix(remote, "grpc://"))
		if err != nil {
			return nil, err
		}
		return &grpcBackend{c: c}, nil
	default:
		return &restBackend{c: backtester.NewClient(remote)}, nil
	}
}

type localBackend struct {
	svc   *api.Service
	close func() error
}

func (b *localBackend) Strategies(context.Context) ([]backtester.StrategyInfo, error) {
	return b.svc.Strategies(), nil
}

func (b *localBackend) Backtest(ctx context.Context, req backtester.BacktestRequest) (*backtester.BacktestResult, error) {
	return b.svc.Backtest(ctx, req)
}

func (b *localBackend) Batch(ctx context.Context, req backtester.BatchRequest, fn func(backtester.Progress)) (*backtester.BatchResult, error) {
	return b.svc.Batch(ctx, req, fn)
}

func (b *localBackend) Optimize(ctx context.Context, req backtester.OptimizeRequest, fn func(backtester.Progress)) (*backtester.OptimizeResult, error) {
	return b.svc.Optimize(ctx, req, fn)
}

func (b *localBackend) Report(ctx context.Context, req backtester.BacktestRequest) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.svc.Report(ctx, req, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *localBackend) Runs(ctx context.Context, limit int) ([]backtester.RunSummary, error) {
	return b.svc.Runs(ctx, limit)
}

func (b *localBackend) Close() error { return b.close() }

type restBackend struct {
	c *backtester.Client
}

func (b *restBackend) Strategies(ctx context.Context) ([]backtester.StrategyInfo, error) {
	return b.c.Strategies(ctx)
}

func (b *restBackend) Backtest(ctx context.Context, req backtester.BacktestRequest) (*backtester.BacktestResult, error) {
	return b.c.Backtest(ctx, req)
}

// Batch streams over the websocket endpoint so progress can be shown.
func (b *restBackend) Batch(ctx context.Context, req backtester.BatchRequest, fn func(backtester.Progress)) (*backtester.BatchResult, error) {
	return b.c.StreamBatch(ctx, req, fn)
}

func (b *restBackend) Optimize(ctx context.Context, req backtester.OptimizeRequest, _ func(backtester.Progress)) (*backtester.OptimizeResult, error) {
	return b.c.Optimize(ctx, req)
}

func (b *restBackend) Report(ctx context.Context, req backtester.BacktestRequest) ([]byte, error) {
	return b.c.Report(ctx, req)
}

func (b *restBackend) Runs(ctx context.Context, limit int) ([]backtester.RunSummary, error) {
	return b.c.Runs(ctx, limit)
}

func (b *restBackend) Close() error { return nil }

type grpcBackend struct {
	c *api.GRPCClient
}

func (b *grpcBackend) Strategies(ctx context.Context) ([]backtester.StrategyInfo, error) {
	return b.c.Strategies(ctx)
}

func (b *grpcBackend) Backtest(ctx context.Context, req backtester.BacktestRequest) (*backtester.BacktestResult, error) {
	return b.c.Backtest(ctx, req)
}

func (b *grpcBackend) Batch(ctx context.Context, req backtester.BatchRequest, _ func(backtester.Progress)) (*backtester.BatchResult, error) {
	return b.c.Batch(ctx, req)
}

func (b *grpcBackend) Optimize(ctx context.Context, req backtester.OptimizeRequest, _ func(backtester.Progress)) (*backtester.OptimizeResult, error) {
	return b.c.Optimize(ctx, req)
}

func (b *grpcBackend) Report(context.Context, backtester.BacktestRequest) ([]byte, error) {
	return nil, fmt.Errorf("report: %w", errNotSupported)
}

func (b *grpcBackend) Runs(context.Context, int) ([]backtester.RunSummary, error) {
	return nil, fmt.Errorf("runs: %w", errNotSupported)
}

func (b *grpcBackend) Close() error { return b.c.Close() }

// logLevel keeps the local runner quiet unless debug logging was asked
// for, since the CLI prints its own tables.
func logLevel(configured string) string {
	if verbose {
		return "debug"
	}
	if strings.EqualFold(configured, "debug") {
		return configured
	}
	return "warn"
}

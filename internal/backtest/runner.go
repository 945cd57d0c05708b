package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"

	"backtester/internal/domain"
	"backtester/internal/engine"
	"backtester/internal/gather"
	"backtester/internal/indicator"
	"backtester/internal/perf"
	"backtester/internal/strategy"
	"backtester/internal/strategy/builtins"
	"backtester/internal/util"
)

// DefaultWarmupBars is the number of trading days fetched ahead of the
// requested start so that rolling indicators are defined on the first bar.
const DefaultWarmupBars = 120

// MinWarmupBars is the smallest accepted warm-up window.
const MinWarmupBars = 100

// Runner executes backtests against a price source.
type Runner struct {
	source   gather.Source
	warmup   int
	workers  int
	recorder RunRecorder
	log      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWarmupBars overrides the warm-up window. Values below MinWarmupBars
// are raised to it.
func WithWarmupBars(n int) Option {
	return func(r *Runner) { r.warmup = max(n, MinWarmupBars) }
}

// WithWorkers bounds the number of concurrent runs in a batch or grid search.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithRecorder persists a summary of every run.
func WithRecorder(rec RunRecorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRunner creates a Runner reading bars from source.
func NewRunner(source gather.Source, opts ...Option) *Runner {
	r := &Runner{
		source:  source,
		warmup:  DefaultWarmupBars,
		workers: runtime.NumCPU(),
		log:     slog.Default().With("component", "backtest"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Workers returns the pool size used by Batch and Optimize.
func (r *Runner) Workers() int { return r.workers }

// Run executes a single backtest. It never returns a nil Result: every
// failure, including a panic inside indicator derivation or the simulation,
// is recorded on Result.Err.
func (r *Runner) Run(ctx context.Context, req Request) *Result {
	return r.run(ctx, req, ModeSingle)
}

func (r *Runner) run(ctx context.Context, req Request, mode Mode) (res *Result) {
	res = &Result{
		ID:     uuid.NewString(),
		Mode:   mode,
		Symbol: req.Symbol,
		Params: req.Params,
		Start:  req.Start,
		End:    req.End,
	}
	if req.Params != nil {
		res.Strategy = req.Params.Kind()
	}

	started := time.Now()
	runsInFlight.Inc()
	defer func() {
		runsInFlight.Dec()
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("%s: panic: %v: %w", req.Symbol, p, domain.ErrComputation)
			res.Summary = perf.Summary{}
		}
		res.Elapsed = time.Since(started)
		if res.Err != nil {
			r.log.Warn("backtest failed",
				"symbol", res.Symbol,
				"strategy", res.Strategy,
				"params", res.Key(),
				"err", res.Err,
			)
		} else {
			r.log.Debug("backtest done",
				"symbol", res.Symbol,
				"strategy", res.Strategy,
				"sharpe", res.Summary.Sharpe,
				"elapsed", res.Elapsed.Round(time.Millisecond),
			)
		}
		observeRun(res)
		r.record(ctx, res)
	}()

	if err := req.Validate(); err != nil {
		res.Err = err
		return res
	}
	res.Err = r.simulate(ctx, req, res)
	return res
}

func (r *Runner) simulate(ctx context.Context, req Request, res *Result) error {
	start := gather.Day(req.Start)
	end := gather.Day(req.End)

	bars, err := r.source.FetchBars(ctx, req.Symbol, r.warmupStart(start), end)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", req.Symbol, err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("fetch %s: empty series: %w", req.Symbol, domain.ErrDataUnavailable)
	}
	if err := domain.ValidateSeries(bars); err != nil {
		return fmt.Errorf("%s: %w", req.Symbol, err)
	}

	set, err := indicator.Derive(bars, req.Params.Indicators())
	if err != nil {
		return fmt.Errorf("derive %s: %w", req.Symbol, err)
	}

	from, to := trimRange(bars, start, end)
	if from >= to {
		return fmt.Errorf("%s: no bars between %s and %s: %w", req.Symbol,
			start.Format(time.DateOnly), end.Format(time.DateOnly), domain.ErrDataUnavailable)
	}

	tracker := strategy.NewTracker(r.log.With("symbol", req.Symbol))
	strat, err := builtins.New(req.Params, tracker)
	if err != nil {
		return err
	}

	eng := engine.NewEngine(req.InitialCash, req.Commission, r.log)
	out, err := eng.Run(ctx, engine.Feed{
		Symbol:     req.Symbol,
		Bars:       bars[from:to],
		Indicators: set.Slice(from, to),
	}, strat, tracker)
	if err != nil {
		return fmt.Errorf("simulate %s: %w", req.Symbol, err)
	}

	res.Returns = out.Returns.DropNaN()
	res.Equity = out.Equity
	res.Fills = out.Fills
	res.FinalEquity = out.FinalEquity
	res.Summary = perf.Summarize(res.Returns)
	return nil
}

// warmupStart returns the first date fetched for a run starting at start.
// The weekday calendar has no exchange holidays, so the count is padded by a
// tenth to keep at least r.warmup sessions.
func (r *Runner) warmupStart(start time.Time) time.Time {
	return util.TradingDaysBefore(start, r.warmup+r.warmup/10)
}

// trimRange returns the half-open index range of bars dated in [start, end].
func trimRange(bars []domain.Bar, start, end time.Time) (int, int) {
	from := sort.Search(len(bars), func(i int) bool {
		return !gather.Day(bars[i].Timestamp).Before(start)
	})
	to := sort.Search(len(bars), func(i int) bool {
		return gather.Day(bars[i].Timestamp).After(end)
	})
	return from, to
}

package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"backtester/internal/domain"
	"backtester/internal/gather"
	"backtester/internal/store"
)

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// DailyBarConfig configures a DailyBarGatherer.
type DailyBarConfig struct {
	// Start is the first date fetched for a symbol with no stored bars.
	Start time.Time
	// SymbolFiles are stock list files merged into the universe.
	SymbolFiles []string
	// ETFs whose current holdings join the universe when Constituents is
	// set. Each list is also saved to ListDir/<etf>.txt.
	ETFs         []string
	ListDir      string
	Constituents ConstituentSource
	// Tracking, when set, records additions and delistings; delisted
	// tickers keep being synced.
	Tracking store.TrackingStore
	// StateDir holds the resume markers.
	StateDir   string
	MaxWorkers int
	// EndDate returns the last finished session as of now.
	EndDate func(now time.Time) (time.Time, error)
}

// SyncSummary reports what a sync pass did.
type SyncSummary struct {
	EndDate  time.Time
	Symbols  int
	Updated  int
	UpToDate int
	Missing  int
	Failed   []string
	Bars     int64
	Added    []string
	Delisted []string
	Skipped  bool // the end date was already synced
}

// DailyBarGatherer keeps the bar store current for a universe of symbols:
// for each one it reads the latest stored date, fetches the missing tail
// from the remote source and appends it.
type DailyBarGatherer struct {
	source gather.Source
	bars   store.BarStore
	cfg    DailyBarConfig
	log    *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer.
func NewDailyBarGatherer(source gather.Source, bars store.BarStore, cfg DailyBarConfig) *DailyBarGatherer {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.EndDate == nil {
		cfg.EndDate = func(now time.Time) (time.Time, error) { return LatestFinishedWeekday(now), nil }
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &DailyBarGatherer{
		source: source,
		bars:   bars,
		cfg:    cfg,
		log:    slog.Default().With("gatherer", "us-daily", "source", source.Name()),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run performs one sync pass.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	_, err := g.Sync(ctx)
	return err
}

// Sync brings every symbol of the universe up to the latest finished
// session. It is resumable and idempotent within a day: symbols the remote
// does not know are remembered until the end date moves, and a pass that
// finished for the current end date is not repeated.
func (g *DailyBarGatherer) Sync(ctx context.Context) (*SyncSummary, error) {
	endDate, err := g.cfg.EndDate(time.Now())
	if err != nil {
		return nil, fmt.Errorf("determining end date: %w", err)
	}
	endStr := endDate.Format(time.DateOnly)
	sum := &SyncSummary{EndDate: endDate}

	state, err := openSyncState(g.stateDir())
	if err != nil {
		return nil, err
	}
	defer state.Close()

	if state.LastSynced() == endStr {
		g.log.Info("already synced", "endDate", endStr)
		sum.Skipped = true
		return sum, nil
	}
	if last := state.LastSynced(); last != "" {
		if err := state.Reset(); err != nil {
			return nil, err
		}
	}

	symbols, err := g.universe(ctx, endDate, sum)
	if err != nil {
		return nil, err
	}

	var remaining []string
	for _, sym := range symbols {
		if !state.IsMissing(sym) {
			remaining = append(remaining, sym)
		}
	}
	sum.Symbols = len(symbols)
	g.log.Info("starting us-daily", "endDate", endStr, "symbols", len(symbols), "remaining", len(remaining))

	jobs := make(chan string, len(remaining))
	for _, sym := range remaining {
		jobs <- sym
	}
	close(jobs)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		updated  atomic.Int64
		upToDate atomic.Int64
		missing  atomic.Int64
		bars     atomic.Int64
		runStart = time.Now()
	)

	workers := min(g.cfg.MaxWorkers, max(len(remaining), 1))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				if ctx.Err() != nil {
					return
				}
				n, err := g.syncSymbol(ctx, sym, endDate)
				switch {
				case errors.Is(err, domain.ErrNotFound):
					missing.Add(1)
					if err := state.MarkMissing(sym); err != nil {
						g.log.Error("marking missing failed", "symbol", sym, "err", err)
					}
				case err != nil:
					g.log.Error("sync failed", "symbol", sym, "err", err)
					mu.Lock()
					sum.Failed = append(sum.Failed, sym)
					mu.Unlock()
				case n == 0:
					upToDate.Add(1)
				default:
					updated.Add(1)
					bars.Add(int64(n))
				}
			}
		}()
	}
	wg.Wait()

	sum.Updated = int(updated.Load())
	sum.UpToDate = int(upToDate.Load())
	sum.Missing = int(missing.Load())
	sum.Bars = bars.Load()
	sort.Strings(sum.Failed)

	if ctx.Err() != nil {
		return sum, ctx.Err()
	}
	if len(sum.Failed) == 0 {
		if err := state.MarkSynced(endStr); err != nil {
			return sum, fmt.Errorf("marking synced: %w", err)
		}
	}

	g.log.Info("complete",
		"updated", sum.Updated,
		"upToDate", sum.UpToDate,
		"missing", sum.Missing,
		"failed", len(sum.Failed),
		"bars", sum.Bars,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	if len(sum.Failed) > 0 {
		g.log.Warn("symbols with errors", "symbols", strings.Join(sum.Failed, ","))
	}
	return sum, nil
}

// syncSymbol appends the bars of sym after its latest stored date and
// returns the number written.
func (g *DailyBarGatherer) syncSymbol(ctx context.Context, sym string, end time.Time) (int, error) {
	latest, ok, err := g.bars.LatestDate(ctx, sym)
	if err != nil {
		return 0, fmt.Errorf("latest date: %w", err)
	}
	from := g.cfg.Start
	if ok {
		if !latest.Before(end) {
			return 0, nil
		}
		from = latest.AddDate(0, 0, 1)
	}

	fetched, err := g.source.FetchBars(ctx, sym, from, end)
	if err != nil {
		return 0, err
	}
	return g.bars.AppendBars(ctx, sym, fetched)
}

// universe merges the symbol files with the ETF holdings and, when a
// tracking store is configured, with every tracked ticker.
func (g *DailyBarGatherer) universe(ctx context.Context, asOf time.Time, sum *SyncSummary) ([]string, error) {
	current, err := LoadSymbolLists(g.cfg.SymbolFiles)
	if err != nil {
		return nil, err
	}

	if g.cfg.Constituents != nil {
		for _, etf := range g.cfg.ETFs {
			holdings, err := g.cfg.Constituents.Constituents(ctx, etf)
			if err != nil {
				g.log.Warn("fetching ETF holdings failed", "etf", etf, "err", err)
				continue
			}
			g.log.Info("fetched ETF holdings", "etf", etf, "symbols", len(holdings))
			current = append(current, holdings...)
			if g.cfg.ListDir != "" {
				path := filepath.Join(g.cfg.ListDir, strings.ToLower(etf)+".txt")
				if err := SaveSymbolList(path, holdings); err != nil {
					g.log.Warn("saving symbol list failed", "path", path, "err", err)
				}
			}
		}
	}
	current = unionSorted(current)

	if g.cfg.Tracking == nil {
		return current, nil
	}
	upd, err := g.cfg.Tracking.UpdateTracking(ctx, current, asOf)
	if err != nil {
		return nil, fmt.Errorf("updating tracking list: %w", err)
	}
	sum.Added, sum.Delisted = upd.Added, upd.Delisted
	if len(upd.Added) > 0 || len(upd.Delisted) > 0 {
		g.log.Info("tracking list updated", "added", len(upd.Added), "delisted", len(upd.Delisted))
	}

	tracked, err := g.cfg.Tracking.TrackedTickers(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing tracked tickers: %w", err)
	}
	return unionSorted(current, tracked), nil
}

func (g *DailyBarGatherer) stateDir() string {
	if g.cfg.StateDir != "" {
		return g.cfg.StateDir
	}
	return filepath.Join("data", "sync")
}

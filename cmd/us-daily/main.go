// us-daily keeps the local bar store in sync with the configured price
// source. It runs one pass and exits, or with -every repeats until
// interrupted.
//
// Usage:
//
//	go run ./cmd/us-daily [-every 6h] [-etfs SPY,QQQ] [-log-file path]
//	go run ./cmd/us-daily -stats
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"backtester/internal/config"
	"backtester/internal/gather/us"
	"backtester/internal/store"
	"backtester/internal/util"
)

func main() {
	every := flag.Duration("every", 0, "repeat the sync at this interval instead of exiting")
	etfs := flag.String("etfs", "SPY,QQQ", "ETFs whose holdings join the universe when an Alpha Vantage key is set")
	logFile := flag.String("log-file", "", "also write logs to this file")
	stats := flag.Bool("stats", false, "print per-ticker row counts of the sqlite store and exit")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	var w io.Writer = os.Stdout
	if *logFile != "" {
		f, err := os.Create(*logFile)
		if err != nil {
			log.Fatalf("failed to create log file: %v", err)
		}
		defer f.Close()
		w = io.MultiWriter(os.Stdout, f)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w))

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer db.Close()

	if *stats {
		if err := printStats(context.Background(), db, os.Stdout); err != nil {
			log.Fatalf("stats: %v", err)
		}
		return
	}

	var bars store.BarStore = db
	if strings.EqualFold(cfg.Storage.Backend, "parquet") {
		bars = store.NewParquetStore(cfg.Storage.DataDir)
	}

	job := cfg.Gather.USDaily
	// The sync job has its own request budget for the Yahoo source.
	if job.RateLimitPerMin > 0 {
		cfg.Yahoo.RateLimitPerMin = job.RateLimitPerMin
	}
	source, err := us.NewSource(cfg)
	if err != nil {
		log.Fatalf("failed to create price source: %v", err)
	}

	start, err := time.Parse(time.DateOnly, job.StartDate)
	if err != nil {
		log.Fatalf("gather.us_daily.start_date %q: %v", job.StartDate, err)
	}
	dcfg := us.DailyBarConfig{
		Start:       start,
		SymbolFiles: job.SymbolFiles,
		ListDir:     filepath.Join(cfg.Storage.DataDir, "stock_list"),
		Tracking:    db,
		StateDir:    filepath.Join(cfg.Storage.DataDir, "sync"),
		MaxWorkers:  job.MaxWorkers,
	}
	if cfg.AlphaVantage.APIKey != "" {
		dcfg.Constituents = us.NewAlphaVantageClient(cfg.AlphaVantage.BaseURL, cfg.AlphaVantage.APIKey, nil)
		for _, e := range strings.Split(*etfs, ",") {
			if e = strings.TrimSpace(e); e != "" {
				dcfg.ETFs = append(dcfg.ETFs, strings.ToUpper(e))
			}
		}
	}
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		cal := us.NewCalendarClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		dcfg.EndDate = func(now time.Time) (time.Time, error) {
			return us.LatestFinishedTradingDay(cal, now)
		}
	}

	gatherer := us.NewDailyBarGatherer(source, bars, dcfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting us-daily", "source", source.Name(), "storage", cfg.Storage.Backend, "every", *every)
	for {
		if err := syncOnce(ctx, gatherer); err != nil {
			if ctx.Err() != nil {
				return
			}
			if *every == 0 {
				log.Fatalf("sync error: %v", err)
			}
			slog.Error("sync failed", "error", err)
		}
		if *every == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*every):
		}
	}
}

func syncOnce(ctx context.Context, g *us.DailyBarGatherer) error {
	sum, err := g.Sync(ctx)
	if err != nil {
		return err
	}
	if sum.Skipped {
		slog.Info("already synced", "end", sum.EndDate.Format(time.DateOnly))
		return nil
	}
	slog.Info("sync complete",
		"end", sum.EndDate.Format(time.DateOnly),
		"symbols", sum.Symbols,
		"updated", sum.Updated,
		"upToDate", sum.UpToDate,
		"missing", sum.Missing,
		"bars", sum.Bars,
		"added", len(sum.Added),
		"delisted", len(sum.Delisted),
	)
	if len(sum.Failed) > 0 {
		return fmt.Errorf("%d symbols failed: %s", len(sum.Failed), strings.Join(sum.Failed, ", "))
	}
	return nil
}

func printStats(ctx context.Context, db *store.SQLiteStore, w io.Writer) error {
	st, err := db.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "tickers: %d  rows: %d\n", st.Tickers, st.Rows)
	for _, tc := range st.PerTicker {
		fmt.Fprintf(w, "%-12s %8d\n", tc.Ticker, tc.Rows)
	}
	return nil
}

package api

import (
	"fmt"
	"strings"
	"time"

	"backtester/internal/backtest"
	"backtester/internal/config"
	"backtester/internal/gather"
	"backtester/internal/gather/us"
	"backtester/internal/store"
)

// Open wires a Service from cfg: the SQLite store for run history (and for
// bars unless the parquet backend is selected), the configured remote
// price source behind a store-first cache, and a runner recording every
// run. The returned close function releases the stores.
func Open(cfg *config.Config) (*Service, func() error, error) {
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
	}

	var bars store.BarStore = db
	if strings.EqualFold(cfg.Storage.Backend, "parquet") {
		bars = store.NewParquetStore(cfg.Storage.DataDir)
	}

	remote, err := us.NewSource(cfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var since time.Time
	if d := cfg.Gather.USDaily.StartDate; d != "" {
		if since, err = time.Parse(time.DateOnly, d); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("gather.us_daily.start_date %q: %w", d, err)
		}
	}

	runner := backtest.NewRunner(gather.NewCachedSource(bars, remote, since),
		backtest.WithWorkers(cfg.Backtest.MaxWorkers),
		backtest.WithWarmupBars(cfg.Backtest.WarmupBars),
		backtest.WithRecorder(db),
	)
	return NewService(runner, db, cfg.Backtest), db.Close, nil
}

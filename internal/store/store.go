// Package store defines storage interfaces for the historical price store,
// the ticker tracking list and backtest run history, with SQLite and
// Parquet implementations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"backtester/internal/domain"
	"backtester/internal/perf"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// DateLayout is the on-disk date format for daily bars.
const DateLayout = "2006-01-02"

// BarStore persists and retrieves daily OHLCV bars. Implementations are
// safe for concurrent use; appends for the same symbol are serialised.
type BarStore interface {
	// LatestDate returns the date of the newest stored bar for symbol. ok is
	// false when nothing is stored.
	LatestDate(ctx context.Context, symbol string) (latest time.Time, ok bool, err error)

	// AppendBars stores bars dated after LatestDate and discards the rest.
	// It returns the number of bars written. Appending the same data twice
	// writes nothing the second time.
	AppendBars(ctx context.Context, symbol string, bars []domain.Bar) (int, error)

	// FirstDate returns the date of the oldest stored bar for symbol. ok is
	// false when nothing is stored.
	FirstDate(ctx context.Context, symbol string) (first time.Time, ok bool, err error)

	// BackfillBars stores bars dated before FirstDate and discards the rest.
	// It returns the number of bars written.
	BackfillBars(ctx context.Context, symbol string, bars []domain.Bar) (int, error)

	// ReadBars returns bars for symbol with dates in [start, end], oldest
	// first.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// Tracking statuses.
const (
	StatusActive   = "active"
	StatusDelisted = "delisted"
)

// TrackingUpdate summarises a tracking-list refresh.
type TrackingUpdate struct {
	Added    []string
	Delisted []string
}

// TrackingStore maintains the set of tickers the daily sync job covers.
type TrackingStore interface {
	// UpdateTracking marks every ticker in current as active and every
	// previously active ticker absent from current as delisted.
	UpdateTracking(ctx context.Context, current []string, asOf time.Time) (TrackingUpdate, error)

	// TrackedTickers lists tracked tickers, including delisted ones when
	// includeDelisted is set.
	TrackedTickers(ctx context.Context, includeDelisted bool) ([]string, error)
}

// RunRecord is one persisted backtest summary.
type RunRecord struct {
	ID               string
	Mode             string // single, batch or optimize
	Symbol           string
	Strategy         string
	Params           string // JSON
	Start            time.Time
	End              time.Time
	Sharpe           perf.Value
	Calmar           perf.Value
	CAGR             perf.Value
	MaxDrawdown      perf.Value
	CumulativeReturn perf.Value
	Error            string
	CreatedAt        time.Time
}

// RunStore persists backtest summaries.
type RunStore interface {
	SaveRun(ctx context.Context, r RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// Stats describes the contents of a bar store.
type Stats struct {
	Tickers   int
	Rows      int64
	PerTicker []TickerCount
}

// TickerCount is the stored row count of one ticker.
type TickerCount struct {
	Ticker string
	Rows   int64
}

// symbolLocks hands out one mutex per symbol so that appends for the same
// symbol never interleave while different symbols proceed in parallel.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *symbolLocks) lock(symbol string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// newerThan returns the bars dated strictly after latest, deduplicated by
// date and sorted oldest first.
func newerThan(bars []domain.Bar, latest time.Time, ok bool) []domain.Bar {
	bound := latest.Format(DateLayout)
	return selectBars(bars, func(d string) bool { return !ok || d > bound })
}

// olderThan returns the bars dated strictly before first, deduplicated by
// date and sorted oldest first.
func olderThan(bars []domain.Bar, first time.Time, ok bool) []domain.Bar {
	bound := first.Format(DateLayout)
	return selectBars(bars, func(d string) bool { return !ok || d < bound })
}

// selectBars keeps the bars whose date passes keep. Later duplicates of a
// date replace earlier ones.
func selectBars(bars []domain.Bar, keep func(date string) bool) []domain.Bar {
	seen := make(map[string]int, len(bars))
	var out []domain.Bar
	for _, b := range bars {
		d := b.Date()
		if !keep(d) {
			continue
		}
		if i, dup := seen[d]; dup {
			out[i] = b
			continue
		}
		seen[d] = len(out)
		out = append(out, b)
	}
	sortBars(out)
	return out
}

func sortBars(bars []domain.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}

package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"backtester/internal/domain"
	"backtester/internal/store"
	"backtester/internal/util"
)

var _ Source = (*CachedSource)(nil)

// CachedSource serves bars from a local store and fills the store from a
// remote source when the stored series ends before the requested range or
// starts after it.
//
// Concurrent requests for the same symbol and range share one remote fetch.
// The first fetch for an unseen symbol starts at the earlier of the
// requested start and since. Older history is backfilled on demand; once the
// remote has confirmed it holds nothing before the stored series for a given
// start, that start is not asked for again.
type CachedSource struct {
	store  store.BarStore
	remote Source
	since  time.Time
	group  singleflight.Group
	log    *slog.Logger

	mu     sync.Mutex
	floors map[string]time.Time // symbol -> earliest start already covered
}

// NewCachedSource creates a CachedSource. since may be zero.
func NewCachedSource(s store.BarStore, remote Source, since time.Time) *CachedSource {
	return &CachedSource{
		store:  s,
		remote: remote,
		since:  since,
		log:    slog.Default().With("source", "cache", "remote", remote.Name()),
		floors: make(map[string]time.Time),
	}
}

// Name returns the source identifier.
func (c *CachedSource) Name() string { return "cache+" + c.remote.Name() }

// FetchBars returns stored bars for [start, end], refreshing the store
// first when it does not cover the range.
func (c *CachedSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	start, end = Day(start), Day(end)

	if err := c.refresh(ctx, symbol, start, end); err != nil {
		return nil, err
	}

	bars, err := c.store.ReadBars(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v: %w", symbol, err, domain.ErrUnavailable)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no bars between %s and %s: %w", symbol,
			start.Format(time.DateOnly), end.Format(time.DateOnly), domain.ErrDataUnavailable)
	}
	return bars, nil
}

func (c *CachedSource) refresh(ctx context.Context, symbol string, start, end time.Time) error {
	key := symbol + "|" + start.Format(time.DateOnly) + "|" + end.Format(time.DateOnly)
	_, err, shared := c.group.Do(key, func() (any, error) {
		latest, ok, err := c.store.LatestDate(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("latest date of %s: %v: %w", symbol, err, domain.ErrUnavailable)
		}
		if !ok {
			return nil, c.fill(ctx, symbol, start, end)
		}
		if err := c.backfill(ctx, symbol, start); err != nil {
			return nil, err
		}

		cal := util.NewTradingCalendar(domain.MarketOf(symbol))
		if !latest.Before(cal.LastTradingDayOnOrBefore(end)) {
			return nil, nil
		}
		bars, err := c.remote.FetchBars(ctx, symbol, latest.AddDate(0, 0, 1), end)
		if err != nil {
			if errors.Is(err, domain.ErrUnavailable) {
				c.log.Warn("remote fetch failed, serving stored bars", "symbol", symbol, "latest", latest.Format(time.DateOnly), "err", err)
				return nil, nil
			}
			return nil, err
		}
		n, err := c.store.AppendBars(ctx, symbol, bars)
		if err != nil {
			return nil, fmt.Errorf("storing %s: %v: %w", symbol, err, domain.ErrUnavailable)
		}
		c.log.Debug("stored bars", "symbol", symbol, "from", latest.AddDate(0, 0, 1).Format(time.DateOnly), "added", n)
		return nil, nil
	})
	if shared {
		c.log.Debug("shared remote fetch", "symbol", symbol)
	}
	return err
}

// fill loads an unseen symbol.
func (c *CachedSource) fill(ctx context.Context, symbol string, start, end time.Time) error {
	from := start
	if !c.since.IsZero() && c.since.Before(from) {
		from = Day(c.since)
	}
	bars, err := c.remote.FetchBars(ctx, symbol, from, end)
	if err != nil {
		return err
	}
	n, err := c.store.AppendBars(ctx, symbol, bars)
	if err != nil {
		return fmt.Errorf("storing %s: %v: %w", symbol, err, domain.ErrUnavailable)
	}
	c.cover(symbol, from)
	c.log.Debug("stored bars", "symbol", symbol, "from", from.Format(time.DateOnly), "added", n)
	return nil
}

// backfill fetches the bars between start and the first stored bar. A remote
// failure here is an error: serving the stored series would silently start
// later than requested.
func (c *CachedSource) backfill(ctx context.Context, symbol string, start time.Time) error {
	if c.covered(symbol, start) {
		return nil
	}
	first, ok, err := c.store.FirstDate(ctx, symbol)
	if err != nil {
		return fmt.Errorf("first date of %s: %v: %w", symbol, err, domain.ErrUnavailable)
	}
	if !ok || !start.Before(first) {
		c.cover(symbol, start)
		return nil
	}

	to := first.AddDate(0, 0, -1)
	bars, err := c.remote.FetchBars(ctx, symbol, start, to)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Nothing listed before the stored series.
		bars = nil
	case err != nil:
		return fmt.Errorf("%s: backfilling %s..%s: %v: %w", symbol,
			start.Format(time.DateOnly), to.Format(time.DateOnly), err, domain.ErrDataUnavailable)
	}
	n, err := c.store.BackfillBars(ctx, symbol, bars)
	if err != nil {
		return fmt.Errorf("storing %s: %v: %w", symbol, err, domain.ErrUnavailable)
	}
	c.cover(symbol, start)
	c.log.Debug("backfilled bars", "symbol", symbol, "from", start.Format(time.DateOnly), "added", n)
	return nil
}

func (c *CachedSource) covered(symbol string, start time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	floor, ok := c.floors[symbol]
	return ok && !start.Before(floor)
}

func (c *CachedSource) cover(symbol string, start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if floor, ok := c.floors[symbol]; !ok || start.Before(floor) {
		c.floors[symbol] = start
	}
}

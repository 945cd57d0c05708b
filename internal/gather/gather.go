// Package gather fetches daily price bars from remote providers and keeps the
// local bar store in sync with them.
package gather

import (
	"context"
	"time"

	"backtester/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is cancelled.
	Run(ctx context.Context) error
}

// Source is the price data collaborator of a backtest.
//
// FetchBars returns the daily bars of symbol with timestamps in [start, end]
// (both dates inclusive) in ascending order, normalised to midnight UTC.
// Errors wrap domain.ErrNotFound when the instrument is unknown and
// domain.ErrUnavailable on transient failures. Callers apply their own
// warm-up extension to start.
type Source interface {
	Name() string
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls on a calendar day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Filter returns the bars of bars that fall inside [start, end].
func Filter(bars []domain.Bar, start, end time.Time) []domain.Bar {
	r := DateRange{Start: start, End: end}
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if r.Contains(b.Timestamp) {
			out = append(out, b)
		}
	}
	return out
}

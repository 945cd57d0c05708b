// Package gathertest provides an in-memory price source for tests of the
// packages built on gather.Source.
package gathertest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"backtester/internal/domain"
	"backtester/internal/gather"
)

// Default range of generated series.
var (
	SeriesStart = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	SeriesEnd   = time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
)

// WeekdayBars generates one bar per weekday in [from, to]. The close of the
// i-th bar is price(i), each bar opens at the previous close and trades one
// dollar either side.
func WeekdayBars(symbol string, from, to time.Time, price func(i int) float64) []domain.Bar {
	var bars []domain.Bar
	prev := price(0)
	i := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		c := price(i)
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: d,
			Open:      prev,
			High:      math.Max(prev, c) + 1,
			Low:       math.Min(prev, c) - 1,
			Close:     c,
			Volume:    1_000_000,
		})
		prev = c
		i++
	}
	return bars
}

// Sine oscillates around 100 with amplitude 20 and a 40 bar period.
func Sine(phase float64) func(int) float64 {
	return func(i int) float64 {
		return 100 + 20*math.Sin(2*math.Pi*float64(i)/40+phase)
	}
}

// Flat never moves.
func Flat(int) float64 { return 100 }

// Source serves canned series. Unknown symbols fail with
// domain.ErrNotFound.
type Source struct {
	mu     sync.Mutex
	series map[string][]domain.Bar
	calls  map[string]int
}

var _ gather.Source = (*Source)(nil)

// NewSource creates an empty Source.
func NewSource() *Source {
	return &Source{series: map[string][]domain.Bar{}, calls: map[string]int{}}
}

// Add registers a generated series for symbol over the default range.
func (s *Source) Add(symbol string, price func(int) float64) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[symbol] = WeekdayBars(symbol, SeriesStart, SeriesEnd, price)
	return s
}

// Name returns "memory".
func (s *Source) Name() string { return "memory" }

// FetchBars returns the stored bars of symbol in [start, end].
func (s *Source) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[symbol]++
	bars, ok := s.series[symbol]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", symbol, domain.ErrNotFound)
	}
	return gather.Filter(bars, start, end), nil
}

// Calls returns how often symbol was fetched.
func (s *Source) Calls(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[strings.ToUpper(symbol)]
}

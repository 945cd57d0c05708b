package backtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"backtester/internal/domain"
	"backtester/internal/gather"
	"backtester/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// weekdayBars generates one bar per weekday in [from, to] with closes from
// price(i) and a one dollar range around the close.
func weekdayBars(symbol string, from, to time.Time, price func(i int) float64) []domain.Bar {
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

func sine(phase float64) func(int) float64 {
	return func(i int) float64 {
		return 100 + 20*math.Sin(2*math.Pi*float64(i)/40+phase)
	}
}

func flat(int) float64 { return 100 }

func weekdaysBetween(from, to time.Time) int {
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			n++
		}
	}
	return n
}

// fakeSource serves canned series. Unknown symbols fail with
// domain.ErrNotFound.
type fakeSource struct {
	mu     sync.Mutex
	series map[string][]domain.Bar
	calls  map[string]int
	panics bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{series: map[string][]domain.Bar{}, calls: map[string]int{}}
}

func (s *fakeSource) add(symbol string, price func(int) float64) *fakeSource {
	s.series[symbol] = weekdayBars(symbol, day(2022, 6, 1), day(2024, 12, 31), price)
	return s
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) FetchBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[symbol]++
	bars, ok := s.series[symbol]
	if !ok {
		return nil, fmt.Errorf("fake %s: %w", symbol, domain.ErrNotFound)
	}
	return gather.Filter(bars, start, end), nil
}

func (s *fakeSource) callCount(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

type memRecorder struct {
	mu   sync.Mutex
	runs []store.RunRecord
}

func (m *memRecorder) SaveRun(_ context.Context, r store.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

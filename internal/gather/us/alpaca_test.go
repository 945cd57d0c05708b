package us

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backtester/internal/config"
	"backtester/internal/domain"
)

type fakeMultiBars struct {
	bars map[string][]marketdata.Bar
	err  error
	req  marketdata.GetBarsRequest
}

func (f *fakeMultiBars) GetMultiBars(_ []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.req = req
	return f.bars, f.err
}

func TestAlpacaSourceFetchBars(t *testing.T) {
	// Alpaca stamps daily bars at midnight New York time.
	ts := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)
	fake := &fakeMultiBars{bars: map[string][]marketdata.Bar{
		"AAPL": {{Timestamp: ts, Open: 187.15, High: 188.44, Low: 183.89, Close: 185.64, Volume: 82488700}},
	}}
	src := &AlpacaSource{client: fake, feed: "iex", log: discardLogger()}

	bars, err := src.FetchBars(context.Background(), "aapl", day(2024, 1, 2), day(2024, 1, 2))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 1 || bars[0].Date() != "2024-01-02" || bars[0].Volume != 82488700 {
		t.Errorf("bars = %+v", bars)
	}
	if fake.req.TimeFrame != marketdata.OneDay {
		t.Errorf("timeframe = %v, want 1Day", fake.req.TimeFrame)
	}
}

func TestAlpacaSourceErrors(t *testing.T) {
	src := &AlpacaSource{client: &fakeMultiBars{}, feed: "iex", log: discardLogger()}
	if _, err := src.FetchBars(context.Background(), "NOPE", day(2024, 1, 2), day(2024, 1, 3)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty result: err = %v, want ErrNotFound", err)
	}
	if _, err := src.FetchBars(context.Background(), "0700.HK", day(2024, 1, 2), day(2024, 1, 3)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("HK symbol: err = %v, want ErrNotFound", err)
	}

	src.client = &fakeMultiBars{err: errors.New("connection reset")}
	if _, err := src.FetchBars(context.Background(), "AAPL", day(2024, 1, 2), day(2024, 1, 3)); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("client error: err = %v, want ErrUnavailable", err)
	}
}

type fakeCalendar struct {
	days []alpaca.CalendarDay
}

func (f fakeCalendar) GetCalendar(alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	return f.days, nil
}

func TestLatestFinishedTradingDay(t *testing.T) {
	cal := fakeCalendar{days: []alpaca.CalendarDay{
		{Date: "2024-01-03"}, {Date: "2024-01-04"}, {Date: "2024-01-05"},
	}}
	et := eastern()

	// Friday afternoon: today's session has not settled yet.
	got, err := LatestFinishedTradingDay(cal, time.Date(2024, 1, 5, 15, 0, 0, 0, et))
	if err != nil {
		t.Fatalf("LatestFinishedTradingDay: %v", err)
	}
	if got.Format(time.DateOnly) != "2024-01-04" {
		t.Errorf("before cutoff = %s, want 2024-01-04", got.Format(time.DateOnly))
	}

	got, _ = LatestFinishedTradingDay(cal, time.Date(2024, 1, 5, 21, 0, 0, 0, et))
	if got.Format(time.DateOnly) != "2024-01-05" {
		t.Errorf("after cutoff = %s, want 2024-01-05", got.Format(time.DateOnly))
	}

	if _, err := LatestFinishedTradingDay(fakeCalendar{}, time.Now()); err == nil {
		t.Error("empty calendar should fail")
	}
}

func TestLatestFinishedWeekday(t *testing.T) {
	// Monday noon in New York: the last finished weekday is Friday.
	got := LatestFinishedWeekday(time.Date(2024, 1, 8, 17, 0, 0, 0, time.UTC))
	if got.Format(time.DateOnly) != "2024-01-05" {
		t.Errorf("got %s, want 2024-01-05", got.Format(time.DateOnly))
	}
}

func TestNewSource(t *testing.T) {
	cfg := config.Default()
	src, err := NewSource(cfg)
	if err != nil || src.Name() != "yahoo" {
		t.Fatalf("NewSource(default) = %v, %v", src, err)
	}

	cfg.Source.Provider = "alpaca"
	if _, err := NewSource(cfg); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("alpaca without keys: err = %v, want ErrConfig", err)
	}
	cfg.Alpaca.APIKey, cfg.Alpaca.APISecret = "k", "s"
	if src, err := NewSource(cfg); err != nil || src.Name() != "alpaca" {
		t.Errorf("NewSource(alpaca) = %v, %v", src, err)
	}

	cfg.Source.Provider = "bloomberg"
	if _, err := NewSource(cfg); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("unknown provider: err = %v, want ErrConfig", err)
	}
}

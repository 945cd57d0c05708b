package us

import (
	"fmt"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"backtester/internal/domain"
	"backtester/internal/util"
)

// CalendarClient is the part of *alpaca.Client used to find finished
// sessions.
type CalendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewCalendarClient returns an Alpaca trading API client.
func NewCalendarClient(apiKey, apiSecret, baseURL string) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

var (
	etOnce sync.Once
	etLoc  *time.Location
)

// eastern returns America/New_York, or UTC-5 when tzdata is missing.
func eastern() *time.Location {
	etOnce.Do(func() {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.FixedZone("ET", -5*3600)
		}
		etLoc = loc
	})
	return etLoc
}

// LatestFinishedTradingDay returns the most recent trading day whose market
// session has ended as of now (after 20:05 ET, so that extended-hours data
// has settled). It uses the Alpaca trading calendar.
func LatestFinishedTradingDay(client CalendarClient, now time.Time) (time.Time, error) {
	et := eastern()
	now = now.In(et)

	calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(calendar) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}

	today := now.Format(time.DateOnly)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, et)

	for i := len(calendar) - 1; i >= 0; i-- {
		day := calendar[i]
		if day.Date == today {
			if now.After(cutoff) {
				t, _ := time.Parse(time.DateOnly, day.Date)
				return t, nil
			}
			continue
		}
		dayDate, err := time.Parse(time.DateOnly, day.Date)
		if err != nil {
			continue
		}
		if dayDate.Before(now) {
			return dayDate, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}

// LatestFinishedWeekday is the fallback used without Alpaca credentials:
// the last weekday strictly before today in New York.
func LatestFinishedWeekday(now time.Time) time.Time {
	y, m, d := now.In(eastern()).Date()
	yesterday := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return util.NewTradingCalendar(domain.MarketUS).LastTradingDayOnOrBefore(yesterday)
}

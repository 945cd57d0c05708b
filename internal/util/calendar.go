package util

import (
	"time"

	"backtester/internal/domain"
)

// TradingCalendar provides weekday-based trading-day arithmetic for a market.
// Exchange holidays are not modelled; callers that need an exact session
// calendar use the broker's calendar API instead.
type TradingCalendar struct {
	market domain.Market
}

// NewTradingCalendar creates a TradingCalendar for the given market.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	return &TradingCalendar{
		market: market,
	}
}

// Market returns the calendar's market.
func (tc *TradingCalendar) Market() domain.Market {
	return tc.market
}

// IsTradingDay reports whether t falls on a weekday.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// DaysBefore returns the date n trading days before t (t itself excluded).
func (tc *TradingCalendar) DaysBefore(t time.Time, n int) time.Time {
	d := truncateDay(t)
	for n > 0 {
		d = d.AddDate(0, 0, -1)
		if tc.IsTradingDay(d) {
			n--
		}
	}
	return d
}

// LastTradingDayOnOrBefore returns t's date when it is a trading day,
// otherwise the closest earlier trading day.
func (tc *TradingCalendar) LastTradingDayOnOrBefore(t time.Time) time.Time {
	d := truncateDay(t)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// TradingDaysBefore returns the date n US trading days before t.
func TradingDaysBefore(t time.Time, n int) time.Time {
	return NewTradingCalendar(domain.MarketUS).DaysBefore(t, n)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Package domain defines the core value types shared across the backtester:
// price bars, simulated orders and fills, positions, and account snapshots.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Market identifies the exchange group an instrument trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketHK Market = "hk"
)

// MarketOf infers the market from a symbol's exchange suffix. Symbols
// without a known suffix are US listings.
func MarketOf(symbol string) Market {
	if strings.HasSuffix(strings.ToUpper(symbol), ".HK") {
		return MarketHK
	}
	return MarketUS
}

// Bar is one daily OHLCV observation for a symbol. Bars are immutable once
// stored.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Date returns the bar's calendar date formatted as YYYY-MM-DD.
func (b Bar) Date() string {
	return b.Timestamp.Format("2006-01-02")
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the lifecycle of a simulated order.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a market order placed with the simulator.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Qty            int64
	Status         OrderStatus
	FilledQty      int64
	FilledAvgPrice float64
	Commission     float64
	Reason         string // set when rejected
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Fill is the execution notification emitted for a completed order.
type Fill struct {
	OrderID    string
	Symbol     string
	Side       OrderSide
	Price      float64
	Qty        int64
	Commission float64
	Time       time.Time
}

// Position is the net long holding in a symbol.
type Position struct {
	Symbol   string
	Qty      int64
	AvgPrice float64
}

// AccountInfo is a snapshot of simulated account value.
type AccountInfo struct {
	Cash   float64
	Equity float64
}

// ValidateSeries checks that bars are strictly increasing by timestamp and
// carry positive prices.
func ValidateSeries(bars []Bar) error {
	for i, b := range bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return fmt.Errorf("bar %d (%s): non-positive price: %w", i, b.Date(), ErrDataUnavailable)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar %d (%s): timestamps not strictly increasing: %w", i, b.Date(), ErrDataUnavailable)
		}
	}
	return nil
}

package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backtester/internal/domain"
	"backtester/internal/gather"
)

var _ gather.Source = (*AlpacaSource)(nil)

// multiBarsClient is the part of *marketdata.Client used by AlpacaSource.
type multiBarsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// AlpacaSource fetches daily bars for US equities from the Alpaca
// market-data API.
type AlpacaSource struct {
	client multiBarsClient
	feed   string
	log    *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource. feed is "iex" or "sip".
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaSource{
		client: marketdata.NewClient(opts),
		feed:   feed,
		log:    slog.Default().With("source", "alpaca"),
	}
}

// Name returns the source identifier.
func (a *AlpacaSource) Name() string { return "alpaca" }

// FetchBars returns the daily bars of symbol in [start, end]. Alpaca has no
// HK coverage; ".HK" symbols fail with domain.ErrNotFound.
func (a *AlpacaSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if domain.MarketOf(symbol) != domain.MarketUS {
		return nil, fmt.Errorf("alpaca %s: market not covered: %w", symbol, domain.ErrNotFound)
	}

	multiBars, err := a.client.GetMultiBars([]string{symbol}, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     gather.Day(start),
		End:       gather.Day(end).AddDate(0, 0, 1),
		Feed:      marketdata.Feed(a.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetMultiBars %s: %v: %w", symbol, err, domain.ErrUnavailable)
	}

	alpacaBars, ok := multiBars[symbol]
	if !ok || len(alpacaBars) == 0 {
		return nil, fmt.Errorf("alpaca %s: no bars: %w", symbol, domain.ErrNotFound)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: gather.Day(ab.Timestamp.In(eastern())),
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
		})
	}
	a.log.Debug("fetched bars", "symbol", symbol, "bars", len(bars))
	return gather.Filter(bars, start, end), nil
}

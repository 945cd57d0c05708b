package us

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/gather"
	"backtester/internal/util"
)

var _ gather.Source = (*YahooSource)(nil)

// DefaultYahooURL is the Yahoo Finance chart API host.
const DefaultYahooURL = "https://query1.finance.yahoo.com"

const yahooUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// HTTPClient is the subset of *http.Client used by the remote sources.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// YahooSource fetches split-adjusted daily bars from the Yahoo Finance v8
// chart API. It covers US listings as well as HK (".HK") and crypto
// ("-USD") symbols.
type YahooSource struct {
	baseURL  string
	client   HTTPClient
	limiter  *util.RateLimiter
	attempts int
	backoff  time.Duration
	log      *slog.Logger
}

// NewYahooSource creates a YahooSource allowing perMinute requests per
// minute. A nil client uses a client with a 30s timeout.
func NewYahooSource(baseURL string, perMinute int, client HTTPClient) *YahooSource {
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &YahooSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		limiter:  util.NewRateLimiter(perMinute),
		attempts: 3,
		backoff:  time.Second,
		log:      slog.Default().With("source", "yahoo"),
	}
}

// Name returns the source identifier.
func (y *YahooSource) Name() string { return "yahoo" }

// --- Yahoo chart payload ---

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol    string `json:"symbol"`
		Currency  string `json:"currency"`
		GMTOffset int64  `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// FetchBars returns the daily bars of symbol in [start, end]. Transient
// failures are retried with backoff before being reported as
// domain.ErrUnavailable.
func (y *YahooSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	start, end = gather.Day(start), gather.Day(end)
	if end.Before(start) {
		return nil, nil
	}

	var bars []domain.Bar
	err := util.RetryIf(ctx, y.attempts, y.backoff, isUnavailable, func() error {
		if err := y.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		bars, err = y.fetch(ctx, symbol, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}
	y.log.Debug("fetched bars", "symbol", symbol, "bars", len(bars))
	return gather.Filter(bars, start, end), nil
}

func (y *YahooSource) fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprint(start.Unix()))
	q.Set("period2", fmt.Sprint(end.AddDate(0, 0, 1).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", yahooUserAgent)

	resp, err := y.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yahoo %s: %v: %w", symbol, err, domain.ErrUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("yahoo %s: %w", symbol, domain.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("yahoo %s: status %s: %w", symbol, resp.Status, domain.ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("yahoo %s: status %s: %s", symbol, resp.Status, strings.TrimSpace(string(body)))
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding yahoo %s: %v: %w", symbol, err, domain.ErrUnavailable)
	}
	if e := payload.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, fmt.Errorf("yahoo %s: %s: %w", symbol, e.Description, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("yahoo %s: %s: %s: %w", symbol, e.Code, e.Description, domain.ErrUnavailable)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo %s: empty result: %w", symbol, domain.ErrNotFound)
	}
	return chartBars(symbol, payload.Chart.Result[0]), nil
}

// chartBars converts a chart result into bars, skipping rows with missing
// prices. Timestamps are shifted to the exchange's local date.
func chartBars(symbol string, res chartResult) []domain.Bar {
	if len(res.Indicators.Quote) == 0 {
		return nil
	}
	q := res.Indicators.Quote[0]
	bars := make([]domain.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		o, h, l, c := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
		if o == nil || h == nil || l == nil || c == nil {
			continue
		}
		var vol int64
		if i < len(q.Volume) && q.Volume[i] != nil {
			vol = *q.Volume[i]
		}
		t := gather.Day(time.Unix(ts+res.Meta.GMTOffset, 0).UTC())
		if n := len(bars); n > 0 && !t.After(bars[n-1].Timestamp) {
			// Yahoo repeats the live session as a second row for today.
			bars[n-1] = domain.Bar{Symbol: symbol, Timestamp: t, Open: *o, High: *h, Low: *l, Close: *c, Volume: vol}
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: t,
			Open:      *o,
			High:      *h,
			Low:       *l,
			Close:     *c,
			Volume:    vol,
		})
	}
	return bars
}

func at(xs []*float64, i int) *float64 {
	if i >= len(xs) {
		return nil
	}
	return xs[i]
}

func isUnavailable(err error) bool {
	return errors.Is(err, domain.ErrUnavailable)
}

package us

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/util"
)

// DefaultAlphaVantageURL is the Alpha Vantage API host.
const DefaultAlphaVantageURL = "https://www.alphavantage.co"

// ConstituentSource lists the holdings of an ETF.
type ConstituentSource interface {
	Constituents(ctx context.Context, etf string) ([]string, error)
}

// AlphaVantageClient looks up ETF holdings through the Alpha Vantage
// ETF_PROFILE endpoint.
type AlphaVantageClient struct {
	baseURL string
	apiKey  string
	client  HTTPClient
	limiter *util.RateLimiter
}

// NewAlphaVantageClient creates a client. The free tier allows five calls
// per minute.
func NewAlphaVantageClient(baseURL, apiKey string, client HTTPClient) *AlphaVantageClient {
	if baseURL == "" {
		baseURL = DefaultAlphaVantageURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &AlphaVantageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		limiter: util.NewRateLimiter(5),
	}
}

type etfProfile struct {
	Holdings []struct {
		Symbol      string `json:"symbol"`
		Description string `json:"description"`
		Weight      string `json:"weight"`
	} `json:"holdings"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
	Error       string `json:"Error Message"`
}

// Constituents returns the ticker symbols held by etf, in the order
// reported. Holdings without a symbol (cash, futures) are skipped.
func (c *AlphaVantageClient) Constituents(ctx context.Context, etf string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("function", "ETF_PROFILE")
	q.Set("symbol", strings.ToUpper(etf))
	q.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alphavantage %s: %v: %w", etf, err, domain.ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alphavantage %s: status %s: %w", etf, resp.Status, domain.ErrUnavailable)
	}

	var p etfProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding alphavantage %s: %w", etf, err)
	}
	switch {
	case p.Error != "":
		return nil, fmt.Errorf("alphavantage %s: %s: %w", etf, p.Error, domain.ErrNotFound)
	case len(p.Holdings) == 0 && (p.Note != "" || p.Information != ""):
		return nil, fmt.Errorf("alphavantage %s: %s%s: %w", etf, p.Note, p.Information, domain.ErrUnavailable)
	case len(p.Holdings) == 0:
		return nil, fmt.Errorf("alphavantage %s: no holdings: %w", etf, domain.ErrNotFound)
	}

	out := make([]string, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		if s := strings.ToUpper(strings.TrimSpace(h.Symbol)); s != "" && s != "N/A" {
			out = append(out, s)
		}
	}
	return out, nil
}

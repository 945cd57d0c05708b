// Package backtester is a Go client for the backtester REST API.
package backtester

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client provides a Go SDK for interacting with the backtester-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new backtester API client. Batch and grid requests
// can take minutes, so the default timeout is generous.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		dialer:     websocket.DefaultDialer,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("backtester api: %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("backtester api: %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is an API error with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/healthz", nil)
}

// Strategies lists the available strategies and their defaults.
func (c *Client) Strategies(ctx context.Context) ([]StrategyInfo, error) {
	var resp struct {
		Strategies []StrategyInfo `json:"strategies"`
	}
	if err := c.getJSON(ctx, "/api/v1/strategies", &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// Backtest runs one backtest. A run that fails on the server's side for
// data reasons still returns a result, with Error set.
func (c *Client) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	var res BacktestResult
	if err := c.postJSON(ctx, "/api/v1/backtest", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Batch runs one strategy over many symbols and waits for the ranked
// result.
func (c *Client) Batch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	var res BatchResult
	if err := c.postJSON(ctx, "/api/v1/batch", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Optimize grid-searches parameters. When no combination is viable the
// result is returned together with an *APIError carrying status 422.
func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (*OptimizeResult, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/optimize", req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnprocessableEntity {
		var res OptimizeResult
		if json.Unmarshal(body, &res) == nil && res.Rows != nil {
			return &res, &APIError{Status: status, Kind: "no_viable_parameters", Message: res.Error}
		}
	}
	if status/100 != 2 {
		return nil, apiError(status, body)
	}
	var res OptimizeResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding optimize response: %w", err)
	}
	return &res, nil
}

// Report runs a backtest and returns the rendered HTML tearsheet.
func (c *Client) Report(ctx context.Context, req BacktestRequest) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/report", req)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, apiError(status, body)
	}
	return body, nil
}

// Runs lists the most recent persisted runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	path := "/api/v1/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []RunSummary `json:"runs"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Run fetches one persisted run.
func (c *Client) Run(ctx context.Context, id string) (*RunSummary, error) {
	var run RunSummary
	if err := c.getJSON(ctx, "/api/v1/runs/"+url.PathEscape(id), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// StreamBatch runs a batch over the websocket stream, calling onProgress
// for every finished symbol, and returns the ranked result.
func (c *Client) StreamBatch(ctx context.Context, req BatchRequest, onProgress func(Progress)) (*BatchResult, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/batch/stream")
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u, err)
	}
	defer conn.Close()

	// Unblock the read loop when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("sending batch request: %w", err)
	}
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		switch msg.Type {
		case MessageProgress:
			if onProgress != nil && msg.Progress != nil {
				onProgress(*msg.Progress)
			}
		case MessageResult:
			if msg.Batch == nil {
				return nil, errors.New("stream result frame without batch")
			}
			return msg.Batch, nil
		case MessageError:
			return nil, &APIError{Status: http.StatusBadRequest, Message: msg.Error}
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decode(status, body, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	status, body, err := c.do(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}
	return decode(status, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decode(status int, body []byte, out any) error {
	if status/100 != 2 {
		return apiError(status, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func apiError(status int, body []byte) error {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(body))
	}
	return &APIError{Status: status, Kind: er.Kind, Message: er.Error}
}

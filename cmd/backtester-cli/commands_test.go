package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/domain"
	"backtester/pkg/backtester"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"atr_window=20", "enter_on_first_bar=true", " rsi_diff_threshold = 2.5 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"atr_window":         20.0,
		"enter_on_first_bar": true,
		"rsi_diff_threshold": 2.5,
	}, got)

	got, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseParams([]string{"novalue"})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestParseGrid(t *testing.T) {
	got, err := parseGrid([]string{"atr_window=5:20:5", "atr_multiplier=1, 2.5", "direction_threshold=0.1:0.3:0.1"})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 10, 15, 20}, got["atr_window"])
	assert.Equal(t, []float64{1, 2.5}, got["atr_multiplier"])
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got["direction_threshold"])

	for _, bad := range []string{"atr_window", "=1,2", "atr_window=a,b", "atr_window=10:5:1", "atr_window=1:5:0"} {
		_, err := parseGrid([]string{bad})
		assert.ErrorIs(t, err, domain.ErrConfig, bad)
	}
}

func TestRunFlagsRequest(t *testing.T) {
	f := runFlags{start: "2023-01-01", end: "2023-06-30", strategy: "rsi-diff", params: []string{"rsi_short=5"}, commission: -1}
	req, err := f.request("aapl")
	require.NoError(t, err)
	assert.Equal(t, "aapl", req.Symbol)
	assert.Nil(t, req.Commission)
	assert.Equal(t, 5.0, req.Params["rsi_short"])

	f.commission = 0
	req, err = f.request("aapl")
	require.NoError(t, err)
	require.NotNil(t, req.Commission)
	assert.Zero(t, *req.Commission)
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	old := stderr
	stderr = &buf
	defer func() { stderr = old }()

	p := progressPrinter("batch")
	p(backtester.Progress{Done: 1, Total: 2, Symbol: "AAA"})
	p(backtester.Progress{Done: 2, Total: 2, Symbol: "BBB", Error: "boom"})
	out := buf.String()
	assert.Contains(t, out, "batch 1/2 AAA")
	assert.Contains(t, out, "failed\n")
}

func TestOpenBackendSelectsTransport(t *testing.T) {
	b, err := openBackend("http://localhost:8080")
	require.NoError(t, err)
	assert.IsType(t, &restBackend{}, b)

	b, err = openBackend("grpc://localhost:9090")
	require.NoError(t, err)
	assert.IsType(t, &grpcBackend{}, b)
	require.NoError(t, b.Close())
}

// Package httpapi serves the backtester over HTTP: a JSON REST API for the
// dashboard and SDK, an HTML report endpoint, websocket progress streams
// and Prometheus metrics.
package httpapi

import (
	"backtester/internal/dashboard"
	"backtester/pkg/backtester"
)

// TierGroupJSON holds sorted rows for one Sharpe tier.
type TierGroupJSON struct {
	Name  string           `json:"name"`
	Count int              `json:"count"`
	Rows  []backtester.Row `json:"rows"`
}

// TieredBatchResponse is the batch result grouped by Sharpe tier, returned
// for POST /api/v1/batch?view=tiers.
type TieredBatchResponse struct {
	Strategy  string          `json:"strategy"`
	Start     string          `json:"start"`
	End       string          `json:"end"`
	Failed    int             `json:"failed"`
	ElapsedMS int64           `json:"elapsed_ms"`
	SortMode  int             `json:"sort_mode"`
	SortLabel string          `json:"sort_label"`
	Tiers     []TierGroupJSON `json:"tiers"`
}

func convertTiers(res *backtester.BatchResult, sortMode, topN int) TieredBatchResponse {
	out := TieredBatchResponse{
		Strategy:  res.Strategy,
		Start:     res.Start,
		End:       res.End,
		Failed:    res.Failed,
		ElapsedMS: res.ElapsedMS,
		SortMode:  sortMode,
		SortLabel: dashboard.SortModeLabel(sortMode),
		Tiers:     []TierGroupJSON{},
	}
	for _, g := range dashboard.GroupByTier(res.Rows, sortMode, topN) {
		out.Tiers = append(out.Tiers, TierGroupJSON{Name: g.Name, Count: g.Count, Rows: g.Rows})
	}
	return out
}

// RunsResponse wraps a run listing.
type RunsResponse struct {
	Runs []backtester.RunSummary `json:"runs"`
}

// StrategiesResponse wraps the strategy catalog.
type StrategiesResponse struct {
	Strategies []backtester.StrategyInfo `json:"strategies"`
}

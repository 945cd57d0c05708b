package dashboard

import "backtester/pkg/backtester"

// Sharpe tiers, best first.
const (
	TierStrong    = "STRONG"    // Sharpe >= 1
	TierModerate  = "MODERATE"  // 0 <= Sharpe < 1
	TierWeak      = "WEAK"      // Sharpe < 0
	TierUndefined = "UNDEFINED" // no defined Sharpe, including failed runs
)

// Tiers lists the tier names in display order.
var Tiers = []string{TierStrong, TierModerate, TierWeak, TierUndefined}

// TierGroup holds sorted rows for a single tier with a count.
type TierGroup struct {
	Name  string
	Count int
	Rows  []backtester.Row
}

// TierOf returns the tier of a Sharpe ratio.
func TierOf(sharpe *float64) string {
	switch {
	case sharpe == nil:
		return TierUndefined
	case *sharpe >= 1:
		return TierStrong
	case *sharpe >= 0:
		return TierModerate
	default:
		return TierWeak
	}
}

// GroupByTier splits rows into Sharpe tiers, sorts each by mode and keeps
// at most topN rows per tier (all when topN <= 0). Empty tiers are
// omitted; Count is the tier size before truncation.
func GroupByTier(rows []backtester.Row, mode, topN int) []TierGroup {
	byTier := make(map[string][]backtester.Row)
	for _, r := range rows {
		t := TierOf(r.Sharpe)
		byTier[t] = append(byTier[t], r)
	}
	var groups []TierGroup
	for _, name := range Tiers {
		rs := byTier[name]
		if len(rs) == 0 {
			continue
		}
		SortRows(rs, mode)
		groups = append(groups, TierGroup{Name: name, Count: len(rs), Rows: TopN(rs, topN)})
	}
	return groups
}

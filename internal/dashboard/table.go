package dashboard

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"backtester/pkg/backtester"
)

// Styles.
var (
	tierStrongStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	tierModerateStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	tierWeakStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	symbolStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func tierStyle(name string) lipgloss.Style {
	switch name {
	case TierStrong:
		return tierStrongStyle
	case TierModerate:
		return tierModerateStyle
	case TierWeak:
		return tierWeakStyle
	default:
		return dimStyle
	}
}

// signStyle colours v green when positive and red when negative.
func signStyle(v *float64) lipgloss.Style {
	switch {
	case v == nil:
		return dimStyle
	case *v > 0:
		return gainStyle
	case *v < 0:
		return lossStyle
	default:
		return valueStyle
	}
}

const rowFmt = "  %-4s %-10s %7s %7s %8s %8s %8s %6s  %s"

// TableOptions controls RenderTable.
type TableOptions struct {
	Title  string
	Sort   int
	TopN   int  // per tier; 0 keeps all rows
	Tiers  bool // group rows by Sharpe tier
	Params bool // show the parameter key instead of the strategy name
	Width  int
}

// RenderTable writes a ranked result table. Rank numbers are the ones
// assigned by the ranker, so re-sorting never renumbers rows.
func RenderTable(w io.Writer, rows []backtester.Row, opts TableOptions) {
	var b strings.Builder
	width := opts.Width
	if width <= 0 {
		width = 100
	}
	label := fmt.Sprintf("  %s    rows: %s    sort: %s  ", opts.Title, FormatInt(len(rows)), SortModeLabel(opts.Sort))
	b.WriteString(titleStyle.Width(width).Render(label))
	b.WriteString("\n")

	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("  (no results)"))
		b.WriteString("\n")
		io.WriteString(w, b.String())
		return
	}

	var groups []TierGroup
	if opts.Tiers {
		groups = GroupByTier(rows, opts.Sort, opts.TopN)
	} else {
		sorted := append([]backtester.Row(nil), rows...)
		SortRows(sorted, opts.Sort)
		groups = []TierGroup{{Count: len(sorted), Rows: TopN(sorted, opts.TopN)}}
	}

	for _, g := range groups {
		if g.Name != "" {
			b.WriteString("\n")
			header := fmt.Sprintf(" %s  %s rows ", g.Name, FormatInt(g.Count))
			b.WriteString(tierStyle(g.Name).Render(header))
			if n := width - len(header) - 1; n > 0 {
				b.WriteString(dimStyle.Render(" " + strings.Repeat("─", n)))
			}
			b.WriteString("\n")
		}
		last := "Strategy"
		if opts.Params {
			last = "Params"
		}
		b.WriteString(colHeaderStyle.Render(fmt.Sprintf(rowFmt,
			"#", "Symbol", "Sharpe", "Calmar", "CAGR", "MDD", "Return", "Trd", last)))
		b.WriteString("\n")
		for _, r := range g.Rows {
			writeRow(&b, r, opts.Params)
		}
	}
	io.WriteString(w, b.String())
}

func writeRow(b *strings.Builder, r backtester.Row, params bool) {
	rank := "-"
	if r.Rank > 0 {
		rank = fmt.Sprintf("%d", r.Rank)
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-4s", rank)))
	b.WriteString(symbolStyle.Render(fmt.Sprintf(" %-10s", r.Symbol)))
	b.WriteString(signStyle(r.Sharpe).Render(fmt.Sprintf(" %7s", FormatRatio(r.Sharpe))))
	b.WriteString(signStyle(r.Calmar).Render(fmt.Sprintf(" %7s", FormatRatio(r.Calmar))))
	b.WriteString(signStyle(r.CAGR).Render(fmt.Sprintf(" %8s", FormatPct(r.CAGR))))
	b.WriteString(signStyle(r.MaxDrawdown).Render(fmt.Sprintf(" %8s", FormatPct(r.MaxDrawdown))))
	b.WriteString(signStyle(r.CumulativeReturn).Render(fmt.Sprintf(" %8s", FormatPct(r.CumulativeReturn))))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" %6s", FormatInt(r.Trades))))
	switch {
	case r.Error != "":
		b.WriteString("  " + errorStyle.Render(r.Error))
	case params:
		b.WriteString("  " + valueStyle.Render(r.Key))
	default:
		b.WriteString("  " + valueStyle.Render(r.Strategy))
	}
	b.WriteString("\n")
}

// RenderHeatmap writes the Sharpe heatmap of a grid search, one line per
// y tick.
func RenderHeatmap(w io.Writer, hm *backtester.Heatmap) {
	if hm == nil || len(hm.XTicks) == 0 {
		return
	}
	var b strings.Builder
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-8s", hm.Y+"\\"+hm.X)))
	for _, x := range hm.XTicks {
		b.WriteString(colHeaderStyle.Render(fmt.Sprintf(" %7s", x)))
	}
	b.WriteString("\n")
	for i, y := range hm.YTicks {
		b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-8s", y)))
		for j := range hm.XTicks {
			var v *float64
			if i < len(hm.Cells) && j < len(hm.Cells[i]) {
				v = hm.Cells[i][j]
			}
			b.WriteString(signStyle(v).Render(fmt.Sprintf(" %7s", FormatRatio(v))))
		}
		b.WriteString("\n")
	}
	io.WriteString(w, b.String())
}

// RenderResult writes the summary of one backtest.
func RenderResult(w io.Writer, res *backtester.BacktestResult) {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("  %s  %s  %s..%s  ", res.Symbol, res.Strategy, res.Start, res.End)))
	b.WriteString("\n")
	if res.Error != "" {
		b.WriteString("  " + errorStyle.Render("error: "+res.Error) + "\n")
		io.WriteString(w, b.String())
		return
	}
	m := res.Metrics
	line := func(name string, val string, st lipgloss.Style) {
		b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-18s", name)))
		b.WriteString(st.Render(val))
		b.WriteString("\n")
	}
	line("Params", FormatParams(res.Params), valueStyle)
	line("Periods", FormatInt(m.Periods), valueStyle)
	line("Fills", FormatInt(len(res.Fills)), valueStyle)
	line("Final equity", FormatMoney(res.FinalEquity), valueStyle)
	line("Sharpe", FormatRatio(m.Sharpe), signStyle(m.Sharpe))
	line("Calmar", FormatRatio(m.Calmar), signStyle(m.Calmar))
	line("CAGR", FormatPct(m.CAGR), signStyle(m.CAGR))
	line("Max drawdown", FormatPct(m.MaxDrawdown), signStyle(m.MaxDrawdown))
	line("Cumulative return", FormatPct(m.CumulativeReturn), signStyle(m.CumulativeReturn))
	line("Volatility", FormatPct(m.Volatility), valueStyle)
	io.WriteString(w, b.String())
}

// RenderRuns writes a list of persisted runs, newest first as given.
func RenderRuns(w io.Writer, runs []backtester.RunSummary) {
	var b strings.Builder
	st := SummarizeRuns(runs)
	label := fmt.Sprintf("  RUNS  %s    failed: %s    symbols: %s  ",
		FormatInt(st.Runs), FormatInt(st.Failed), FormatInt(st.Symbols))
	b.WriteString(titleStyle.Render(label))
	b.WriteString("\n")
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-36s %-8s %-10s %-14s %-10s %-10s %7s %8s",
		"ID", "Mode", "Symbol", "Strategy", "Start", "End", "Sharpe", "Return")))
	b.WriteString("\n")
	for _, r := range runs {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %-36s %-8s", r.ID, r.Mode)))
		b.WriteString(symbolStyle.Render(fmt.Sprintf(" %-10s", r.Symbol)))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" %-14s %-10s %-10s", r.Strategy, r.Start, r.End)))
		b.WriteString(signStyle(r.Sharpe).Render(fmt.Sprintf(" %7s", FormatRatio(r.Sharpe))))
		b.WriteString(signStyle(r.CumulativeReturn).Render(fmt.Sprintf(" %8s", FormatPct(r.CumulativeReturn))))
		if r.Error != "" {
			b.WriteString("  " + errorStyle.Render(r.Error))
		}
		b.WriteString("\n")
	}
	io.WriteString(w, b.String())
}

// RenderStrategies writes the strategy catalog.
func RenderStrategies(w io.Writer, infos []backtester.StrategyInfo) {
	var b strings.Builder
	for _, s := range infos {
		b.WriteString(symbolStyle.Render(fmt.Sprintf("%-14s", s.Kind)))
		b.WriteString(valueStyle.Render(s.Name))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("  " + s.Description))
		b.WriteString("\n")
		b.WriteString(colHeaderStyle.Render("  defaults: "))
		b.WriteString(valueStyle.Render(FormatParams(s.Defaults)))
		b.WriteString("\n")
		b.WriteString(colHeaderStyle.Render("  grid:     "))
		b.WriteString(valueStyle.Render(strings.Join(s.GridAxes, ", ")))
		b.WriteString("\n")
	}
	io.WriteString(w, b.String())
}

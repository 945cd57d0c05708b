package perf

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ReportInput is the data rendered into an HTML tearsheet.
type ReportInput struct {
	Title       string
	Symbol      string
	Strategy    string
	Params      map[string]any
	InitialCash float64
	Returns     Series
}

type reportMetric struct {
	Name  string
	Value string
}

type reportParam struct {
	Name  string
	Value string
}

type reportMonth struct {
	Label  string
	Return string
	Class  string
}

type reportView struct {
	Title    string
	Symbol   string
	Strategy string
	Period   string
	Params   []reportParam
	Metrics  []reportMetric
	Months   []reportMonth
	Curve    template.HTML
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, Helvetica, Arial, sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { padding: 4px 12px; border-bottom: 1px solid #ddd; text-align: right; }
th:first-child, td:first-child { text-align: left; }
.pos { color: #1a7f37; } .neg { color: #cf222e; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Symbol}} &middot; {{.Strategy}} &middot; {{.Period}}</p>
{{if .Params}}<h2>Parameters</h2>
<table>{{range .Params}}<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>{{end}}</table>{{end}}
<h2>Key metrics</h2>
<table>{{range .Metrics}}<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>{{end}}</table>
<h2>Cumulative return</h2>
{{.Curve}}
<h2>Monthly returns</h2>
<table><tr><th>Month</th><th>Return</th></tr>
{{range .Months}}<tr><td>{{.Label}}</td><td class="{{.Class}}">{{.Return}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// RenderHTML writes a self-contained HTML report for in.Returns.
func RenderHTML(w io.Writer, in ReportInput) error {
	p := message.NewPrinter(language.English)
	rets := in.Returns.DropNaN()
	sum := Summarize(rets)

	pct := func(v Value) string {
		if !v.Valid {
			return "n/a"
		}
		return p.Sprintf("%.2f%%", v.V*100)
	}

	view := reportView{
		Title:    in.Title,
		Symbol:   in.Symbol,
		Strategy: in.Strategy,
		Period:   "no data",
		Metrics: []reportMetric{
			{"Cumulative return", pct(sum.CumulativeReturn)},
			{"CAGR", pct(sum.CAGR)},
			{"Sharpe", sum.Sharpe.String()},
			{"Calmar", sum.Calmar.String()},
			{"Max drawdown", pct(sum.MaxDrawdown)},
			{"Volatility (ann.)", pct(sum.Volatility)},
			{"Trading days", p.Sprintf("%d", sum.Periods)},
		},
		Curve: template.HTML(equitySVG(CompSum(rets))),
	}
	if view.Title == "" {
		view.Title = "Backtest report"
	}
	if in.InitialCash > 0 {
		view.Metrics = append(view.Metrics, reportMetric{"Initial cash", p.Sprintf("%.2f", in.InitialCash)})
		if cr, ok := sum.CumulativeReturn.Float(); ok {
			view.Metrics = append(view.Metrics, reportMetric{"Final equity", p.Sprintf("%.2f", in.InitialCash*(1+cr))})
		}
	}
	if sum.Periods > 0 {
		view.Period = sum.Start.Format("2006-01-02") + " to " + sum.End.Format("2006-01-02")
	}

	names := make([]string, 0, len(in.Params))
	for k := range in.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		view.Params = append(view.Params, reportParam{Name: k, Value: fmt.Sprint(in.Params[k])})
	}

	for _, m := range Monthly(rets) {
		class := "pos"
		if m.Return < 0 {
			class = "neg"
		}
		view.Months = append(view.Months, reportMonth{
			Label:  fmt.Sprintf("%d-%02d", m.Year, int(m.Month)),
			Return: p.Sprintf("%.2f%%", m.Return*100),
			Class:  class,
		})
	}

	return reportTmpl.Execute(w, view)
}

// equitySVG draws the compounded return path as an inline SVG polyline.
func equitySVG(c Series) string {
	const width, height = 800.0, 240.0
	if c.Len() < 2 {
		return "<p>not enough data</p>"
	}

	lo, hi := 0.0, 0.0
	for _, v := range c.Values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	var pts strings.Builder
	step := width / float64(c.Len()-1)
	for i, v := range c.Values {
		x := float64(i) * step
		y := height - (v-lo)/span*height
		fmt.Fprintf(&pts, "%.1f,%.1f ", x, y)
	}
	zero := height - (0-lo)/span*height

	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">`+
		`<line x1="0" y1="%.1f" x2="%.0f" y2="%.1f" stroke="#bbb" stroke-dasharray="4"/>`+
		`<polyline fill="none" stroke="#0969da" stroke-width="1.5" points="%s"/></svg>`,
		width, height, width, height, zero, width, zero, strings.TrimSpace(pts.String()))
}

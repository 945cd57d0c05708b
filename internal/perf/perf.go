// Package perf computes performance statistics from a daily return series:
// Sharpe and Calmar ratios, CAGR, maximum drawdown and compounded return.
//
// Conventions: risk-free rate 0, 252 periods per year for annualising
// volatility, and a 365-day calendar year for CAGR. A statistic that cannot
// be computed from the series is reported as an undefined Value, never as 0.
package perf

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear annualises per-bar volatility.
const TradingDaysPerYear = 252

// Series is a time-indexed return series.
type Series struct {
	Dates  []time.Time `json:"dates"`
	Values []float64   `json:"values"`
}

// Len returns the number of observations.
func (s Series) Len() int {
	return len(s.Values)
}

// Append adds one observation.
func (s *Series) Append(t time.Time, v float64) {
	s.Dates = append(s.Dates, t)
	s.Values = append(s.Values, v)
}

// DropNaN returns s without undefined or infinite entries.
func (s Series) DropNaN() Series {
	out := Series{
		Dates:  make([]time.Time, 0, len(s.Values)),
		Values: make([]float64, 0, len(s.Values)),
	}
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out.Append(s.Dates[i], v)
	}
	return out
}

// Value is a statistic that may be undefined.
type Value struct {
	V     float64
	Valid bool
}

// Defined wraps v, treating NaN and ±Inf as undefined.
func Defined(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{V: v, Valid: true}
}

// Undefined is the zero Value.
var Undefined = Value{}

// Float returns the value and whether it is defined.
func (v Value) Float() (float64, bool) {
	return v.V, v.Valid
}

// String formats the value with four decimals, or "n/a".
func (v Value) String() string {
	if !v.Valid {
		return "n/a"
	}
	return strconv.FormatFloat(v.V, 'f', 4, 64)
}

// MarshalJSON encodes an undefined value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

// UnmarshalJSON decodes null as undefined.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}

// Sharpe returns mean/stddev*sqrt(252) using the sample standard deviation.
// It is undefined for fewer than two returns or zero volatility.
func Sharpe(s Series) Value {
	if s.Len() < 2 {
		return Undefined
	}
	mean, std := stat.MeanStdDev(s.Values, nil)
	if std == 0 {
		return Undefined
	}
	return Defined(mean / std * math.Sqrt(TradingDaysPerYear))
}

// Volatility returns the annualised sample standard deviation.
func Volatility(s Series) Value {
	if s.Len() < 2 {
		return Undefined
	}
	return Defined(stat.StdDev(s.Values, nil) * math.Sqrt(TradingDaysPerYear))
}

// CompSum returns the running compounded return: prod(1+r) - 1.
func CompSum(s Series) Series {
	out := Series{
		Dates:  append([]time.Time(nil), s.Dates...),
		Values: make([]float64, s.Len()),
	}
	acc := 1.0
	for i, r := range s.Values {
		acc *= 1 + r
		out.Values[i] = acc - 1
	}
	return out
}

// CumulativeReturn returns the total compounded return of s.
func CumulativeReturn(s Series) Value {
	if s.Len() == 0 {
		return Undefined
	}
	c := CompSum(s)
	return Defined(c.Values[len(c.Values)-1])
}

// CAGR returns the compound annual growth rate over the calendar span of s.
// It is undefined when the series spans less than one day.
func CAGR(s Series) Value {
	if s.Len() == 0 {
		return Undefined
	}
	years := s.Dates[len(s.Dates)-1].Sub(s.Dates[0]).Hours() / 24 / 365
	if years <= 0 {
		return Undefined
	}
	total, _ := CumulativeReturn(s).Float()
	return Defined(math.Pow(math.Abs(total+1), 1/years) - 1)
}

// MaxDrawdown returns the largest peak-to-trough decline of the compounded
// value path as a non-positive fraction. Peaks are taken over the path
// after the first return.
func MaxDrawdown(s Series) Value {
	if s.Len() == 0 {
		return Undefined
	}
	var (
		value = 1.0
		peak  = math.Inf(-1)
		worst = 0.0
	)
	for _, r := range s.Values {
		value *= 1 + r
		if value > peak {
			peak = value
		}
		if dd := value/peak - 1; dd < worst {
			worst = dd
		}
	}
	return Defined(worst)
}

// Calmar returns CAGR divided by the magnitude of the maximum drawdown. It
// is undefined when there was no drawdown.
func Calmar(s Series) Value {
	cagr, ok := CAGR(s).Float()
	if !ok {
		return Undefined
	}
	dd, ok := MaxDrawdown(s).Float()
	if !ok || dd == 0 {
		return Undefined
	}
	return Defined(cagr / math.Abs(dd))
}

// Summary bundles the headline statistics of a return series.
type Summary struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Periods          int       `json:"periods"`
	Sharpe           Value     `json:"sharpe"`
	Calmar           Value     `json:"calmar"`
	CAGR             Value     `json:"cagr"`
	MaxDrawdown      Value     `json:"max_drawdown"`
	CumulativeReturn Value     `json:"cumulative_return"`
	Volatility       Value     `json:"volatility"`
}

// Summarize computes every statistic over s after dropping undefined
// entries.
func Summarize(s Series) Summary {
	s = s.DropNaN()
	sum := Summary{
		Periods:          s.Len(),
		Sharpe:           Sharpe(s),
		Calmar:           Calmar(s),
		CAGR:             CAGR(s),
		MaxDrawdown:      MaxDrawdown(s),
		CumulativeReturn: CumulativeReturn(s),
		Volatility:       Volatility(s),
	}
	if s.Len() > 0 {
		sum.Start = s.Dates[0]
		sum.End = s.Dates[len(s.Dates)-1]
	}
	return sum
}

// MonthlyReturn is the compounded return of one calendar month.
type MonthlyReturn struct {
	Year   int
	Month  time.Month
	Return float64
}

// Monthly compounds s into calendar-month returns in date order.
func Monthly(s Series) []MonthlyReturn {
	var out []MonthlyReturn
	for i, r := range s.Values {
		y, m, _ := s.Dates[i].Date()
		if n := len(out); n > 0 && out[n-1].Year == y && out[n-1].Month == m {
			out[n-1].Return = (1+out[n-1].Return)*(1+r) - 1
			continue
		}
		out = append(out, MonthlyReturn{Year: y, Month: m, Return: r})
	}
	return out
}

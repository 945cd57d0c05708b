package indicator

import (
	"fmt"
	"math"

	"backtester/internal/domain"
)

// Set holds the derived series for one price series, aligned 1:1 with it by
// index.
type Set struct {
	TrueRange []float64
	ATR       []float64
	Direction []int
	RSIShort  []float64
	RSILong   []float64
	RSIDiff   []float64
}

// Row is the slice of a Set at one bar.
type Row struct {
	ATR       float64
	Direction int
	RSIShort  float64
	RSILong   float64
	RSIDiff   float64
}

// Derive computes every indicator for bars under p.
func Derive(bars []domain.Bar, p Params) (*Set, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("derive indicators: empty series: %w", domain.ErrDataUnavailable)
	}

	tr := TrueRange(bars)
	atr := atrOf(tr, p.ATRWindow, p.ATRMultiplier)

	closes := Closes(bars)
	short := RSI(closes, p.RSIShort)
	long := RSI(closes, p.RSILong)
	diff := make([]float64, len(bars))
	for i := range diff {
		diff[i] = long[i] - short[i]
	}

	return &Set{
		TrueRange: tr,
		ATR:       atr,
		Direction: Direction(bars, atr, p.DirectionThreshold, p.UseAbsolute),
		RSIShort:  short,
		RSILong:   long,
		RSIDiff:   diff,
	}, nil
}

// Len returns the number of rows.
func (s *Set) Len() int {
	return len(s.Direction)
}

// Row returns the indicator values at index i.
func (s *Set) Row(i int) Row {
	return Row{
		ATR:       s.ATR[i],
		Direction: s.Direction[i],
		RSIShort:  s.RSIShort[i],
		RSILong:   s.RSILong[i],
		RSIDiff:   s.RSIDiff[i],
	}
}

// Slice returns the rows in [from, to) as a new Set sharing no memory with s.
func (s *Set) Slice(from, to int) *Set {
	return &Set{
		TrueRange: append([]float64(nil), s.TrueRange[from:to]...),
		ATR:       append([]float64(nil), s.ATR[from:to]...),
		Direction: append([]int(nil), s.Direction[from:to]...),
		RSIShort:  append([]float64(nil), s.RSIShort[from:to]...),
		RSILong:   append([]float64(nil), s.RSILong[from:to]...),
		RSIDiff:   append([]float64(nil), s.RSIDiff[from:to]...),
	}
}

// Defined reports whether every float field of r is defined.
func (r Row) Defined() bool {
	return !math.IsNaN(r.ATR) && !math.IsNaN(r.RSIShort) && !math.IsNaN(r.RSILong)
}

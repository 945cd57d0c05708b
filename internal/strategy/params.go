package strategy

import (
	"fmt"
	"sort"
	"strings"

	"backtester/internal/domain"
	"backtester/internal/indicator"
)

// Params is the immutable configuration of one strategy instance.
type Params interface {
	Kind() Kind
	Validate() error
	// Indicators returns the indicator parameters the strategy trades on.
	Indicators() indicator.Params
	// Fraction is the share of available cash committed on entry.
	Fraction() float64
	// Values returns the parameters keyed by their snake_case names.
	Values() map[string]any
}

// TrendChangeParams configures the trend-change strategy.
type TrendChangeParams struct {
	ATRWindow          int     `json:"atr_window"`
	ATRMultiplier      float64 `json:"atr_multiplier"`
	DirectionThreshold float64 `json:"direction_threshold"`
	UseAbsolute        bool    `json:"use_absolute"`
	PositionSize       float64 `json:"position_size"`
	// EnterOnFirstBar treats the first bar as a direction change. Off by
	// default: the first bar only records the starting direction.
	EnterOnFirstBar bool `json:"enter_on_first_bar"`
}

// DefaultTrendChangeParams returns the stock trend-change configuration.
func DefaultTrendChangeParams() TrendChangeParams {
	return TrendChangeParams{
		ATRWindow:          14,
		ATRMultiplier:      3,
		DirectionThreshold: 0.05,
		UseAbsolute:        true,
		PositionSize:       0.8,
	}
}

func (p TrendChangeParams) Kind() Kind { return KindTrendChange }

func (p TrendChangeParams) Validate() error {
	switch {
	case p.ATRWindow <= 0:
		return fmt.Errorf("atr_window must be positive, got %d: %w", p.ATRWindow, domain.ErrConfig)
	case !(p.ATRMultiplier > 0):
		return fmt.Errorf("atr_multiplier must be positive, got %v: %w", p.ATRMultiplier, domain.ErrConfig)
	case !(p.DirectionThreshold >= 0):
		return fmt.Errorf("direction_threshold must be non-negative, got %v: %w", p.DirectionThreshold, domain.ErrConfig)
	}
	return validateFraction(p.PositionSize)
}

func (p TrendChangeParams) Indicators() indicator.Params {
	ip := indicator.DefaultParams()
	ip.ATRWindow = p.ATRWindow
	ip.ATRMultiplier = p.ATRMultiplier
	ip.DirectionThreshold = p.DirectionThreshold
	ip.UseAbsolute = p.UseAbsolute
	return ip
}

func (p TrendChangeParams) Fraction() float64 { return p.PositionSize }

func (p TrendChangeParams) Values() map[string]any {
	return map[string]any{
		"atr_window":          p.ATRWindow,
		"atr_multiplier":      p.ATRMultiplier,
		"direction_threshold": p.DirectionThreshold,
		"use_absolute":        p.UseAbsolute,
		"position_size":       p.PositionSize,
		"enter_on_first_bar":  p.EnterOnFirstBar,
	}
}

// RSIDiffParams configures the RSI-differential strategy.
type RSIDiffParams struct {
	RSIShort         int     `json:"rsi_short"`
	RSILong          int     `json:"rsi_long"`
	RSIDiffThreshold float64 `json:"rsi_diff_threshold"`
	PositionSize     float64 `json:"position_size"`
}

// DefaultRSIDiffParams returns the stock RSI-differential configuration.
func DefaultRSIDiffParams() RSIDiffParams {
	return RSIDiffParams{
		RSIShort:         7,
		RSILong:          30,
		RSIDiffThreshold: 20,
		PositionSize:     0.8,
	}
}

func (p RSIDiffParams) Kind() Kind { return KindRSIDiff }

func (p RSIDiffParams) Validate() error {
	switch {
	case p.RSIShort <= 0:
		return fmt.Errorf("rsi_short must be positive, got %d: %w", p.RSIShort, domain.ErrConfig)
	case p.RSILong <= p.RSIShort:
		return fmt.Errorf("rsi_long (%d) must exceed rsi_short (%d): %w", p.RSILong, p.RSIShort, domain.ErrConfig)
	case !(p.RSIDiffThreshold >= 0):
		return fmt.Errorf("rsi_diff_threshold must be non-negative, got %v: %w", p.RSIDiffThreshold, domain.ErrConfig)
	}
	return validateFraction(p.PositionSize)
}

func (p RSIDiffParams) Indicators() indicator.Params {
	ip := indicator.DefaultParams()
	ip.RSIShort = p.RSIShort
	ip.RSILong = p.RSILong
	return ip
}

func (p RSIDiffParams) Fraction() float64 { return p.PositionSize }

func (p RSIDiffParams) Values() map[string]any {
	return map[string]any{
		"rsi_short":          p.RSIShort,
		"rsi_long":           p.RSILong,
		"rsi_diff_threshold": p.RSIDiffThreshold,
		"position_size":      p.PositionSize,
	}
}

func validateFraction(f float64) error {
	if !(f > 0 && f <= 1) {
		return fmt.Errorf("position_size must be in (0, 1], got %v: %w", f, domain.ErrConfig)
	}
	return nil
}

// Key renders p's values as a stable "k=v k=v" string, used to label grid
// rows and break ranking ties.
func Key(p Params) string {
	vals := p.Values()
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%v", k, vals[k])
	}
	return sb.String()
}

// Config is the wire form of a strategy selection: a strategy name plus
// optional parameter overrides. Unset fields take the kind's defaults.
type Config struct {
	Strategy string `json:"strategy" yaml:"strategy"`

	ATRWindow          *int     `json:"atr_window,omitempty" yaml:"atr_window,omitempty"`
	ATRMultiplier      *float64 `json:"atr_multiplier,omitempty" yaml:"atr_multiplier,omitempty"`
	DirectionThreshold *float64 `json:"direction_threshold,omitempty" yaml:"direction_threshold,omitempty"`
	UseAbsolute        *bool    `json:"use_absolute,omitempty" yaml:"use_absolute,omitempty"`
	EnterOnFirstBar    *bool    `json:"enter_on_first_bar,omitempty" yaml:"enter_on_first_bar,omitempty"`

	RSIShort         *int     `json:"rsi_short,omitempty" yaml:"rsi_short,omitempty"`
	RSILong          *int     `json:"rsi_long,omitempty" yaml:"rsi_long,omitempty"`
	RSIDiffThreshold *float64 `json:"rsi_diff_threshold,omitempty" yaml:"rsi_diff_threshold,omitempty"`

	PositionSize *float64 `json:"position_size,omitempty" yaml:"position_size,omitempty"`
}

// Build resolves the strategy kind, applies defaults and validates the
// result. Every failure wraps domain.ErrConfig.
func (c Config) Build() (Params, error) {
	kind, err := ParseKind(c.Strategy)
	if err != nil {
		return nil, err
	}

	var p Params
	switch kind {
	case KindTrendChange:
		tp := DefaultTrendChangeParams()
		setInt(&tp.ATRWindow, c.ATRWindow)
		setFloat(&tp.ATRMultiplier, c.ATRMultiplier)
		setFloat(&tp.DirectionThreshold, c.DirectionThreshold)
		setBool(&tp.UseAbsolute, c.UseAbsolute)
		setBool(&tp.EnterOnFirstBar, c.EnterOnFirstBar)
		setFloat(&tp.PositionSize, c.PositionSize)
		p = tp
	case KindRSIDiff:
		rp := DefaultRSIDiffParams()
		setInt(&rp.RSIShort, c.RSIShort)
		setInt(&rp.RSILong, c.RSILong)
		setFloat(&rp.RSIDiffThreshold, c.RSIDiffThreshold)
		setFloat(&rp.PositionSize, c.PositionSize)
		p = rp
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ConfigOf converts params back to their wire form.
func ConfigOf(p Params) Config {
	switch v := p.(type) {
	case TrendChangeParams:
		return Config{
			Strategy:           string(KindTrendChange),
			ATRWindow:          &v.ATRWindow,
			ATRMultiplier:      &v.ATRMultiplier,
			DirectionThreshold: &v.DirectionThreshold,
			UseAbsolute:        &v.UseAbsolute,
			EnterOnFirstBar:    &v.EnterOnFirstBar,
			PositionSize:       &v.PositionSize,
		}
	case RSIDiffParams:
		return Config{
			Strategy:         string(KindRSIDiff),
			RSIShort:         &v.RSIShort,
			RSILong:          &v.RSILong,
			RSIDiffThreshold: &v.RSIDiffThreshold,
			PositionSize:     &v.PositionSize,
		}
	}
	return Config{Strategy: string(p.Kind())}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// Package strategy defines the Strategy interface for the bar-driven trading
// state machines, their parameter records, and the Registry that maps the
// closed set of strategy kinds to constructors.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"backtester/internal/domain"
	"backtester/internal/indicator"
)

// Kind identifies one of the known strategy variants.
type Kind string

const (
	KindTrendChange Kind = "trend-change"
	KindRSIDiff     Kind = "rsi-diff"
)

// Kinds lists every supported Kind.
var Kinds = []Kind{KindTrendChange, KindRSIDiff}

// ParseKind accepts the canonical kind names as well as the display names
// ("Trend Change", "RSI Diff") and underscore variants.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "-", "_", "-").Replace(norm)
	switch Kind(norm) {
	case KindTrendChange, "trend":
		return KindTrendChange, nil
	case KindRSIDiff, "rsidiff":
		return KindRSIDiff, nil
	}
	return "", fmt.Errorf("unknown strategy %q: %w", s, domain.ErrConfig)
}

// DisplayName returns the human-readable name of k.
func (k Kind) DisplayName() string {
	switch k {
	case KindTrendChange:
		return "Trend Change"
	case KindRSIDiff:
		return "RSI Diff"
	}
	return string(k)
}

// Action is the kind of order a strategy asks for on a bar.
type Action int

const (
	NoAction Action = iota
	EnterLong
	ExitLong
)

func (a Action) String() string {
	switch a {
	case EnterLong:
		return "enter_long"
	case ExitLong:
		return "exit_long"
	}
	return "none"
}

// Intent is the outcome of one OnBar call.
type Intent struct {
	Action Action
	Size   int64
}

// None is the zero Intent.
var None = Intent{}

// State is the per-backtest position state. It is created at the start of a
// run and mutated only by the run that owns it.
type State struct {
	Holding bool
	Size    int64
	// LastDirection is 0 until the first bar has been seen.
	LastDirection int
}

// Apply updates the state from an executed fill.
func (s *State) Apply(f domain.Fill) {
	switch f.Side {
	case domain.OrderSideBuy:
		s.Size += f.Qty
	case domain.OrderSideSell:
		s.Size -= f.Qty
	}
	if s.Size < 0 {
		s.Size = 0
	}
	s.Holding = s.Size > 0
}

// Strategy is the interface that the trading state machines implement.
type Strategy interface {
	// Name returns the strategy's kind name.
	Name() string

	// OnBar is called once per bar, after any fills for that bar have been
	// applied to st. cash is the simulated account's available cash.
	OnBar(bar domain.Bar, row indicator.Row, st *State, cash float64) Intent
}

// Factory builds a Strategy from validated params and a fill tracker.
type Factory func(p Params, tracker *Tracker) (Strategy, error)

// Registry maps strategy kinds to their constructors.
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Kind]Factory),
	}
}

// Register adds a constructor for kind.
func (r *Registry) Register(kind Kind, f Factory) {
	r.factories[kind] = f
}

// New builds the strategy matching p.Kind().
func (r *Registry) New(p Params, tracker *Tracker) (Strategy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f, ok := r.factories[p.Kind()]
	if !ok {
		return nil, fmt.Errorf("strategy %q not registered: %w", p.Kind(), domain.ErrConfig)
	}
	return f(p, tracker)
}

// List returns the sorted kinds with a registered constructor.
func (r *Registry) List() []Kind {
	kinds := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// PositionSize returns floor(cash*fraction/price), or 0 when price is not
// positive.
func PositionSize(cash, fraction, price float64) int64 {
	if price <= 0 || cash <= 0 {
		return 0
	}
	return int64(cash * fraction / price)
}

// Descriptor describes one strategy kind for listings.
type Descriptor struct {
	Kind        Kind           `json:"kind"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Defaults    map[string]any `json:"defaults"`
}

// Catalog describes every known strategy with its default parameters.
func Catalog() []Descriptor {
	return []Descriptor{
		{
			Kind:        KindTrendChange,
			Name:        KindTrendChange.DisplayName(),
			Description: "Enter long when the ATR trend direction turns up, exit when it turns down.",
			Defaults:    DefaultTrendChangeParams().Values(),
		},
		{
			Kind:        KindRSIDiff,
			Name:        KindRSIDiff.DisplayName(),
			Description: "Enter long when RSI(long)-RSI(short) exceeds the threshold, exit below its negative.",
			Defaults:    DefaultRSIDiffParams().Values(),
		},
	}
}

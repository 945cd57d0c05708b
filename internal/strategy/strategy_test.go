package strategy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"backtester/internal/domain"
	"backtester/internal/indicator"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) OnBar(_ domain.Bar, _ indicator.Row, _ *State, _ float64) Intent {
	return None
}

func stubFactory(name string) Factory {
	return func(_ Params, _ *Tracker) (Strategy, error) {
		return &stubStrategy{name: name}, nil
	}
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register(KindTrendChange, stubFactory("test-strategy"))

	got, err := r.New(DefaultTrendChangeParams(), NewTracker(nil))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if got.Name() != "test-strategy" {
		t.Errorf("New returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryNew_NotRegistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(DefaultRSIDiffParams(), nil)
	if !errors.Is(err, domain.ErrConfig) {
		t.Errorf("New error = %v, want ErrConfig", err)
	}
}

func TestRegistryNew_InvalidParams(t *testing.T) {
	r := NewRegistry()
	r.Register(KindRSIDiff, stubFactory("rsi"))

	p := DefaultRSIDiffParams()
	p.RSILong = p.RSIShort
	if _, err := r.New(p, nil); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("New error = %v, want ErrConfig", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(KindTrendChange, stubFactory("a"))
	r.Register(KindRSIDiff, stubFactory("b"))

	kinds := r.List()
	if len(kinds) != 2 {
		t.Fatalf("List returned %d kinds, want 2", len(kinds))
	}
	// List returns sorted kinds.
	if kinds[0] != KindRSIDiff || kinds[1] != KindTrendChange {
		t.Errorf("List returned %v, want [rsi-diff trend-change]", kinds)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"Trend Change", KindTrendChange},
		{"trend_change", KindTrendChange},
		{"trend-change", KindTrendChange},
		{"RSI Diff", KindRSIDiff},
		{" rsi_diff ", KindRSIDiff},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil {
			t.Errorf("ParseKind(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseKind("Bollinger"); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("ParseKind(Bollinger) error = %v, want ErrConfig", err)
	}
}

func TestConfigBuildDefaults(t *testing.T) {
	p, err := Config{Strategy: "Trend Change"}.Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	tp, ok := p.(TrendChangeParams)
	if !ok {
		t.Fatalf("Build returned %T, want TrendChangeParams", p)
	}
	if tp != DefaultTrendChangeParams() {
		t.Errorf("Build = %+v, want defaults %+v", tp, DefaultTrendChangeParams())
	}
}

func TestConfigBuildOverrides(t *testing.T) {
	short, long, thr := 5, 25, 15.0
	p, err := Config{Strategy: "rsi-diff", RSIShort: &short, RSILong: &long, RSIDiffThreshold: &thr}.Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	rp := p.(RSIDiffParams)
	if rp.RSIShort != 5 || rp.RSILong != 25 || rp.RSIDiffThreshold != 15 {
		t.Errorf("Build = %+v, want short=5 long=25 threshold=15", rp)
	}
	if rp.PositionSize != 0.8 {
		t.Errorf("PositionSize = %v, want default 0.8", rp.PositionSize)
	}

	ip := rp.Indicators()
	if ip.RSIShort != 5 || ip.RSILong != 25 {
		t.Errorf("Indicators() = %+v, want rsi 5/25", ip)
	}
}

func TestConfigBuildRejects(t *testing.T) {
	zero, big := 0, 1.5
	cases := []Config{
		{Strategy: "unknown"},
		{Strategy: "trend-change", ATRWindow: &zero},
		{Strategy: "trend-change", PositionSize: &big},
		{Strategy: "rsi-diff", RSIShort: &zero},
	}
	for _, c := range cases {
		if _, err := c.Build(); !errors.Is(err, domain.ErrConfig) {
			t.Errorf("Build(%+v) error = %v, want ErrConfig", c, err)
		}
	}
}

func TestConfigOfRoundTrip(t *testing.T) {
	want := TrendChangeParams{ATRWindow: 20, ATRMultiplier: 2.5, DirectionThreshold: 0.1, PositionSize: 0.5}
	got, err := ConfigOf(want).Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if got != Params(want) {
		t.Errorf("ConfigOf(p).Build() = %+v, want %+v", got, want)
	}
}

func TestKey(t *testing.T) {
	k := Key(RSIDiffParams{RSIShort: 3, RSILong: 20, RSIDiffThreshold: 20, PositionSize: 0.8})
	want := "position_size=0.8 rsi_diff_threshold=20 rsi_long=20 rsi_short=3"
	if k != want {
		t.Errorf("Key = %q, want %q", k, want)
	}
}

func TestPositionSize(t *testing.T) {
	if got := PositionSize(100000, 0.8, 101); got != 792 {
		t.Errorf("PositionSize = %d, want 792", got)
	}
	if got := PositionSize(100000, 0.8, 0); got != 0 {
		t.Errorf("PositionSize(price 0) = %d, want 0", got)
	}
}

func TestStateApply(t *testing.T) {
	var st State
	st.Apply(domain.Fill{Side: domain.OrderSideBuy, Qty: 10})
	if !st.Holding || st.Size != 10 {
		t.Errorf("after buy: %+v, want holding 10", st)
	}
	st.Apply(domain.Fill{Side: domain.OrderSideSell, Qty: 10})
	if st.Holding || st.Size != 0 {
		t.Errorf("after sell: %+v, want flat", st)
	}
}

func TestTrackerPendingLifecycle(t *testing.T) {
	tr := NewTracker(nil)
	if tr.Pending() {
		t.Fatal("new tracker should have no pending order")
	}

	bar := domain.Bar{Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 10}
	tr.Submitted("o-1", bar, Intent{Action: EnterLong, Size: 5})
	if !tr.Pending() {
		t.Fatal("tracker should be pending after Submitted")
	}

	tr.OnOrder(domain.Order{ID: "o-1", Status: domain.OrderStatusSubmitted})
	if !tr.Pending() {
		t.Error("submitted status should not clear the pending order")
	}

	tr.OnOrder(domain.Order{ID: "o-1", Status: domain.OrderStatusRejected, Reason: "margin"})
	if tr.Pending() {
		t.Error("rejected status should clear the pending order")
	}
}

func TestCatalog(t *testing.T) {
	cat := Catalog()
	if len(cat) != len(Kinds) {
		t.Fatalf("Catalog has %d entries, want %d", len(cat), len(Kinds))
	}
	for _, d := range cat {
		if d.Defaults["position_size"] != 0.8 {
			t.Errorf("%s default position_size = %v, want 0.8", d.Kind, d.Defaults["position_size"])
		}
		if !strings.Contains(d.Description, "long") {
			t.Errorf("%s description %q lacks detail", d.Kind, d.Description)
		}
	}
}

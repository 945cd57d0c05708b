package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"backtester/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryIf(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0

	err := RetryIf(context.Background(), 5, 0, func(err error) bool {
		return !errors.Is(err, permanent)
	}, func() error {
		attempts++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("RetryIf error = %v, want %v", err, permanent)
	}
	if attempts != 1 {
		t.Errorf("RetryIf called fn %d times, want 1", attempts)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait returned error: %v", err)
	}
	if rl.Allow() {
		t.Error("Allow() = true immediately after consuming the only token, want false")
	}
}

func TestRateLimiterCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait on cancelled context should return error")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() = false on call %d, want unlimited", i)
		}
	}
}

func TestTradingCalendarNew(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	if cal == nil {
		t.Fatal("NewTradingCalendar returned nil")
	}
	if cal.Market() != domain.MarketUS {
		t.Errorf("Market() = %q, want %q", cal.Market(), domain.MarketUS)
	}
}

func TestTradingDaysBefore(t *testing.T) {
	// Monday 2024-01-08.
	mon := time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		n    int
		want string
	}{
		{0, "2024-01-08"},
		{1, "2024-01-05"}, // previous Friday
		{5, "2024-01-01"},
		{10, "2023-12-25"},
	}
	for _, tt := range tests {
		got := TradingDaysBefore(mon, tt.n).Format("2006-01-02")
		if got != tt.want {
			t.Errorf("TradingDaysBefore(mon, %d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestLastTradingDayOnOrBefore(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	sun := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	if got := cal.LastTradingDayOnOrBefore(sun).Format("2006-01-02"); got != "2024-01-05" {
		t.Errorf("LastTradingDayOnOrBefore(sunday) = %s, want 2024-01-05", got)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("debug", "text", &buf).Debug("hello", "k", 1)
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text logger output = %q, want msg=hello", buf.String())
	}

	buf.Reset()
	NewLogger("warn", "json", &buf).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buf.String())
	}

	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("ParseLevel(bogus) should default to info")
	}
}

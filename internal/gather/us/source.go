package us

import (
	"fmt"
	"strings"

	"backtester/internal/config"
	"backtester/internal/domain"
	"backtester/internal/gather"
)

// NewSource builds the remote price source selected by cfg.Source.Provider.
func NewSource(cfg *config.Config) (gather.Source, error) {
	switch strings.ToLower(cfg.Source.Provider) {
	case "", "yahoo":
		return NewYahooSource(cfg.Yahoo.BaseURL, cfg.Yahoo.RateLimitPerMin, nil), nil
	case "alpaca":
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("alpaca source needs ALPACA_API_KEY and ALPACA_API_SECRET: %w", domain.ErrConfig)
		}
		return NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed), nil
	}
	return nil, fmt.Errorf("unknown price source %q: %w", cfg.Source.Provider, domain.ErrConfig)
}

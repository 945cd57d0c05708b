package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when BACKTESTER_CONFIG is unset.
const DefaultPath = "config/backtester.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backtester.
type Config struct {
	Storage      Storage        `yaml:"storage"`
	Server       Server         `yaml:"server"`
	Alpaca       Alpaca         `yaml:"alpaca"`
	Yahoo        Yahoo          `yaml:"yahoo"`
	AlphaVantage AlphaVantage   `yaml:"alphavantage"`
	Logging      Logging        `yaml:"logging"`
	Source       Source         `yaml:"source"`
	Backtest     BacktestConfig `yaml:"backtest"`
	Gather       GatherConfig   `yaml:"gather"`
}

// Storage holds paths for data persistence. Backend selects where daily
// bars live: "sqlite" or "parquet".
type Storage struct {
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Yahoo configures the Yahoo Finance chart API client.
type Yahoo struct {
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// AlphaVantage configures the ETF constituent lookup.
type AlphaVantage struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Source selects the remote price provider: "yahoo" or "alpaca".
type Source struct {
	Provider string `yaml:"provider"`
}

// BacktestConfig holds defaults applied to backtest requests that leave a
// field unset.
type BacktestConfig struct {
	InitialCash float64 `yaml:"initial_cash"`
	Commission  float64 `yaml:"commission"`
	WarmupBars  int     `yaml:"warmup_bars"`
	MaxWorkers  int     `yaml:"max_workers"`
}

// GatherConfig controls the daily bar sync job.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string   `yaml:"start_date"`
	SymbolFiles     []string `yaml:"symbol_files"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
}

// Default returns a Config with every field populated.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Backend:    "sqlite",
			DataDir:    "data",
			SQLitePath: "data/stock_data.db",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
			Feed:    "iex",
		},
		Yahoo: Yahoo{
			BaseURL:         "https://query1.finance.yahoo.com",
			RateLimitPerMin: 120,
		},
		AlphaVantage: AlphaVantage{
			BaseURL: "https://www.alphavantage.co",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Source: Source{Provider: "yahoo"},
		Backtest: BacktestConfig{
			InitialCash: 100000,
			Commission:  0.001,
			WarmupBars:  120,
			MaxWorkers:  runtime.NumCPU(),
		},
		Gather: GatherConfig{
			USDaily: GatherJobConfig{
				StartDate:       "2015-01-01",
				SymbolFiles:     []string{"data/stock_list/spy.txt", "data/stock_list/qqq.txt"},
				MaxWorkers:      4,
				RateLimitPerMin: 120,
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over Default(),
// and then applies environment variable overrides. A .env file in the
// working directory, if present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default() with
// env overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return cfg, err
}

// PathFromEnv returns BACKTESTER_CONFIG or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("BACKTESTER_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("PRICE_SOURCE"); v != "" {
		cfg.Source.Provider = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.AlphaVantage.APIKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backtest.MaxWorkers = n
		}
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Storage.Backend) {
	case "sqlite", "parquet":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want sqlite or parquet", c.Storage.Backend))
	}
	switch strings.ToLower(c.Source.Provider) {
	case "yahoo", "alpaca":
	default:
		errs = append(errs, fmt.Errorf("source.provider %q: want yahoo or alpaca", c.Source.Provider))
	}
	if c.Backtest.InitialCash <= 0 {
		errs = append(errs, fmt.Errorf("backtest.initial_cash must be positive, got %v", c.Backtest.InitialCash))
	}
	if c.Backtest.Commission < 0 {
		errs = append(errs, fmt.Errorf("backtest.commission must be non-negative, got %v", c.Backtest.Commission))
	}
	if c.Backtest.WarmupBars < 100 {
		errs = append(errs, fmt.Errorf("backtest.warmup_bars must be at least 100, got %d", c.Backtest.WarmupBars))
	}
	if c.Backtest.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("backtest.max_workers must be positive, got %d", c.Backtest.MaxWorkers))
	}
	return errors.Join(errs...)
}

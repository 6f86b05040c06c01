// Package config loads the YAML configuration shared by the entry engine,
// exit engine, and liquidation sweep, with environment variable overrides
// for credentials and paths.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the trading system.
type Config struct {
	Storage   Storage       `yaml:"storage"`
	Alpaca    Alpaca        `yaml:"alpaca"`
	Logging   Logging       `yaml:"logging"`
	Trading   TradingConfig `yaml:"trading"`
	Watchlist Watchlist     `yaml:"watchlist"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ArchiveDir string `yaml:"archive_dir"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines sizing, exit, and pacing parameters.
type TradingConfig struct {
	CapitalPerSymbol float64 `yaml:"capital_per_symbol"`
	MaxPositions     int     `yaml:"max_positions"`
	ProfitTargetPct  float64 `yaml:"profit_target_pct"` // fraction, e.g. 0.018
	StopLossPct      float64 `yaml:"stop_loss_pct"`     // fraction, e.g. 0.009
	UseNativeStops   bool    `yaml:"use_native_stops"`

	EntryIntervalSecs  int `yaml:"entry_interval_secs"`
	CheckIntervalSecs  int `yaml:"check_interval_secs"`
	ResyncIntervalSecs int `yaml:"resync_interval_secs"`
	FillWaitSecs       int `yaml:"fill_wait_secs"`
	OrderCooldownSecs  int `yaml:"order_cooldown_secs"`

	MaxRSI       float64 `yaml:"max_rsi"`
	MinATRPct    float64 `yaml:"min_atr_pct"`
	GapBypassPct float64 `yaml:"gap_bypass_pct"`
}

// Watchlist locates the candidate file produced by the screening pipeline.
type Watchlist struct {
	Path        string `yaml:"path"`
	RefreshSecs int    `yaml:"refresh_secs"`
}

// Duration helpers so callers do not repeat the seconds-to-Duration dance.

func (t TradingConfig) EntryInterval() time.Duration {
	return secs(t.EntryIntervalSecs, 5*time.Second)
}

func (t TradingConfig) CheckInterval() time.Duration {
	return secs(t.CheckIntervalSecs, 10*time.Second)
}

func (t TradingConfig) ResyncInterval() time.Duration {
	return secs(t.ResyncIntervalSecs, 100*time.Second)
}

func (t TradingConfig) FillWait() time.Duration {
	return secs(t.FillWaitSecs, 30*time.Second)
}

func (t TradingConfig) OrderCooldown() time.Duration {
	return secs(t.OrderCooldownSecs, 5*time.Minute)
}

func (w Watchlist) RefreshInterval() time.Duration {
	return secs(w.RefreshSecs, time.Minute)
}

func secs(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "daytrader.db"
	}
	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.Alpaca.DataURL == "" {
		cfg.Alpaca.DataURL = "https://data.alpaca.markets"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Trading.ProfitTargetPct == 0 {
		cfg.Trading.ProfitTargetPct = 0.018
	}
	if cfg.Trading.StopLossPct == 0 {
		cfg.Trading.StopLossPct = 0.009
	}
	if cfg.Trading.MaxRSI == 0 {
		cfg.Trading.MaxRSI = 60
	}
	if cfg.Trading.MinATRPct == 0 {
		cfg.Trading.MinATRPct = 1.5
	}
	if cfg.Watchlist.Path == "" {
		cfg.Watchlist.Path = "watchlist.json"
	}
}

func (c *Config) validate() error {
	if c.Trading.CapitalPerSymbol <= 0 {
		return fmt.Errorf("trading.capital_per_symbol must be positive, got %v", c.Trading.CapitalPerSymbol)
	}
	if c.Trading.ProfitTargetPct <= 0 || c.Trading.ProfitTargetPct >= 1 {
		return fmt.Errorf("trading.profit_target_pct must be a fraction in (0,1), got %v", c.Trading.ProfitTargetPct)
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 1 {
		return fmt.Errorf("trading.stop_loss_pct must be a fraction in (0,1), got %v", c.Trading.StopLossPct)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("WATCHLIST_PATH"); v != "" {
		cfg.Watchlist.Path = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

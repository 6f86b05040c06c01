package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
storage:
  sqlite_path: "/var/lib/daytrader/positions.db"
  archive_dir: "/var/lib/daytrader/archive"
alpaca:
  api_key: "file-key"
  api_secret: "file-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
logging:
  level: "debug"
  format: "json"
trading:
  capital_per_symbol: 5000
  max_positions: 4
  profit_target_pct: 0.018
  stop_loss_pct: 0.009
  use_native_stops: false
  entry_interval_secs: 5
  check_interval_secs: 10
  resync_interval_secs: 100
  max_rsi: 60
  min_atr_pct: 1.5
  gap_bypass_pct: 3.0
watchlist:
  path: "watchlist.json"
  refresh_secs: 60
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.SQLitePath != "/var/lib/daytrader/positions.db" {
		t.Errorf("SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Alpaca.BaseURL != "https://paper-api.alpaca.markets" {
		t.Errorf("Alpaca.BaseURL = %q", cfg.Alpaca.BaseURL)
	}
	if cfg.Trading.CapitalPerSymbol != 5000 || cfg.Trading.MaxPositions != 4 {
		t.Errorf("trading sizing = %+v", cfg.Trading)
	}
	if cfg.Trading.ProfitTargetPct != 0.018 || cfg.Trading.StopLossPct != 0.009 {
		t.Errorf("exit fractions = %v / %v", cfg.Trading.ProfitTargetPct, cfg.Trading.StopLossPct)
	}
	if cfg.Trading.UseNativeStops {
		t.Error("UseNativeStops should default to manual stops")
	}
	if cfg.Trading.CheckInterval() != 10*time.Second {
		t.Errorf("CheckInterval = %v", cfg.Trading.CheckInterval())
	}
	if cfg.Trading.ResyncInterval() != 100*time.Second {
		t.Errorf("ResyncInterval = %v", cfg.Trading.ResyncInterval())
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "trading:\n  capital_per_symbol: 1000\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.ProfitTargetPct != 0.018 {
		t.Errorf("default ProfitTargetPct = %v, want 0.018", cfg.Trading.ProfitTargetPct)
	}
	if cfg.Trading.StopLossPct != 0.009 {
		t.Errorf("default StopLossPct = %v, want 0.009", cfg.Trading.StopLossPct)
	}
	if cfg.Trading.EntryInterval() != 5*time.Second {
		t.Errorf("default EntryInterval = %v", cfg.Trading.EntryInterval())
	}
	if cfg.Trading.MaxRSI != 60 || cfg.Trading.MinATRPct != 1.5 {
		t.Errorf("default policy thresholds = %v / %v", cfg.Trading.MaxRSI, cfg.Trading.MinATRPct)
	}
	if cfg.Alpaca.BaseURL == "" || cfg.Storage.SQLitePath == "" {
		t.Error("endpoint and storage defaults missing")
	}
}

func TestLoadValidation(t *testing.T) {
	if _, err := Load(writeConfig(t, "trading:\n  capital_per_symbol: 0\n")); err == nil {
		t.Error("zero capital should fail validation")
	}
	if _, err := Load(writeConfig(t, "trading:\n  capital_per_symbol: 1000\n  profit_target_pct: 1.8\n")); err == nil {
		t.Error("percent-style profit target should fail fraction validation")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "apca-secret")
	t.Setenv("SQLITE_PATH", "/tmp/override.db")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Alpaca.APIKey)
	}
	if cfg.Alpaca.APISecret != "apca-secret" {
		t.Errorf("APISecret = %q, want apca-secret (APCA var wins)", cfg.Alpaca.APISecret)
	}
	if cfg.Storage.SQLitePath != "/tmp/override.db" {
		t.Errorf("SQLitePath = %q", cfg.Storage.SQLitePath)
	}
}

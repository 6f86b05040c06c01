package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"daytrader/internal/broker"
	"daytrader/internal/config"
	"daytrader/internal/engine"
	"daytrader/internal/store"
	"daytrader/internal/util"
	"daytrader/internal/watchlist"
)

func main() {
	// Credentials may live in a local .env during development.
	_ = godotenv.Load()

	cfgPath := "config/daytrader.yaml"
	if p := os.Getenv("DAYTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open position store: %v", err)
	}
	defer db.Close()

	gw := broker.NewAlpacaGateway(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.BaseURL,
		cfg.Alpaca.DataURL,
		cfg.Trading.UseNativeStops,
	)

	policy := &engine.MomentumPolicy{
		MaxRSI:       cfg.Trading.MaxRSI,
		MinATRPct:    cfg.Trading.MinATRPct,
		GapBypassPct: cfg.Trading.GapBypassPct,
	}
	eng := engine.NewEntryEngine(gw, gw, db, db, policy, engine.EntryConfig{
		CapitalPerSymbol: cfg.Trading.CapitalPerSymbol,
		MaxPositions:     cfg.Trading.MaxPositions,
		ProfitTargetPct:  cfg.Trading.ProfitTargetPct,
		StopLossPct:      cfg.Trading.StopLossPct,
		FillWait:         cfg.Trading.FillWait(),
		OrderCooldown:    cfg.Trading.OrderCooldown(),
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gw.Connect(ctx); err != nil {
		log.Fatalf("broker connection failed: %v", err)
	}

	if err := eng.StartSession(ctx); err != nil {
		log.Fatalf("session start failed: %v", err)
	}

	source := watchlist.NewFile(cfg.Watchlist.Path, cfg.Watchlist.RefreshInterval())

	logger.Info("entry engine starting",
		"watchlist", cfg.Watchlist.Path,
		"capital_per_symbol", cfg.Trading.CapitalPerSymbol,
		"max_positions", cfg.Trading.MaxPositions)

	// Transient broker outages get a few reconnect attempts before giving up.
	err = util.Retry(ctx, 5, 2*time.Second, func() error {
		runErr := eng.Run(ctx, source, cfg.Trading.EntryInterval())
		if ctx.Err() != nil {
			return nil
		}
		return runErr
	})
	if err != nil {
		log.Fatalf("entry engine stopped: %v", err)
	}
}

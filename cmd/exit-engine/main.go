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

	universe := watchlist.NewFile(cfg.Watchlist.Path, cfg.Watchlist.RefreshInterval())

	eng := engine.NewExitEngine(gw, db, db, universe, engine.ExitConfig{
		CheckInterval:   cfg.Trading.CheckInterval(),
		ResyncInterval:  cfg.Trading.ResyncInterval(),
		ProfitTargetPct: cfg.Trading.ProfitTargetPct,
		StopLossPct:     cfg.Trading.StopLossPct,
		FillWait:        cfg.Trading.FillWait(),
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gw.Connect(ctx); err != nil {
		log.Fatalf("broker connection failed: %v", err)
	}

	logger.Info("exit engine starting",
		"check_interval", cfg.Trading.CheckInterval().String(),
		"resync_interval", cfg.Trading.ResyncInterval().String(),
		"native_stops", cfg.Trading.UseNativeStops)

	err = util.Retry(ctx, 5, 2*time.Second, func() error {
		runErr := eng.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return runErr
	})
	if err != nil {
		log.Fatalf("exit engine stopped: %v", err)
	}
}

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gw.Connect(ctx); err != nil {
		log.Fatalf("broker connection failed: %v", err)
	}

	universe := watchlist.NewFile(cfg.Watchlist.Path, cfg.Watchlist.RefreshInterval())

	sweeper := engine.NewSweeper(gw, db, db, universe, cfg.Trading.FillWait(), logger)
	if err := sweeper.Run(ctx); err != nil {
		log.Fatalf("liquidation sweep failed: %v", err)
	}

	// Archive the day's trade log for post-hoc analysis.
	if cfg.Storage.ArchiveDir != "" {
		archive := store.NewParquetArchive(cfg.Storage.ArchiveDir)
		day := util.TradingDay(time.Now())
		path, n, err := archive.ExportDay(ctx, db, day)
		if err != nil {
			log.Fatalf("trade archive export failed: %v", err)
		}
		logger.Info("trade log archived", "day", day, "path", path, "records", n)
	}
}

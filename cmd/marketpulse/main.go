// Command marketpulse serves a live market dashboard for one trading pair:
// the price label, the transaction arc stream, the embedded chart, the
// candlestick overlay and the exchange listings board.
//
// Usage:
//
//	marketpulse --config config.yaml
//	marketpulse --pair ETH_USDT --feed wss://example.org/tx
//	marketpulse --setup
//
// Optional environment variables:
//
//	BINANCE_API_KEY, BINANCE_API_SECRET, BYBIT_API_KEY, BYBIT_API_SECRET
//	HYPERLIQUID_PRIVATE_KEY
//	MARKETPULSE_FEED_URL, MARKETPULSE_REDIS_ADDR, MARKETPULSE_SNAPSHOT_URL
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vadiminshakov/marketpulse/config"
	"github.com/vadiminshakov/marketpulse/internal"
	"github.com/vadiminshakov/marketpulse/internal/setup"
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = setup.OutputFile
	}

	conf, err := config.Get(flags)
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := internal.NewEngine(ctx, logger, conf, os.Stdout)
	if err != nil {
		logger.Fatal("failed to create engine", zap.Error(err))
	}

	if err := engine.Run(ctx); err != nil {
		logger.Error("engine stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("stopped")
}

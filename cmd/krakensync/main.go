package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tradekit/krakensync/internal/config"
	"github.com/tradekit/krakensync/internal/kraken"
	"github.com/tradekit/krakensync/internal/orders"
	"github.com/tradekit/krakensync/internal/ordersync"
	"github.com/tradekit/krakensync/internal/server"
	"github.com/tradekit/krakensync/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Kraken.Token == "" {
		zapLogger.Fatal("missing kraken websocket token (set KRAKENSYNC_KRAKEN_TOKEN)")
	}

	manager := orders.NewManager(zapLogger)
	fills := orders.NewFillProcessor(manager, zapLogger)
	syncer := ordersync.New(manager, fills, zapLogger)

	feed := kraken.NewPrivateFeed(kraken.FeedConfig{
		URL:   cfg.Kraken.WSURL,
		Token: cfg.Kraken.Token,
	}, syncer, zapLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedDone := make(chan error, 1)
	go func() {
		feedDone <- feed.Run(ctx)
	}()

	var srv *server.Server
	if cfg.HTTP.Enabled {
		srv = server.New(cfg.HTTP.Addr, manager, fills, syncer, zapLogger)
		go func() {
			if err := srv.Start(); err != nil {
				zapLogger.Fatal("status server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		zapLogger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-feedDone:
		zapLogger.Error("feed loop exited", zap.Error(err))
	}

	cancel()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("status server shutdown failed", zap.Error(err))
		}
	}

	summary := manager.GetSummary()
	zapLogger.Info("final registry summary",
		zap.Int64("orders", summary.Orders),
		zap.Int64("fills", summary.Fills),
		zap.String("volume_traded", summary.VolumeTraded.String()),
		zap.Int64("anomalies", syncer.Anomalies()),
	)
}

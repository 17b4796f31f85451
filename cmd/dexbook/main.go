package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/halcyonex/dexbook/internal/api"
	"github.com/halcyonex/dexbook/internal/config"
	"github.com/halcyonex/dexbook/internal/ledger"
	"github.com/halcyonex/dexbook/internal/service"
	"github.com/halcyonex/dexbook/internal/storage"
	"github.com/halcyonex/dexbook/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer zapLogger.Sync()

	var store *storage.Store
	if cfg.Storage.Path != "" {
		var closeStore func() error
		store, closeStore, err = storage.NewBadger(cfg.Storage.Path)
		if err != nil {
			zapLogger.Fatal("opening badger store", zap.String("path", cfg.Storage.Path), zap.Error(err))
		}
		defer closeStore()
		zapLogger.Info("badger store opened", zap.String("path", cfg.Storage.Path))
	} else {
		store = storage.NewMemory()
		zapLogger.Warn("no storage path configured, state is in-memory only")
	}

	book := ledger.New()
	clock := ledger.NewBlockClock()
	registry := prometheus.NewRegistry()

	svc, err := service.New(cfg, zapLogger, store, service.Collaborators{
		Ledger: book,
		Tech:   book,
		Pairs:  book,
		Assets: book,
		Clock:  clock,
	}, registry)
	if err != nil {
		zapLogger.Fatal("creating engine", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Block pacing: advance the chain height and run the expiration
	// housekeeping once per block interval.
	blockInterval := time.Duration(cfg.Engine.MillisecsPerBlock) * time.Millisecond
	go func() {
		ticker := time.NewTicker(blockInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				clock.Advance(1)
				if err := svc.OnBlockStart(ctx); err != nil {
					zapLogger.Error("block housekeeping failed",
						zap.Uint64("block", uint64(clock.BlockNumber())), zap.Error(err))
				}
			}
		}
	}()

	server := api.NewServer(cfg.HTTP, zapLogger, svc, registry)
	if err := server.Start(ctx); err != nil {
		zapLogger.Fatal("http server failed", zap.Error(err))
	}
	zapLogger.Info("shutdown complete")
}

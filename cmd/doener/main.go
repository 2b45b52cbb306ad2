package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Guizzs26/go-doener-saga/internal/app"
	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/config"
	"github.com/Guizzs26/go-doener-saga/internal/service"
	"github.com/Guizzs26/go-doener-saga/pkg/infra"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "unknown" {
		cfg.ServiceName = "doener"
	}
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Doener service initializing...", "shop_latency", cfg.ShopLatency)

	a, err := app.New(ctx, cfg, logger, broker.DialAMQP)
	if err != nil {
		logger.Error("CRITICAL: broker startup failed", "error", err)
		if errors.Is(err, context.Canceled) {
			return
		}
		infra.CloseLogger()
		os.Exit(1)
	}
	defer a.Close()

	finder := service.NewRandomShopFinder(service.DefaultShops, cfg.ShopLatency)
	fulfillment := service.NewFulfillmentService(finder, a.Publisher, cfg.ServiceName, logger)
	a.Consume(ctx, fulfillment.Handle, broker.DoenerRequests)

	if err := a.Run(ctx); err != nil {
		logger.Error("⚠️ Doener service stopped with error", "error", err)
	}
}

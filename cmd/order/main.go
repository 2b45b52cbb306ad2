package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/Guizzs26/go-doener-saga/internal/api"
	"github.com/Guizzs26/go-doener-saga/internal/app"
	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/config"
	"github.com/Guizzs26/go-doener-saga/internal/saga"
	"github.com/Guizzs26/go-doener-saga/pkg/infra"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "unknown" {
		cfg.ServiceName = "order"
	}
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Order service initializing...", "prefetch", cfg.Prefetch)

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

	store := saga.NewMemoryStore()
	orchestrator := saga.NewOrchestrator(store, a.Publisher, cfg.ServiceName, logger)

	sources := make([]string, 0, len(saga.Sources))
	for source := range saga.Sources {
		sources = append(sources, source)
	}
	slices.Sort(sources)

	api.RegisterOrderRoutes(a.Router, api.NewOrdersHandler(store, logger))
	a.Consume(ctx, orchestrator.Handle, sources...)

	logger.Info("✅ Saga orchestrator ready", "handles", orchestrator.Handles())
	if err := a.Run(ctx); err != nil {
		logger.Error("⚠️ Order service stopped with error", "error", err)
	}
}

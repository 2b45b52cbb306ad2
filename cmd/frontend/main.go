package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Guizzs26/go-doener-saga/internal/api"
	"github.com/Guizzs26/go-doener-saga/internal/app"
	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/config"
	"github.com/Guizzs26/go-doener-saga/internal/fanout"
	"github.com/Guizzs26/go-doener-saga/pkg/infra"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "unknown" {
		cfg.ServiceName = "frontend"
	}
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Frontend gateway initializing...", "http_port", cfg.HTTPPort)

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

	hub := fanout.NewHub(fanout.DefaultWriteTimeout, logger)
	a.OnClose(hub.Close)

	api.RegisterGatewayRoutes(a.Router, api.NewGatewayHandler(a.Publisher, a.Session, hub, cfg.ServiceName, logger))
	a.Consume(ctx, hub.Handle, broker.EventStreams...)

	if err := a.Run(ctx); err != nil {
		logger.Error("⚠️ Frontend stopped with error", "error", err)
	}
}

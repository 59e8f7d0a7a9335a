package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trackify-svr/internal/broker"
	"trackify-svr/internal/catalog"
	"trackify-svr/internal/config"
	"trackify-svr/internal/demo"
	"trackify-svr/internal/observability"
	"trackify-svr/internal/presence"
	"trackify-svr/internal/server"
	"trackify-svr/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := observability.NewLogger()
	logger.Info("Starting trackify-svr...", "port", cfg.HTTPPort, "store", cfg.Store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st presence.Store
	if cfg.Store == "redis" {
		initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rs, err := store.NewRedis(initCtx, cfg.RedisAddr, cfg.RedisDB)
		cancel()
		if err != nil {
			logger.Error("Redis init failed", "error", err)
			return
		}
		defer rs.Close()
		st = rs
	} else {
		st = store.NewMemory()
	}

	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		logger.Error("Catalog init failed", "error", err)
		return
	}
	defer cat.Close()

	hub := broker.NewHub(logger)
	engine := presence.New(st, hub, catalog.NewLeaveWriter(cat, logger), logger, presence.Options{
		Topic:                cfg.Topic,
		OfflineAfter:         cfg.OfflineAfter.Std(),
		MinBroadcastInterval: cfg.MinBroadcastInterval.Std(),
		MinBroadcastDistance: cfg.MinBroadcastDistance,
		SweepEvery:           cfg.SweepEvery.Std(),
	})
	socket := broker.NewSocket(hub, engine, cfg.Topic, logger)
	socket.Validate = cat.UserExists

	go engine.Run(ctx)
	go observability.StartMetricsServer(cfg.MetricsPort)

	if cfg.DemoMovers {
		go demo.New(engine, logger).Run(ctx)
	}

	srv := server.New(engine, socket, cat, logger)
	if err := srv.Start(":" + cfg.HTTPPort); err != nil {
		logger.Error("HTTP server failed", "error", err)
	}
}

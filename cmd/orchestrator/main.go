package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrapeflow/orchestrator/internal/api"
	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/dispatch"
	"github.com/scrapeflow/orchestrator/internal/enrichment"
	"github.com/scrapeflow/orchestrator/internal/events"
	"github.com/scrapeflow/orchestrator/internal/logger"
	"github.com/scrapeflow/orchestrator/internal/queue"
	"github.com/scrapeflow/orchestrator/internal/registry"
	"github.com/scrapeflow/orchestrator/internal/relay"
	"github.com/scrapeflow/orchestrator/internal/session"
	"github.com/scrapeflow/orchestrator/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")

	log := logger.Get()
	log.Info().Msg("Starting orchestrator...")

	redisStore, err := store.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer func() {
		if err := redisStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis store")
		}
	}()

	publisher := events.NewRedisPubSub(redisStore.Client())

	// Assemble the core: registry, queue, assignment loop.
	reg := registry.New(&cfg.Worker, redisStore)
	reg.SetPublisher(publisher)

	q := queue.New(&cfg.Task, redisStore, reg, publisher)
	reg.SetEvictionHandler(q.HandleWorkerEviction)
	reg.SetIdleNotifier(q.Signal)

	loop := dispatch.New(q, reg, cfg.Worker.APITypes())

	// Control-plane facing pieces.
	statusRelay := relay.New(&cfg.Backend)
	enrichmentClient := enrichment.NewClient(&cfg.Backend)
	manager := enrichment.NewManager(&cfg.Enrichment, enrichmentClient, q, reg)
	q.SetTerminalHook(manager.HandleTerminal)

	sessionHandler := session.NewHandler(reg, q, statusRelay, cfg.Worker.ReadIdleTimeout)
	server := api.NewServer(cfg, q, reg, sessionHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Run(ctx)
	loop.Start(ctx)
	manager.Start(ctx)

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down orchestrator...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	manager.Stop()
	loop.Stop()
	reg.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Orchestrator stopped")
}

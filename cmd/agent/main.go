package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrapeflow/orchestrator/internal/agent"
	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/logger"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")

	log := logger.Get()
	log.Info().
		Str("api_type", cfg.APIType).
		Str("orchestrator", cfg.OrchestratorURL).
		Msg("Starting worker agent...")

	if cfg.Token == "" {
		log.Fatal().Msg("AGENT_TOKEN is required")
	}

	a := agent.New(cfg)

	var receiver *agent.Receiver
	if cfg.ReceiverPort > 0 {
		receiver = agent.NewReceiver(a, cfg.ReceiverPort)
		receiver.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutting down agent...")
		a.Stop()
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Agent exited")
		}
	}

	if receiver != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		receiver.Stop(shutdownCtx)
		shutdownCancel()
	}

	log.Info().Msg("Agent stopped")
}

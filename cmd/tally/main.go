// Tally - Know which card to swipe before you swipe it.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/tally/internal/api"
	"github.com/opensource-finance/tally/internal/bus"
	"github.com/opensource-finance/tally/internal/cache"
	"github.com/opensource-finance/tally/internal/caps"
	"github.com/opensource-finance/tally/internal/domain"
	"github.com/opensource-finance/tally/internal/rates"
	"github.com/opensource-finance/tally/internal/repository"
	"github.com/opensource-finance/tally/internal/rules"
	"github.com/opensource-finance/tally/internal/simulate"
	"github.com/opensource-finance/tally/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("TALLY_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting tally",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("TALLY_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if path := os.Getenv("TALLY_SQLITE_PATH"); path != "" {
		cfg.Repository.SQLitePath = path
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Matcher
	matcher, err := rules.NewMatcher()
	if err != nil {
		slog.Error("failed to initialize rule matcher", "error", err)
		os.Exit(1)
	}
	slog.Info("rule matcher initialized")

	// Initialize Reward Calculator
	calculator := rules.NewCalculator(cfg.DefaultBaseRate)

	// Initialize Cap Accountant (usage recomputed from the ledger,
	// cached per payment method)
	accountant := caps.NewAccountant(repo, matcher, calculator, cacheImpl)

	// Initialize Currency Normalizer and load the rate table
	normalizer := rates.NewNormalizer(repo)
	if err := normalizer.Reload(ctx); err != nil {
		slog.Error("failed to load conversion rates", "error", err)
		os.Exit(1)
	}
	slog.Info("conversion rates loaded", "pairs", normalizer.RateCount())

	// Initialize Simulation Orchestrator
	orchestrator := simulate.NewOrchestrator(repo, repo, matcher, calculator, accountant, normalizer, 8)

	// Start the cache invalidation worker. It runs on both tiers:
	// over channels in Community, over NATS in Pro.
	invalidator := worker.NewInvalidator(busImpl, cacheImpl)
	if err := invalidator.Start(); err != nil {
		slog.Error("failed to start invalidation worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, matcher, accountant, normalizer, orchestrator, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("tally is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop invalidation worker first
	if err := invalidator.Stop(); err != nil {
		slog.Error("failed to stop invalidation worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("tally shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 TALLY                     ║")
	fmt.Println("  ║       Card Rewards Decision Engine        ║")
	fmt.Println("  ║    Know which card before you swipe.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /simulate               - Compare a purchase across all cards")
	fmt.Println("    POST /preview                - Score a purchase on one card")
	fmt.Println("    GET  /cap-usage/{pmId}       - Current cap consumption for a card")
	fmt.Println("    GET  /rules                  - List reward rules")
	fmt.Println("    POST /rules                  - Create a reward rule")
	fmt.Println("    POST /rules/reload           - Re-validate rules from database")
	fmt.Println("    GET  /rates                  - List conversion rates")
	fmt.Println("    PUT  /rates                  - Upsert conversion rates")
	fmt.Println("    GET  /payment-methods        - List active cards")
	fmt.Println("    POST /payment-methods        - Register a card")
	fmt.Println("    POST /transactions           - Record a transaction")
	fmt.Println("    DELETE /transactions/{id}    - Soft-delete a transaction")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}

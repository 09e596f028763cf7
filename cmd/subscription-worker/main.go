package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bilancio/internal/amqp"
	"bilancio/internal/config"
	"bilancio/internal/ledger"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

// subscription-worker turns due subscriptions into transactions on a fixed
// interval. Generated transactions flow through the same lifecycle manager as
// manual ones, so events and ledger hooks apply identically.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewRepository(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to open database", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to connect to AMQP, billed transactions will rely on the mirror sweep", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
		}
	}

	cashback := ledger.NewCashbackEngine(repo, logger)
	debt := ledger.NewDebtEngine(repo, logger)
	orchestrator := ledger.NewOrchestrator(cashback, debt, logger)
	transactions := services.NewTransactionService(repo, orchestrator, amqpClient, logger)
	billing := services.NewSubscriptionBilling(repo, transactions, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	logger.Info("subscription-worker started", "interval", cfg.BillingInterval)

	// Bill immediately on startup, then on every tick.
	if n, err := billing.ProcessDueSubscriptions(ctx, time.Now().UTC()); err != nil {
		logger.Error("Startup billing run failed", "error", err)
	} else if n > 0 {
		logger.Info("Startup billing run complete", "billed", n)
	}

	ticker := time.NewTicker(cfg.BillingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker stopped gracefully")
			return
		case <-ticker.C:
			if n, err := billing.ProcessDueSubscriptions(ctx, time.Now().UTC()); err != nil {
				logger.Error("Billing run failed", "error", err)
			} else if n > 0 {
				logger.Info("Billing run complete", "billed", n)
			}
		}
	}
}

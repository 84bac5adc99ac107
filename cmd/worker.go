package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sokoworks/payment-hub/internal/core/events"
	"github.com/sokoworks/payment-hub/internal/currency"
	"github.com/sokoworks/payment-hub/internal/fraud"
	fraudredis "github.com/sokoworks/payment-hub/internal/fraud/redis"
	"github.com/sokoworks/payment-hub/internal/gateway"
	"github.com/sokoworks/payment-hub/internal/payment"
	paymentpostgres "github.com/sokoworks/payment-hub/internal/payment/postgres"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start payment reconciliation worker",
	Long:  `Start the background worker that re-verifies stale pending payments against their gateways and expires abandoned ones.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

func startReconcileWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Server.Env)
	lg := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize orm: %v\n", err)
		os.Exit(1)
	}

	redisClient := initRedis(config.Redis, lg)

	registry, err := gateway.NewRegistry(config.Gateways)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build gateway registry: %v\n", err)
		os.Exit(1)
	}

	paymentRepo := paymentpostgres.NewPaymentRepository(gormDB)

	converter := currency.NewConverter()
	scorer := fraud.NewScorer(config.Fraud, paymentRepo, fraudredis.NewStore(redisClient), converter)

	bus := events.NewBus()
	payment.NewNotificationHandler(converter).Register(bus)

	svc := payment.NewService(paymentRepo, registry, scorer, bus, config.Payments)
	reconciler := payment.NewReconciler(svc, paymentRepo, config.Payments)

	lg.Info("starting reconciliation worker",
		"max_workers", config.Payments.MaxWorkers,
		"verify_interval", config.Payments.VerifyInterval,
		"expire_interval", config.Payments.ExpireInterval)

	reconciler.Run(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	lg.Info("reconciliation worker is running. Press Ctrl+C to stop.")

	// wait for shutdown signal
	sig := <-sigChan
	lg.Info("received signal, shutting down reconciliation worker", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := reconciler.Shutdown(ctx); err != nil {
		lg.Warn("shutdown timeout reached, forcing exit", "error", err)
	}
	if err := bus.Drain(ctx); err != nil {
		lg.Warn("event bus drain error", "error", err)
	}
	if err := db.Close(); err != nil {
		lg.Error("database close error", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		lg.Error("redis close error", "error", err)
	}

	lg.Info("reconciliation worker stopped")
}

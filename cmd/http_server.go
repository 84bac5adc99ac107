package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/internal/auth"
	"github.com/sokoworks/payment-hub/internal/core/events"
	"github.com/sokoworks/payment-hub/internal/currency"
	"github.com/sokoworks/payment-hub/internal/fraud"
	fraudredis "github.com/sokoworks/payment-hub/internal/fraud/redis"
	"github.com/sokoworks/payment-hub/internal/gateway"
	"github.com/sokoworks/payment-hub/internal/payment"
	paymentpostgres "github.com/sokoworks/payment-hub/internal/payment/postgres"
	"github.com/sokoworks/payment-hub/internal/transport/rest"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	Redis  *goredis.Client
	Router *chi.Mux
	Bus    *events.Bus
	Logger *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := deps.Config.Server.Address()
	deps.Logger.Info("starting HTTP server", "address", addr, "env", deps.Config.Server.Env)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), deps.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.Bus.Drain(ctx); err != nil {
			deps.Logger.Error("event bus drain error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
		if err := deps.Redis.Close(); err != nil {
			deps.Logger.Error("redis close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Server.Env)
	lg := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	redisClient := initRedis(config.Redis, lg)

	registry, err := gateway.NewRegistry(config.Gateways)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway registry: %w", err)
	}
	lg.Info("payment gateways configured", "gateways", registry.Names())

	paymentRepo := paymentpostgres.NewPaymentRepository(gormDB)
	refundRepo := paymentpostgres.NewRefundRepository(gormDB)

	converter := currency.NewConverter()
	scorer := fraud.NewScorer(config.Fraud, paymentRepo, fraudredis.NewStore(redisClient), converter)

	bus := events.NewBus()
	payment.NewNotificationHandler(converter).Register(bus)

	svc := payment.NewService(paymentRepo, registry, scorer, bus, config.Payments)
	refundSvc := payment.NewRefundService(paymentRepo, refundRepo, registry, bus, config.Payments)
	processor := payment.NewWebhookProcessor(registry, paymentRepo, svc, refundSvc)

	tokens := auth.NewTokenManager(config.Security)

	paymentHandler := payment.NewHandler(svc, refundSvc)
	webhookHandler := payment.NewWebhookHandler(processor)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, db.DB, redisClient, tokens, paymentHandler, webhookHandler, lg)

	return &Dependencies{
		Config: config,
		DB:     db,
		Redis:  redisClient,
		Router: router,
		Bus:    bus,
		Logger: lg,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers the ORM over the existing pgx connection pool so both
// share pool limits.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open orm session: %w", err)
	}
	return gormDB, nil
}

// initRedis never fails startup: fraud checks degrade to fail-open when
// redis is away, and the health endpoint reports it.
func initRedis(cfg internal.RedisConfig, lg *slog.Logger) *goredis.Client {
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		lg.Warn("redis unreachable, velocity and blocklist checks degrade", "error", err)
	}

	return client
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/alerts"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/config"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/db"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/events"
	grpcserver "github.com/spbu-ds-practicum-2025/transfer-engine/internal/grpc"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/httpapi"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("transfer-engine stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection pool
	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()
	logger.Info("database connection pool initialized")

	if err := db.Migrate(pool.Pool, logger); err != nil {
		return err
	}

	publisher, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingPrefix, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer publisher.Close()

	// Create repositories
	accountRepo := db.NewAccountRepository(pool.Pool)
	transactionRepo := db.NewTransactionRepository(pool.Pool)
	outboxRepo := db.NewOutboxRepository(pool.Pool)
	txManager := db.NewTransactionManager(pool.Pool, cfg.Database.LockTimeout, logger)

	tracker, closeTracker := newTracker(ctx, cfg, logger)
	defer closeTracker()

	emitter := events.NewEmitter(publisher, events.WithEmitterLogger(logger))
	defer emitter.Wait()

	engine, err := domain.NewTransferEngine(accountRepo, transactionRepo, outboxRepo, txManager,
		domain.WithLogger(logger),
		domain.WithEmitter(emitter),
		domain.WithDayWindow(domain.NewDayWindow(cfg.Limits.DailyLimitLocation)),
		domain.WithMaxAmount(cfg.Limits.MaxTransferAmount),
		domain.WithAlertPolicy(domain.AlertPolicy{
			LargeTransferThreshold:     cfg.Limits.LargeTransferThreshold,
			RepeatedRejectionThreshold: cfg.Limits.RejectionAlertThreshold,
			Tracker:                    tracker,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer engine: %w", err)
	}
	logger.Info("domain services initialized")

	dispatcherCfg := events.DefaultDispatcherConfig()
	dispatcherCfg.Interval = cfg.Outbox.Interval
	dispatcherCfg.BatchSize = cfg.Outbox.BatchSize
	dispatcherCfg.MaxAttempts = cfg.Outbox.MaxAttempts
	dispatcherCfg.RetryBackoff = cfg.Outbox.RetryBackoff
	dispatcherCfg.MaxRetryBackoff = cfg.Outbox.MaxRetryBackoff

	dispatcher, err := events.NewDispatcher(outboxRepo, txManager, publisher, dispatcherCfg,
		events.WithDispatcherLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox dispatcher: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           httpapi.NewRouter(httpapi.NewHandler(engine, logger), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpcserver.NewServer(logger)
	checks := []grpcserver.Check{
		{Service: grpcserver.LedgerService, Pinger: pool},
		{Service: "transfer-engine.Events", Pinger: publisher},
	}
	if pinger, ok := tracker.(grpcserver.Pinger); ok {
		checks = append(checks, grpcserver.Check{Service: "transfer-engine.Alerts", Pinger: pinger, Optional: true})
	}
	reporter := grpcserver.NewHealthReporter(grpcServer.Health(), cfg.HealthInterval, logger, checks...)

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.GRPCPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		reporter.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info("HTTP server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	// Wait for interrupt signal, or for any component to fail, to shut the servers down
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("transfer-engine stopped")
	return nil
}

// newTracker returns the Redis rejection tracker, or the in-memory one when
// Redis is disabled or unreachable.
func newTracker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.RejectionTracker, func()) {
	window := cfg.Limits.RejectionAlertWindow
	if cfg.Redis.Addr == "" {
		logger.Info("REDIS_ADDR not set, tracking rejections in memory")
		return alerts.NewMemoryTracker(window, time.Now), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis connection failed, tracking rejections in memory", zap.Error(err))
		_ = client.Close()
		return alerts.NewMemoryTracker(window, time.Now), func() {}
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Redis.Addr))
	return alerts.NewRedisTracker(client, window), func() { _ = client.Close() }
}

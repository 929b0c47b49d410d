package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/audit"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/config"
	grpcserver "github.com/spbu-ds-practicum-2025/transfer-engine/internal/grpc"
)

// AuditService is the health service name of the ClickHouse audit store.
const AuditService = "transfer-engine.Audit"

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
		logger.Fatal("audit-consumer stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("configuration loaded",
		zap.String("clickhouse", cfg.ClickHouse.Host),
		zap.String("exchange", cfg.RabbitMQ.Exchange),
		zap.String("queue", cfg.RabbitMQ.Queue),
	)

	// Initialize ClickHouse client
	client, err := audit.NewClickHouseClient(ctx, audit.ClickHouseConfig{
		Host:     cfg.ClickHouse.Host,
		Database: cfg.ClickHouse.Database,
		User:     cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ClickHouse client: %w", err)
	}
	defer client.Close()

	if err := client.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("successfully connected to ClickHouse")

	handler := audit.NewHandler(audit.NewRepository(client), logger)
	consumer, err := audit.NewConsumer(audit.ConsumerConfig{
		URL:           cfg.RabbitMQ.URL,
		Exchange:      cfg.RabbitMQ.Exchange,
		Queue:         cfg.RabbitMQ.Queue,
		RoutingPrefix: cfg.RabbitMQ.RoutingPrefix,
	}, handler, logger)
	if err != nil {
		return fmt.Errorf("failed to create RabbitMQ consumer: %w", err)
	}
	defer consumer.Close()

	grpcServer := grpcserver.NewServer(logger)
	reporter := grpcserver.NewHealthReporter(grpcServer.Health(), cfg.HealthInterval, logger,
		grpcserver.Check{Service: AuditService, Pinger: client},
	)

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.GRPCPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Start(gctx)
	})

	g.Go(func() error {
		reporter.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down audit-consumer...")
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("audit-consumer stopped")
	return nil
}

// Package grpc serves the standard gRPC health protocol for the transfer engine.
package grpc

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	googlegrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server is a gRPC server exposing grpc.health.v1.Health and reflection.
type Server struct {
	grpc   *googlegrpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewServer creates a Server with health and reflection registered.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	grpcServer := googlegrpc.NewServer(
		googlegrpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Register reflection service (useful for tools like grpcurl)
	reflection.Register(grpcServer)

	return &Server{
		grpc:   grpcServer,
		health: healthServer,
		logger: logger,
	}
}

// Health returns the health status registry served by the server.
func (s *Server) Health() *health.Server {
	return s.health
}

// Serve accepts connections on lis until the server is stopped.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server starting", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// GracefulStop reports NOT_SERVING for every service and waits for in-flight RPCs.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("gRPC server stopped")
}

func loggingInterceptor(logger *zap.Logger) googlegrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *googlegrpc.UnaryServerInfo, handler googlegrpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

package grpc_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	googlegrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	grpcserver "github.com/spbu-ds-practicum-2025/transfer-engine/internal/grpc"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/memstore"
)

const bufSize = 1024 * 1024

// switchPinger fails while down is set.
type switchPinger struct {
	down atomic.Bool
}

func (p *switchPinger) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func startServer(t *testing.T) (*grpcserver.Server, healthpb.HealthClient) {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	server := grpcserver.NewServer(nil)
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.GracefulStop)

	conn, err := googlegrpc.NewClient("passthrough:///bufnet",
		googlegrpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		googlegrpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return server, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthReporter_Refresh(t *testing.T) {
	server, client := startServer(t)

	ledger := &switchPinger{}
	events := &switchPinger{}
	reporter := grpcserver.NewHealthReporter(server.Health(), time.Minute, nil,
		grpcserver.Check{Service: grpcserver.LedgerService, Pinger: ledger},
		grpcserver.Check{Service: "transfer-engine.Events", Pinger: events},
	)

	require.True(t, reporter.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, grpcserver.LedgerService))

	ledger.down.Store(true)
	require.False(t, reporter.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, grpcserver.LedgerService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, "transfer-engine.Events"))

	ledger.down.Store(false)
	require.True(t, reporter.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
}

func TestHealthReporter_OptionalCheck(t *testing.T) {
	server, client := startServer(t)

	cache := &switchPinger{}
	cache.down.Store(true)
	reporter := grpcserver.NewHealthReporter(server.Health(), time.Minute, nil,
		grpcserver.Check{Service: grpcserver.LedgerService, Pinger: &switchPinger{}},
		grpcserver.Check{Service: "transfer-engine.Alerts", Pinger: cache, Optional: true},
	)

	require.True(t, reporter.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, "transfer-engine.Alerts"))
}

func TestHealthReporter_RunTracksStore(t *testing.T) {
	server, client := startServer(t)

	store := memstore.New()
	reporter := grpcserver.NewHealthReporter(server.Health(), 10*time.Millisecond, nil,
		grpcserver.Check{Service: grpcserver.LedgerService, Pinger: store},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reporter.Run(ctx)

	assert.Eventually(t, func() bool {
		return check(t, client, grpcserver.LedgerService) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealth_UnknownService(t *testing.T) {
	_, client := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "no.such.Service"})
	require.Error(t, err)
}

package grpc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// LedgerService is the health service name of the ledger store.
	LedgerService = "transfer-engine.Ledger"

	defaultInterval     = 10 * time.Second
	defaultCheckTimeout = 2 * time.Second
)

// Pinger is implemented by every dependency whose reachability is reported.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check binds a health service name to the dependency backing it.
type Check struct {
	Service string
	Pinger  Pinger
	// Optional checks report their own status without affecting the overall one.
	Optional bool
}

// HealthReporter periodically pings dependencies and publishes their status.
// The overall ("") status is SERVING only while every required check passes.
type HealthReporter struct {
	health   *health.Server
	checks   []Check
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthReporter creates a HealthReporter. A non-positive interval selects the default.
func NewHealthReporter(hs *health.Server, interval time.Duration, logger *zap.Logger, checks ...Check) *HealthReporter {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthReporter{
		health:   hs,
		checks:   checks,
		interval: interval,
		timeout:  defaultCheckTimeout,
		logger:   logger,
		last:     make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
}

// Run refreshes the statuses immediately and then on every tick until ctx is done.
func (r *HealthReporter) Run(ctx context.Context) {
	r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

// Refresh pings every dependency once and reports whether all required ones are reachable.
func (r *HealthReporter) Refresh(ctx context.Context) bool {
	healthy := true

	for _, check := range r.checks {
		checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := check.Pinger.Ping(checkCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if !check.Optional {
				healthy = false
			}
		}
		r.set(check.Service, status, err)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.set("", overall, nil)

	return healthy
}

// set publishes status and logs transitions only.
func (r *HealthReporter) set(service string, status healthpb.HealthCheckResponse_ServingStatus, err error) {
	r.mu.Lock()
	prev, seen := r.last[service]
	r.last[service] = status
	r.mu.Unlock()

	r.health.SetServingStatus(service, status)

	if seen && prev == status {
		return
	}
	if err != nil {
		r.logger.Warn("dependency unhealthy", zap.String("service", service), zap.Error(err))
		return
	}
	r.logger.Info("health status changed", zap.String("service", service), zap.String("status", status.String()))
}

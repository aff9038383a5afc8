// Package grpcserver serves the standard gRPC health protocol, driven by the
// same dependency checks as /readyz.
package grpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/vetclinic/libs/grpcx"
	"github.com/md-rashed-zaman/vetclinic/libs/runtime"
)

// ServiceName is the name health clients ask about.
const ServiceName = "vetclinic.scheduling.v1.Scheduling"

type Health struct {
	srv    *health.Server
	checks []runtime.ReadyCheck
	logger *slog.Logger
}

// Register installs the health service on s. Status starts NOT_SERVING until
// the first Refresh.
func Register(s *grpc.Server, logger *slog.Logger, checks ...runtime.ReadyCheck) *Health {
	h := &Health{srv: health.NewServer(), checks: checks, logger: logger}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, h.srv)
	return h
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
}

// Refresh runs every check once and publishes the result.
func (h *Health) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	failures := runtime.RunChecks(ctx, h.checks)
	status := healthpb.HealthCheckResponse_SERVING
	if len(failures) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		for name, err := range failures {
			h.logger.Warn("dependency unhealthy", "check", name, "err", err)
		}
	}
	h.set(status)
	return status
}

// Watch refreshes every interval until ctx ends, then reports NOT_SERVING
// so clients drain before shutdown.
func (h *Health) Watch(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Check asks the health service at addr about ServiceName.
func Check(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpcx.NewClient(addr)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("grpc client: %w", err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %s: %w", addr, err)
	}
	return resp.GetStatus(), nil
}

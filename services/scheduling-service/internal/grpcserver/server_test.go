package grpcserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/md-rashed-zaman/vetclinic/libs/grpcx"
	"github.com/md-rashed-zaman/vetclinic/libs/httpx"
	"github.com/md-rashed-zaman/vetclinic/libs/runtime"
)

func TestHealthFollowsChecks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var dbDown atomic.Bool
	srv := grpcx.NewServer(logger)
	h := Register(srv, logger, runtime.ReadyCheck{Name: "db", Check: func(context.Context) error {
		if dbDown.Load() {
			return errors.New("connection refused")
		}
		return nil
	}})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	ctx := httpx.ContextWithRequestID(context.Background(), "req-42")
	conn, err := grpcx.NewClient(lis.Addr().String())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		var md metadata.MD
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName}, grpc.Header(&md))
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if got := md.Get(grpcx.RequestIDMetadataKey); len(got) != 1 || got[0] != "req-42" {
			t.Fatalf("request id header = %v", got)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("before refresh = %s", got)
	}
	if got := h.Refresh(ctx); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("refresh = %s", got)
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("after refresh = %s", got)
	}

	dbDown.Store(true)
	h.Refresh(ctx)
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("with db down = %s", got)
	}

	dbDown.Store(false)
	h.Refresh(ctx)
	got, err := Check(ctx, lis.Addr().String())
	if err != nil || got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Check = %s %v", got, err)
	}
}

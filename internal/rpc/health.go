// Package rpc exposes the gRPC health service used by orchestrators to probe
// the escalation engine.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "escalation.Engine"

const defaultProbeInterval = 10 * time.Second

// Pinger is satisfied by the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer serves grpc.health.v1 and keeps its status in sync with the store.
type HealthServer struct {
	srv      *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
}

// NewHealthServer creates a health server probing p every interval.
func NewHealthServer(p Pinger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{srv: srv, health: hs, pinger: p, interval: interval}
}

// Serve probes once, then serves on lis until Stop. Probing continues in the
// background until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	h.probe(ctx)
	go h.loop(ctx)

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := h.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop marks the service as not serving and stops the server gracefully.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}

func (h *HealthServer) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *HealthServer) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.pinger.Ping(ctx); err != nil {
		slog.Warn("Health probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

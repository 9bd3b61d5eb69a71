package rpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type fakePinger struct {
	fail atomic.Bool
}

func (p *fakePinger) Ping(context.Context) error {
	if p.fail.Load() {
		return errors.New("database is closed")
	}
	return nil
}

func startHealth(t *testing.T, p Pinger) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	hs := NewHealthServer(p, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hs.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		hs.Stop()
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func waitForStatus(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		cancel()
		if err == nil && resp.GetStatus() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never became %v (last err %v)", want, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthTracksStore(t *testing.T) {
	p := &fakePinger{}
	client := startHealth(t, p)

	waitForStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	p.fail.Store(true)
	waitForStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)

	p.fail.Store(false)
	waitForStatus(t, client, healthpb.HealthCheckResponse_SERVING)
}

package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

func dialBufconn(t *testing.T, s *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNewServer_HealthFollowsStatus(t *testing.T) {
	s, hs := NewServer(ServerConfig{Logger: slog.Default()})
	client := healthpb.NewHealthClient(dialBufconn(t, s))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, want NOT_SERVING", resp.GetStatus())
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestNewServer_EchoesRequestID(t *testing.T) {
	s, _ := NewServer(ServerConfig{})
	client := healthpb.NewHealthClient(dialBufconn(t, s))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("caller id", func(t *testing.T) {
		var header metadata.MD
		callCtx := metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, "req-42")
		if _, err := client.Check(callCtx, &healthpb.HealthCheckRequest{}, grpc.Header(&header)); err != nil {
			t.Fatalf("Check error: %v", err)
		}
		if got := header.Get(RequestIDMetadataKey); len(got) != 1 || got[0] != "req-42" {
			t.Fatalf("request id header = %v, want [req-42]", got)
		}
	})

	t.Run("minted id", func(t *testing.T) {
		var header metadata.MD
		if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}, grpc.Header(&header)); err != nil {
			t.Fatalf("Check error: %v", err)
		}
		if got := header.Get(RequestIDMetadataKey); len(got) != 1 || len(got[0]) != 32 {
			t.Fatalf("request id header = %v, want one 32-char id", got)
		}
	})
}

func TestDefaultRequestTimeoutInterceptor(t *testing.T) {
	interceptor := defaultRequestTimeoutInterceptor(50 * time.Millisecond)
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	t.Run("adds deadline", func(t *testing.T) {
		_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
			deadline, ok := ctx.Deadline()
			if !ok {
				t.Fatalf("handler context has no deadline")
			}
			if time.Until(deadline) > 50*time.Millisecond {
				t.Fatalf("deadline too far: %v", time.Until(deadline))
			}
			return nil, nil
		})
		if err != nil {
			t.Fatalf("interceptor error: %v", err)
		}
	})

	t.Run("keeps caller deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		want, _ := ctx.Deadline()

		_, _ = interceptor(ctx, nil, info, func(ctx context.Context, req any) (any, error) {
			got, _ := ctx.Deadline()
			if !got.Equal(want) {
				t.Fatalf("deadline = %v, want %v", got, want)
			}
			return nil, nil
		})
	})
}

func waitForStatus(t *testing.T, hs *health.Server, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err == nil && resp.GetStatus() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("health status never reached %v", want)
}

func TestWatchReadiness(t *testing.T) {
	hs := health.NewServer()
	var down atomic.Bool
	ready := func(ctx context.Context) error {
		if down.Load() {
			return errors.New("database unreachable")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchReadiness(ctx, hs, ready, 10*time.Millisecond, slog.Default())
		close(done)
	}()

	waitForStatus(t, hs, healthpb.HealthCheckResponse_SERVING)
	down.Store(true)
	waitForStatus(t, hs, healthpb.HealthCheckResponse_NOT_SERVING)
	down.Store(false)
	waitForStatus(t, hs, healthpb.HealthCheckResponse_SERVING)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("WatchReadiness did not return after cancel")
	}
	waitForStatus(t, hs, healthpb.HealthCheckResponse_NOT_SERVING)
}

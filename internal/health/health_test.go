package health

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestDeviceReadyToggles(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if got, err := s.Check(ctx, TelephonyService); err != nil || got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %v, %v", got, err)
	}
	s.SetDeviceReady(true)
	if got, _ := s.Check(ctx, TelephonyService); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status after ready = %v", got)
	}
	s.SetDeviceReady(false)
	if got, _ := s.Check(ctx, TelephonyService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after unregister = %v", got)
	}
	if got, _ := s.Check(ctx, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall status = %v", got)
	}
	if _, err := s.Check(ctx, "unknown.service"); err == nil {
		t.Fatal("unknown service did not error")
	}
}

func TestServeOverNetwork(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(nil)
	s.SetDeviceReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: TelephonyService})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

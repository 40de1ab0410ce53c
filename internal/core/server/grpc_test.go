package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/donorhub/segmentd/internal/core/api"
	"github.com/donorhub/segmentd/internal/core/auth"
	"github.com/donorhub/segmentd/internal/core/config"
	"github.com/donorhub/segmentd/internal/core/db"
	"github.com/donorhub/segmentd/internal/core/db/dbtest"
	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/segments"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var testSecret = []byte("testsecret1234567890abcdefghijklmnop")

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	conn *grpc.ClientConn
	key  string
	reg  *prometheus.Registry
	srv  *GRPCServer
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	_, q := dbtest.Open(t)

	svc, err := segments.NewService(db.NewDonorStore(q), db.NewSegmentStore(q), db.NewSuggestionStore(q),
		rules.NewEngine(nil), segments.Options{Logger: discard()})
	if err != nil {
		t.Fatalf("NewService() error = %v, want nil", err)
	}
	segAPI, err := api.NewSegmentAPI(svc, discard())
	if err != nil {
		t.Fatalf("NewSegmentAPI() error = %v, want nil", err)
	}
	authenticator := auth.NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q)
	key, err := authenticator.Issue(context.Background(), "org1", "test", testSecretID)
	if err != nil {
		t.Fatalf("Issue() error = %v, want nil", err)
	}

	cfg := config.DefaultServiceConfig()
	cfg.MetricsAddr = ""
	reg := prometheus.NewRegistry()
	srv, err := NewGRPCServer(cfg, segAPI, authenticator, Options{Logger: discard(), Registry: reg})
	if err != nil {
		t.Fatalf("NewGRPCServer() error = %v, want nil", err)
	}

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v, want nil", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testServer{conn: conn, key: key, reg: reg, srv: srv}
}

func TestNewGRPCServer_NilArgs(t *testing.T) {
	cfg := config.DefaultServiceConfig()
	authenticator := auth.NewAuthenticator(nil, nil)

	if _, err := NewGRPCServer(nil, &api.SegmentAPI{}, authenticator, Options{}); err == nil {
		t.Error("NewGRPCServer(nil cfg) error = nil, want error")
	}
	if _, err := NewGRPCServer(cfg, nil, authenticator, Options{}); err == nil {
		t.Error("NewGRPCServer(nil service) error = nil, want error")
	}
	if _, err := NewGRPCServer(cfg, &api.SegmentAPI{}, nil, Options{}); err == nil {
		t.Error("NewGRPCServer(nil authenticator) error = nil, want error")
	}
}

func TestGRPCServer_HealthWithoutKey(t *testing.T) {
	ts := startTestServer(t)

	for _, service := range []string{"", api.ServiceName} {
		resp, err := grpc_health_v1.NewHealthClient(ts.conn).Check(context.Background(),
			&grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) error = %v, want nil", service, err)
		}
		if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Errorf("Check(%q) = %v, want SERVING", service, resp.Status)
		}
	}
}

func TestGRPCServer_AuthAndMetrics(t *testing.T) {
	ts := startTestServer(t)
	client := api.NewClient(ts.conn)

	_, err := client.Catalog(context.Background())
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("Catalog() without key code = %v, want Unauthenticated", status.Code(err))
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", ts.key)
	if _, err := client.Catalog(ctx); err != nil {
		t.Fatalf("Catalog() error = %v, want nil", err)
	}

	if n := testutil.CollectAndCount(ts.reg, "segmentd_grpc_requests_total"); n != 2 {
		t.Errorf("requests_total series = %d, want 2 (one per code)", n)
	}
}

func TestTimeoutInterceptor(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/segmentd.v1.SegmentService/Catalog"}

	t.Run("sets deadline", func(t *testing.T) {
		var deadline time.Time
		var ok bool
		_, _ = timeoutInterceptor(time.Second)(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
			deadline, ok = ctx.Deadline()
			return nil, nil
		})
		if !ok {
			t.Fatal("handler context has no deadline")
		}
		if time.Until(deadline) > time.Second {
			t.Errorf("deadline %v is beyond the configured timeout", deadline)
		}
	})

	t.Run("zero disables", func(t *testing.T) {
		_, _ = timeoutInterceptor(0)(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
			if _, ok := ctx.Deadline(); ok {
				t.Error("handler context has a deadline, want none")
			}
			return nil, nil
		})
	})
}

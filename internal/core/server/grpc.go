// Package server provides gRPC server lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/donorhub/segmentd/internal/core/api"
	"github.com/donorhub/segmentd/internal/core/auth"
	"github.com/donorhub/segmentd/internal/core/config"
)

const shutdownTimeout = 30 * time.Second

// Options carries the optional collaborators of a GRPCServer.
type Options struct {
	Logger *slog.Logger
	// Registry receives the request metrics and is served on
	// ServiceConfig.MetricsAddr. Nil disables both.
	Registry *prometheus.Registry
}

// GRPCServer manages gRPC and metrics server lifecycle.
type GRPCServer struct {
	server  *grpc.Server
	health  *health.Server
	metrics *http.Server
	config  *config.ServiceConfig
	logger  *slog.Logger
}

// NewGRPCServer creates the gRPC server with its interceptor chain, the
// segment service and the health service registered.
func NewGRPCServer(cfg *config.ServiceConfig, service api.SegmentServiceServer, authenticator *auth.Authenticator, opts Options) (*GRPCServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var reg prometheus.Registerer
	if opts.Registry != nil {
		reg = opts.Registry
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			timeoutInterceptor(cfg.RequestTimeout),
			observeInterceptor(logger, newRequestMetrics(reg)),
			authenticator.UnaryInterceptor(),
		),
	)
	api.RegisterSegmentServiceServer(server, service)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(api.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	s := &GRPCServer{
		server: server,
		health: healthServer,
		config: cfg,
		logger: logger,
	}
	if opts.Registry != nil && cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
		s.metrics = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

// Start binds the listener and serves until Shutdown is called.
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener. The metrics endpoint, if
// configured, runs alongside.
func (s *GRPCServer) Serve(listener net.Listener) error {
	if s.metrics != nil {
		go func() {
			s.logger.Info("metrics listening", "addr", s.metrics.Addr)
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server failed", "error", err)
			}
		}()
	}
	s.logger.Info("grpc listening", "addr", listener.Addr().String())
	return s.server.Serve(listener)
}

// Shutdown marks the service NOT_SERVING and stops gracefully, forcing a
// stop after 30 seconds or when ctx ends.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	if s.metrics != nil {
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.metrics.Shutdown(mctx); err != nil {
			s.logger.Warn("metrics shutdown", "error", err)
		}
		cancel()
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(shutdownTimeout):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}

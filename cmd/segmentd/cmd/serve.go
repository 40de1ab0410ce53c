package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/donorhub/segmentd/internal/core/api"
	"github.com/donorhub/segmentd/internal/core/auth"
	"github.com/donorhub/segmentd/internal/core/config"
	"github.com/donorhub/segmentd/internal/core/db"
	"github.com/donorhub/segmentd/internal/core/server"
	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/segments"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC segment service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	def := config.DefaultServiceConfig()
	serveCmd.Flags().String("host", def.Host, "gRPC server host")
	serveCmd.Flags().Int("port", def.Port, "gRPC server port")
	serveCmd.Flags().String("metrics-addr", def.MetricsAddr, "Prometheus metrics listen address (empty disables)")
	serveCmd.Flags().Duration("request-timeout", def.RequestTimeout, "per-request deadline")
	serveCmd.Flags().Int("max-conditions", def.MaxConditions, "maximum conditions per rule group")
	serveCmd.Flags().Int("recalc-concurrency", def.RecalcConcurrency, "parallel recalculations in recalculate-all")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithFlags(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, queries, err := openMigrated()
	if err != nil {
		return err
	}
	defer database.Close()

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set SEGMENTD_HMAC_SECRET environment variable)")
	}
	authenticator := auth.NewAuthenticator(secrets, queries)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	logger := slog.Default()
	svc, err := segments.NewService(
		db.NewDonorStore(queries),
		db.NewSegmentStore(queries),
		db.NewSuggestionStore(queries),
		rules.NewEngine(nil),
		segments.Options{
			MaxConditions:     cfg.MaxConditions,
			RecalcConcurrency: cfg.RecalcConcurrency,
			Logger:            logger,
			Metrics:           segments.NewMetrics(reg),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	segAPI, err := api.NewSegmentAPI(svc, logger)
	if err != nil {
		return fmt.Errorf("failed to create api: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg, segAPI, authenticator, server.Options{Logger: logger, Registry: reg})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting segmentd", "version", Version, "addr", cfg.Addr(), "driver", database.DriverName())
	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
		return grpcServer.Shutdown(context.Background())
	}
}

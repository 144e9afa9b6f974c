package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/gateway/internal/apm"
	"github.com/sawpanic/gateway/internal/config"
	"github.com/sawpanic/gateway/internal/healthsrv"
	"github.com/sawpanic/gateway/internal/ipc"
	"github.com/sawpanic/gateway/internal/logx"
	"github.com/sawpanic/gateway/internal/metrics"
	"github.com/sawpanic/gateway/internal/pubreg"
	"github.com/sawpanic/gateway/internal/supervisor"
)

var runConfigPath string

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gateway until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), runConfigPath)
		},
	}
	cmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a YAML config file")
	return cmd
}

func runGateway(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := logx.Level(cfg.LogLevel)
	log := logx.New(os.Stderr, level)
	log.Info(ctx, "starting market-data gateway", "version", version,
		"gateway_id", cfg.GatewayID, "commit", commit)

	traceProvider := apm.NewTraceProvider(log, apm.WithProvider(apm.OTLPProvider, log))
	defer traceProvider.Stop()
	tracer := apm.NewTracer("gateway")

	metricProvider := metrics.NewMetricProvider(
		metrics.WithServiceName("trading-gateway"),
		metrics.WithProviderConfig(metrics.ProviderCfg{Provider: metrics.PrometheusProvider}),
	)
	defer metricProvider.Shutdown(context.Background())

	inst, err := metrics.NewInstruments(metricProvider.Meter("gateway"))
	if err != nil {
		return fmt.Errorf("failed to register metric instruments: %w", err)
	}

	healthServer := healthsrv.NewServer(fmt.Sprintf(":%d", cfg.MetricsPort), version)
	healthErrs := healthServer.Start()
	log.Info(ctx, "health and metrics server started", "port", cfg.MetricsPort)
	defer healthServer.Stop(context.Background())

	streams := ipc.NewRegistry(cfg.AeronDirOrDefault(), 4096)
	defer streams.CloseAll()

	reg := pubreg.New(streams, log, inst)

	sup := supervisor.New(cfg, log, reg, inst, tracer)
	sup.RegisterHealthChecks(healthServer)

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutdown signal received")
	case err := <-healthErrs:
		if err != nil {
			log.Error(ctx, "health server failed", "error", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil {
		log.Error(ctx, "error during supervisor shutdown", "error", err)
	}

	log.Info(ctx, "gateway stopped cleanly")
	return nil
}

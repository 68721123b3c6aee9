// Package main is the entry point for the chain gateway service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fd1az/chain-gateway/business/gateway"
	gatewayapp "github.com/fd1az/chain-gateway/business/gateway/app"
	gatewayDI "github.com/fd1az/chain-gateway/business/gateway/di"
	"github.com/fd1az/chain-gateway/business/nonce"
	"github.com/fd1az/chain-gateway/business/oracle"
	"github.com/fd1az/chain-gateway/business/provider"
	"github.com/fd1az/chain-gateway/business/streaming"
	"github.com/fd1az/chain-gateway/internal/apm"
	"github.com/fd1az/chain-gateway/internal/config"
	"github.com/fd1az/chain-gateway/internal/health"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/metrics"
	"github.com/fd1az/chain-gateway/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chain-gateway %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logLevel := logger.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		logLevel = logger.LevelDebug
	case "warn":
		logLevel = logger.LevelWarn
	case "error":
		logLevel = logger.LevelError
	}

	log := logger.New(os.Stderr, logLevel, cfg.App.Name, nil)
	log.Info(ctx, "starting chain gateway",
		"version", version,
		"environment", cfg.App.Environment,
		"chains", len(cfg.Chains),
	)

	// Initialize observability if enabled
	var traceProvider apm.TraceProvider
	if cfg.Telemetry.Enabled {
		// Set service name env var for OTEL
		if cfg.Telemetry.ServiceName != "" {
			os.Setenv("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
		}
		if cfg.Telemetry.OTLPEndpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
		}

		traceProvider = apm.NewTraceProvider(log, apm.WithProvider(apm.ZipkinProvider, log))
		log.Info(ctx, "tracing initialized", "provider", "zipkin", "endpoint", cfg.Telemetry.OTLPEndpoint)

		metrics.NewMetricProvider(
			metrics.WithServiceName(cfg.Telemetry.ServiceName),
			metrics.WithProviderConfig(metrics.ProviderCfg{
				Provider: metrics.PrometheusProvider,
			}),
		)

		// Start Prometheus metrics server in background
		port := cfg.Telemetry.PrometheusPort
		if port == 0 {
			port = 9090
		}
		go metrics.ServePrometheusMetrics(metrics.WithPort(strconv.Itoa(port)))
		log.Info(ctx, "prometheus metrics server started", "port", port)
	}
	defer func() {
		if traceProvider != nil {
			traceProvider.Stop()
		}
	}()

	// Create monolith (application container)
	mono, err := monolith.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	// Define modules in dependency order
	modules := []monolith.Module{
		&provider.Module{},  // Must be first - owns the RPC endpoint pool
		&oracle.Module{},    // Depends on provider for gas reads
		&nonce.Module{},     // Depends on provider for on-chain nonce reads
		&streaming.Module{}, // Depends on provider for reorg walk-back
		&gateway.Module{},   // Façade over everything, must be last
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}

	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	gw := gatewayDI.GetGateway(mono.Services())

	// Health check server exposes the gateway's component probes
	healthPort := cfg.App.HealthPort
	if healthPort == 0 {
		healthPort = 8081
	}
	healthServer := health.NewServer(healthPort, version)
	registerHealthChecks(healthServer, gw)
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", healthPort)
	}
	defer healthServer.Stop(context.Background())

	log.Info(ctx, "all modules started, gateway is serving")

	// Wait for shutdown
	<-ctx.Done()

	log.Info(ctx, "shutting down")

	if err := gw.Shutdown(context.Background()); err != nil {
		log.Error(ctx, "error during gateway shutdown", "error", err)
	}

	return nil
}

// registerHealthChecks bridges the gateway's component probes onto the HTTP
// health server.
func registerHealthChecks(srv *health.Server, gw *gatewayapp.Gateway) {
	components := []string{
		"provider_manager",
		"gas_oracle",
		"nonce_manager",
		"subscription_manager",
		"reorg_detector",
		"rate_limiter",
	}
	for _, name := range components {
		name := name
		srv.RegisterCheck(name, func(ctx context.Context) (string, string) {
			return string(gw.GetHealth(ctx)[name]), ""
		})
	}
}

// Outreach Server
//
// Standalone gRPC server for the outreach drafting engine.
//
// Usage:
//
//	go run ./cmd                                  # Default :50051
//	go run ./cmd -addr :8080 -config outreach.yaml
//	go build -o outreach-server ./cmd && ./outreach-server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeeves-cluster-organization/outreach/coreengine/app"
	"github.com/jeeves-cluster-organization/outreach/coreengine/config"
	"github.com/jeeves-cluster-organization/outreach/coreengine/grpc"
	"github.com/jeeves-cluster-organization/outreach/coreengine/logging"
	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
)

const shutdownTimeout = 30 * time.Second

func main() {
	addr := flag.String("addr", ":50051", "gRPC server address")
	configPath := flag.String("config", "", "YAML settings file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics address (empty disables)")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces (overrides config)")
	development := flag.Bool("dev", false, "human-readable console logs")
	flag.Parse()

	if err := run(*addr, *configPath, *metricsAddr, *otlpEndpoint, *development); err != nil {
		fmt.Fprintf(os.Stderr, "outreach server: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, configPath, metricsAddr, otlpEndpoint string, development bool) error {
	settings, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if err := settings.ApplyEnvOverrides(os.LookupEnv); err != nil {
		return err
	}
	if otlpEndpoint != "" {
		settings.Infra.OTLPEndpoint = otlpEndpoint
	}

	zl, err := logging.New(settings.Outreach.LogLevel, development)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Bind("service", "outreach")
	logger.Info("outreach_server_starting", "version", observability.ServiceVersion, "address", addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.Infra.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
			ServiceName: "outreach",
			Endpoint:    settings.Infra.OTLPEndpoint,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(sctx); err != nil {
				logger.Warn("tracer_shutdown_failed", "error", err.Error())
			}
		}()
		logger.Info("tracing_enabled", "endpoint", settings.Infra.OTLPEndpoint)
	}

	engine, err := app.New(ctx, settings, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("engine_close_failed", "error", err.Error())
		}
	}()

	if metricsAddr != "" {
		metrics := startMetricsServer(metricsAddr, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Shutdown(sctx)
		}()
	}

	server := grpc.NewGracefulServer(
		grpc.NewOutreachServer(engine.Runner, logger),
		addr,
		grpc.ServerOptions(logger, engine.RateLimiter)...,
	)

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(serveCtx) }()

	logger.Info("outreach_server_ready", "address", addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown_signal_received")
	}

	// Bound the drain so a stuck stream cannot hold the process open.
	server.ShutdownWithTimeout(shutdownTimeout)
	cancelServe()
	<-errCh
	logger.Info("outreach_server_stopped")
	return nil
}

func startMetricsServer(addr string, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", "error", err.Error())
		}
	}()
	logger.Info("metrics_server_started", "address", addr)
	return srv
}

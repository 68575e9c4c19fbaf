package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropwire/coordinator/internal/config"
	"github.com/dropwire/coordinator/internal/liveness"
	"github.com/dropwire/coordinator/internal/observability"
	"github.com/dropwire/coordinator/internal/quicutil"
	"github.com/dropwire/coordinator/internal/registry"
	"github.com/dropwire/coordinator/internal/router"
	"github.com/dropwire/coordinator/internal/server"
	"github.com/dropwire/coordinator/internal/transfer"
	"github.com/dropwire/coordinator/internal/validation"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	wsAddr := flag.String("listen", "", "WebSocket listen address (overrides config)")
	quicAddr := flag.String("quic-listen", "", "QUIC listen address (overrides config)")
	obsAddr := flag.String("obs-listen", "", "Metrics/health listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Logging level (overrides config)")
	flag.Parse()

	logger := observability.NewLogger("dropwire-coordinator", version, os.Stdout)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal(err, "Failed to load config")
	}
	if *wsAddr != "" {
		cfg.WSAddress = *wsAddr
	}
	if *quicAddr != "" {
		cfg.QUICAddress = *quicAddr
	}
	if *obsAddr != "" {
		cfg.ObsAddress = *obsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	observability.SetLevel(cfg.LogLevel)

	if err := validation.ValidateAddr(cfg.WSAddress); err != nil {
		logger.Fatal(err, "Invalid WebSocket listen address")
	}
	if err := validation.ValidateAddr(cfg.ObsAddress); err != nil {
		logger.Fatal(err, "Invalid observability listen address")
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker(version)
	tracingShutdown, err := observability.InitTracing(context.Background(), "dropwire-coordinator")
	if err != nil {
		logger.Error(err, "Failed to initialize tracing")
	} else {
		defer tracingShutdown(context.Background())
	}

	logger.Info("Dropwire coordinator starting...")

	reg := registry.NewRegistry(cfg.SendDeadline(), cfg.RosterSettle(), logger, metrics)
	table := transfer.NewTable(logger, metrics)
	rt := router.NewRouter(cfg, reg, table, logger, metrics)
	monitor := liveness.NewMonitor(reg, cfg.LivenessWindow(), cfg.LivenessSweep(), logger, metrics)

	healthChecker.RegisterCheck("ws_listener", observability.ListenerCheck("websocket", cfg.WSAddress))
	healthChecker.RegisterCheck("quic_listener", observability.ListenerCheck("quic", cfg.QUICAddress))
	healthChecker.RegisterCheck("sessions", observability.SessionCountCheck(reg.Count, 0))
	healthChecker.RegisterCheck("transfers", observability.TransferCountCheck(table.Count))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Run(ctx)
	go rt.Run(ctx)

	wsServer := server.NewWSServer(cfg, rt, logger, metrics)
	httpServer := &http.Server{
		Addr:    cfg.WSAddress,
		Handler: wsServer.Handler(),
	}
	go func() {
		logger.Info("WebSocket ingress listening on " + cfg.WSAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err, "WebSocket server error")
		}
	}()

	if cfg.QUICAddress != "" {
		certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
		if err != nil {
			logger.Fatal(err, "Failed to generate TLS certificate")
		}
		tlsConf, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
		if err != nil {
			logger.Fatal(err, "Failed to create TLS config")
		}
		gateway := server.NewQUICGateway(cfg, tlsConf, rt, logger, metrics)
		go func() {
			logger.Info("QUIC gateway listening on " + cfg.QUICAddress)
			if err := gateway.Run(ctx); err != nil {
				logger.Error(err, "QUIC gateway error")
			}
		}()
	}

	go startObservabilityServer(cfg.ObsAddress, metrics, healthChecker, logger)

	logger.Info("Dropwire coordinator running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	reg.CloseAll()

	logger.Info("Coordinator stopped")
}

// startObservabilityServer exposes /metrics, /health, and /debug/pprof.
func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	logger.Info("Observability server listening on " + addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error(err, "Observability server error")
	}
}

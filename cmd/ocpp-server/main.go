package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"

	"github.com/pavolrusnak/ocpp-session-gateway/internal/activity"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/bridge"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/clock"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/config"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/httpapi"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/liveness"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/metrics"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/ocpp"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/session"
	"github.com/pavolrusnak/ocpp-session-gateway/internal/station"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("starting OCPP session gateway")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("configuration loaded",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("bridge_configured", cfg.BridgeURL != ""))

	registry := station.New()
	sessions := session.New()
	activityLog := activity.New()
	bridgeClient := bridge.New(cfg.BridgeURL, cfg.BridgeSecret, logger)
	realClock := clock.Real{}

	meterProvider, err := newMeterProvider()
	if err != nil {
		logger.Fatal("failed to set up metrics exporter", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down meter provider", zap.Error(err))
		}
	}()

	m, err := metrics.New(meterProvider.Meter("ocpp-session-gateway"), sourcesAdapter{registry, sessions})
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	ocppServer := ocpp.New(registry, sessions, activityLog, bridgeClient, m, realClock, logger)
	supervisor := liveness.New(registry, sessions, activityLog, bridgeClient, m, realClock, logger, cfg.HeartbeatTimeout, cfg.GhostPowerTimeout)

	liveCtx, cancelLive := context.WithCancel(context.Background())
	go supervisor.Run(liveCtx)
	defer cancelLive()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{AllowedOrigins: cfg.CORSOrigins}).Handler)

	ocppServer.Mount(r)

	api := httpapi.New(registry, sessions, activityLog, logger)
	r.Route("/api", func(r chi.Router) {
		r.Mount("/", api.Routes())
	})
	api.MountCommand(r)

	logs := httpapi.NewLogs(sessions, logger)
	logs.Routes(r)

	dashboard := httpapi.NewDashboard(registry, sessions, logger)
	r.Get("/", dashboard.ServeHTTP)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("gateway ready",
		zap.String("dashboard", "http://localhost"+cfg.HTTPAddr),
		zap.String("ocpp_endpoint", "ws://localhost"+cfg.HTTPAddr+"/ocpp16/{station_id}"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancelLive()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}

// sourcesAdapter bridges the station registry and session store to the
// narrow interface metrics.New reads from at each collection tick.
type sourcesAdapter struct {
	registry *station.Registry
	sessions *session.Store
}

func (a sourcesAdapter) StationsOnline() int { return a.registry.CountOnline() }
func (a sourcesAdapter) ActiveSessions() int { return a.sessions.CountActive() }

// newMeterProvider exports metrics to stdout: no collector endpoint is
// configured for this gateway, so readings are logged locally rather
// than shipped over OTLP.
func newMeterProvider() (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(30*time.Second))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), nil
}

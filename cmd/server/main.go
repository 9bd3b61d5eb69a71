// Escalation engine server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/myle1996kh/base-chatbot/internal/api"
	"github.com/myle1996kh/base-chatbot/internal/config"
	"github.com/myle1996kh/base-chatbot/internal/escalation"
	"github.com/myle1996kh/base-chatbot/internal/identity"
	"github.com/myle1996kh/base-chatbot/internal/metrics"
	"github.com/myle1996kh/base-chatbot/internal/middleware"
	"github.com/myle1996kh/base-chatbot/internal/notify"
	"github.com/myle1996kh/base-chatbot/internal/rpc"
	"github.com/myle1996kh/base-chatbot/internal/store"
	"github.com/myle1996kh/base-chatbot/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

// run owns every resource so deferred cleanup happens before main exits.
func run(cfg *config.Config) error {
	if err := escalation.ValidateSchedule(cfg.Escalation.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "db_driver", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(cfg.DB.Driver, cfg.DB.Path, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected")

	tracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: "escalation-engine",
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Notification sinks. Bus sinks are optional; a failed connection only
	// disables that sink.
	hub := notify.NewHub(cfg.AllowedOrigin, m)
	sinks := []notify.Sink{hub}
	if cfg.Notify.RabbitMQURL != "" {
		amqpSink, err := notify.NewAMQPPublisher(cfg.Notify.RabbitMQURL, cfg.Notify.RabbitMQExchange)
		if err != nil {
			slog.Warn("RabbitMQ unavailable, bus notifications disabled", "error", err)
		} else {
			defer func() { _ = amqpSink.Close() }()
			sinks = append(sinks, amqpSink)
		}
	}
	if cfg.Notify.RedisURL != "" {
		redisSink, err := notify.NewRedisPublisher(cfg.Notify.RedisURL)
		if err != nil {
			slog.Warn("Redis unavailable, cross-instance notifications disabled", "error", err)
		} else {
			defer func() { _ = redisSink.Close() }()
			sinks = append(sinks, redisSink)
		}
	}
	dispatcher := notify.NewDispatcher(cfg.Notify.QueueSize, m, sinks...)

	svc := escalation.NewService(repo,
		escalation.WithPublisher(dispatcher),
		escalation.WithMetrics(m),
		escalation.WithTenantCache(escalation.NewTenantCache(repo, cfg.Escalation.KeywordCacheTTL)),
	)

	if _, err := escalation.StartSweeper(ctx, svc, cfg.Escalation.SweepSchedule); err != nil {
		return fmt.Errorf("failed to start queue sweeper: %w", err)
	}

	auth, err := identity.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	router := api.NewRouter(api.NewHandler(svc, repo, hub), api.RouterConfig{
		Auth:           auth,
		AllowedOrigins: cfg.AllowedOrigin,
		RequestTimeout: cfg.Escalation.RequestTimeout,
		PublicLimiter:  middleware.NewRateLimiter(cfg.Escalation.PublicRate, cfg.Escalation.PublicBurst),
		Gatherer:       reg,
	})

	// WebSocket streams are long lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	health := rpc.NewHealthServer(repo, 0)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	go func() {
		if err := health.Serve(ctx, lis); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll()
	health.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Warn("Pending notifications dropped at shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/your-org/attendance/internal/api"
	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/identity"
	"github.com/your-org/attendance/internal/mjpeg"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/queue"
	"github.com/your-org/attendance/internal/session"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	gin.SetMode(gin.ReleaseMode)

	slog.Info("starting attendance service", "port", cfg.Server.Port, "stream", cfg.Stream.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize ONNX Runtime
	if err := vision.InitRuntime(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer vision.DestroyRuntime()

	backend, err := vision.NewONNXBackend(cfg.Vision)
	if err != nil {
		slog.Error("init vision backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	registry := identity.NewRegistry(minioStore, backend, cfg.MinIO.FacesPrefix, cfg.Vision.DetectionThreshold)
	if err := registry.Refresh(ctx); err != nil {
		slog.Warn("initial identity refresh", "error", err)
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	checks := map[string]handlers.Check{
		"minio": minioStore.Ping,
	}
	sinks := []session.EventSink{hub.BroadcastEvent}

	// NATS is optional; without it events only reach websocket clients.
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStream(ctx); err != nil {
			slog.Warn("ensure nats stream", "error", err)
		}
		sinks = append(sinks, producer.PublishEvent)
		checks["nats"] = func(context.Context) error { return producer.Ping() }
	}

	source, err := mjpeg.NewSource(cfg.Stream.URL, mjpeg.SourceOptions{
		DialTimeout: cfg.Stream.DialTimeout,
		FPS:         cfg.Stream.TranscodeFPS,
		Width:       cfg.Stream.TranscodeWidth,
	})
	if err != nil {
		slog.Error("configure stream source", "error", err)
		os.Exit(1)
	}

	sess, err := session.New(source, vision.NewMatcher(backend, cfg.Vision.MatchDistanceThreshold), registry, session.Options{
		Stream:              cfg.Stream,
		Attendance:          cfg.Attendance,
		DetectionConfidence: cfg.Vision.DetectionThreshold,
	}, sinks...)
	if err != nil {
		slog.Error("create session", "error", err)
		os.Exit(1)
	}
	sess.Start(ctx)
	defer sess.Close()

	checks["stream"] = func(context.Context) error {
		if !sess.StreamReady() {
			return fmt.Errorf("stream %s", sess.StreamStatus().State)
		}
		return nil
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		Engine:   sess.Engine(),
		Registry: registry,
		Enroller: sess,
		Frames:   sess.Frames(),
		Status:   sess.StreamStatus,
		Hub:      hub,
		Checks:   checks,
	})

	// Start HTTP server. No WriteTimeout: /v1/stream responses are unbounded.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,

		// Stream proxies wait on new frames; cancelling ctx releases them on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down attendance service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("attendance service stopped")
}

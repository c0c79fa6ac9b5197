// Package main provides the entry point for the adaptive parameter server.
// It samples market conditions per symbol, detects market events, and keeps
// each strategy's effective parameters in line with active adjustments.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/adjust"
	"github.com/atlas-desktop/adaptive-backend/internal/api"
	"github.com/atlas-desktop/adaptive-backend/internal/config"
	"github.com/atlas-desktop/adaptive-backend/internal/control"
	"github.com/atlas-desktop/adaptive-backend/internal/data"
	"github.com/atlas-desktop/adaptive-backend/internal/events"
	"github.com/atlas-desktop/adaptive-backend/internal/metrics"
	"github.com/atlas-desktop/adaptive-backend/internal/params"
	"github.com/atlas-desktop/adaptive-backend/internal/regime"
	"github.com/atlas-desktop/adaptive-backend/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()

	bindings := cfg.Bindings()
	logger.Info("Starting adaptive parameter server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("symbols", len(bindings)),
		zap.Duration("sampleInterval", cfg.Loop.SampleInterval),
		zap.Duration("reviewInterval", cfg.Loop.ReviewInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Market data
	barStore, err := data.NewStore(logger, cfg.Source.StoreConfig)
	if err != nil {
		logger.Fatal("Failed to initialize bar store", zap.Error(err))
	}
	indicators := data.NewIndicatorSource(barStore, regime.NewClassifier(cfg.Regime), cfg.Indicators)
	source := data.NewGuardedSource(logger, indicators, cfg.Source.GuardConfig)
	snapshotter := data.NewSnapshotter(logger, source, data.NewSnapshotCache(), cfg.Loop.SnapshotterConfig)

	// Event and adjustment pipeline
	feed := events.NewFeed(logger, cfg.Feed)
	defer feed.Close()
	registry := adjust.NewRegistry(logger, cfg.Registry, cfg.Revert)

	paramStore := params.NewMemoryStore(logger)
	for _, b := range bindings {
		paramStore.SetBaseline(b.StrategyID, cfg.BaselineFor(b.StrategyID))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	loop, err := control.New(logger, cfg.Loop.LoopConfig, bindings, control.Dependencies{
		Snapshotter: snapshotter,
		Detector:    events.NewDetector(cfg.Detector),
		History:     events.NewHistory(cfg.History.Size),
		Registry:    registry,
		Feed:        feed,
		Params:      paramStore,
		Metrics:     metrics.New(reg),
	})
	if err != nil {
		logger.Fatal("Failed to build control loop", zap.Error(err))
	}

	// Optional audit trail
	var recorder *store.RedisRecorder
	if cfg.Redis.Enabled() {
		client := store.NewClient(cfg.Redis)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Warn("Redis unavailable, audit recording disabled",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err),
			)
			client.Close()
		} else {
			defer client.Close()
			recorder = store.NewRedisRecorder(logger, client, feed, cfg.Redis)
			recorder.Start(ctx)
		}
	}

	// API
	hub := api.NewHub(logger, cfg.Server.MaxConnections)
	go hub.Run(ctx, feed)

	server := api.NewServer(logger, cfg.Server, loop, hub, paramStore, reg)

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := loop.Start(ctx); err != nil {
		logger.Fatal("Failed to start control loop", zap.Error(err))
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	logger.Info("Server started successfully",
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.Bool("redis", recorder != nil),
	)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutdown signal received")

	loop.Stop()
	if recorder != nil {
		recorder.Stop()
	}
	cancel()

	// Graceful server shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}

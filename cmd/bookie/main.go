package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MegAtonBoom/bookkeeper/bookie"
	"github.com/MegAtonBoom/bookkeeper/config"
	"github.com/MegAtonBoom/bookkeeper/hooks"
	"github.com/MegAtonBoom/bookkeeper/hooks/listeners"
	"github.com/MegAtonBoom/bookkeeper/journal"
	"github.com/MegAtonBoom/bookkeeper/server"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider
// exporting to the configured OTLP collector.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error

	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("bookie")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}

	return tp, cleanup, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	checkpointInterval := flag.Duration("checkpoint-interval", time.Minute, "How often journaled entries are checkpointed")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// Use a temporary logger for pre-config errors
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	var metricSrv *server.MetricsServer
	if cfg.Debug.Enabled {
		metricSrv = server.NewMetricsServer(&cfg.Debug, logger)
		go func() {
			if err := metricSrv.Start(); err != nil {
				logger.Error("Failed to start metrics server", "error", err)
			}
		}()
	}

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		os.Exit(1)
	}
	defer tracerCleanup()

	opts, err := bookie.OptionsFromConfig(cfg, logger)
	if err != nil {
		logger.Error("Invalid bookie configuration", "error", err)
		os.Exit(1)
	}

	// --- Register Hooks ---
	hookManager := hooks.NewHookManager(logger)
	hookManager.Register(hooks.EventPostJournalReplay, listeners.NewReplayStatsListener(logger))
	hookManager.Register(hooks.EventPostJournalScan, listeners.NewTruncationAlerterListener(logger))
	defer hookManager.Stop()
	// --- End Register Hooks ---

	opts.HookManager = hookManager
	opts.Tracer = tp.Tracer("bookie")
	opts.BytesWritten = journalBytesWritten
	opts.FramesReplayed = journalFramesReplayed
	opts.Truncations = journalTruncations

	// The collector publishes disk usage of every journal and ledger directory on /metrics.
	monitored := append(append([]string{}, cfg.Bookie.Journal.Dirs...), cfg.Bookie.LedgerDirs...)
	systemCollector := server.NewSystemCollector(monitored, 2*time.Second, logger)
	systemCollector.Start()
	defer systemCollector.Stop()

	bk, err := bookie.New(opts)
	if err != nil {
		logger.Error("Failed to bootstrap bookie directories", "error", err)
		os.Exit(1)
	}

	if metricSrv != nil {
		metricSrv.HandleStatus("/debug/bookie", func() (any, error) { return bk.Status() })
	}

	// No ledger storage is attached, so replayed entries are only summarised.
	summary, err := journal.NewSummaryScanner()
	if err != nil {
		logger.Error("Failed to create replay scanner", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bk.Start(ctx, summary); err != nil {
		logger.Error("Failed to start bookie", "error", err)
		_ = bk.Shutdown(context.Background())
		os.Exit(1)
	}
	s := summary.Summary()
	logger.Info("Journal replay summary", "frames", s.Frames, "payload_bytes", s.PayloadBytes, "ledgers", s.DistinctLedgers)

	logger.Info("Bookie running. Press Ctrl+C to exit.")
	ticker := time.NewTicker(*checkpointInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			if _, err := bk.Checkpoint(ctx); err != nil {
				logger.Error("Checkpoint failed", "error", err)
			}
		case <-ctx.Done():
			break loop
		}
	}

	logger.Info("Shutdown signal received. Stopping bookie...")
	if err := bk.Shutdown(context.Background()); err != nil {
		logger.Error("Bookie shutdown failed", "error", err)
	}
	if metricSrv != nil {
		metricSrv.Stop()
	}
	logger.Info("Bookie exited gracefully.")
}

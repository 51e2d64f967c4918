// Package main provides the sheetpipe ingestion service.
//
// Each worker consumes file messages from Kafka and upserts their rows, batch by
// batch, into the configured target table while recording progress.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sheetpipe-io/sheetpipe/internal/config"
	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
	"github.com/sheetpipe-io/sheetpipe/internal/metrics"
	"github.com/sheetpipe-io/sheetpipe/internal/queue"
	"github.com/sheetpipe-io/sheetpipe/internal/storage"
	"github.com/sheetpipe-io/sheetpipe/internal/target"
)

// Version information.
const (
	version = "0.1.0"
	name    = "sheetpipe-ingester"

	metricsShutdownTimeout = 5 * time.Second
	metricsReadTimeout     = 10 * time.Second
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		slog.Error("Ingestion service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	logger := config.NewLogger(config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo))
	slog.SetDefault(logger)

	ingestorConfig := ingestion.LoadIngestorConfig()
	if err := ingestorConfig.Validate(); err != nil {
		return err
	}

	workers := ingestion.LoadWorkers()

	logger.Info("Starting ingestion service",
		slog.String("service", name),
		slog.String("version", version),
		slog.Int("workers", workers),
		slog.Int("batch_size", ingestorConfig.BatchSize),
		slog.Duration("batch_timeout", ingestorConfig.BatchTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	targetConfig, err := target.LoadConfig(config.GetEnvStr(target.ConfigPathEnvVar, target.DefaultConfigPath))
	if err != nil {
		return err
	}

	logger.Info("Loaded target configuration",
		slog.String("table", targetConfig.Table),
		slog.String("key_column", targetConfig.KeyColumn),
		slog.Any("columns", targetConfig.Columns),
	)

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}

	dbConn, err := storage.NewConnection(ctx, storageConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	store, err := storage.NewProgressStore(dbConn, logger)
	if err != nil {
		return fmt.Errorf("failed to create progress store: %w", err)
	}

	writer, err := storage.NewTableWriter(dbConn, targetConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create table writer: %w", err)
	}

	queueConfig := queue.LoadConfig()
	if err := queueConfig.Validate(); err != nil {
		return fmt.Errorf("invalid queue configuration: %w", err)
	}

	if err := queue.EnsureTopic(ctx, queueConfig, logger); err != nil {
		return fmt.Errorf("failed to ensure topic: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.NewPipeline(registry)

	group, groupCtx := errgroup.WithContext(ctx)

	if addr := config.GetEnvStr("SHEETPIPE_METRICS_ADDR", ""); addr != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, addr, registry, logger)
		})
	}

	for worker := range workers {
		subscriber, err := queue.NewKafkaSubscriber(queueConfig)
		if err != nil {
			stop()
			_ = group.Wait()

			return fmt.Errorf("failed to create subscriber: %w", err)
		}

		workerLogger := logger.With(slog.Int("worker", worker))
		ingestor := ingestion.NewIngestor(subscriber, store, writer, ingestorConfig, workerLogger, pipelineMetrics)

		group.Go(func() error {
			defer func() {
				if err := subscriber.Close(); err != nil {
					workerLogger.Warn("Failed to close subscriber", slog.String("error", err.Error()))
				}
			}()

			return ingestor.Run(groupCtx)
		})
	}

	logger.Info("Ingestion workers started",
		slog.Any("brokers", queueConfig.Brokers),
		slog.String("topic", queueConfig.Topic),
		slog.String("group_id", queueConfig.GroupID),
	)

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("Ingestion service stopped")

	return nil
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("Metrics listener started", slog.String("address", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics shutdown: %w", err)
	}

	return nil
}

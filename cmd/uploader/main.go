// Package main provides the sheetpipe upload service.
//
// The service accepts CSV uploads over HTTP, records an Uploaded FileState,
// publishes the parsed file to Kafka and serves progress reads.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sheetpipe-io/sheetpipe/internal/api"
	"github.com/sheetpipe-io/sheetpipe/internal/api/middleware"
	"github.com/sheetpipe-io/sheetpipe/internal/config"
	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
	"github.com/sheetpipe-io/sheetpipe/internal/metrics"
	"github.com/sheetpipe-io/sheetpipe/internal/queue"
	"github.com/sheetpipe-io/sheetpipe/internal/storage"
)

const name = "sheetpipe-uploader"

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s %s\n", name, api.Version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		slog.Error("Upload service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	serverConfig := api.LoadServerConfig()
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	logger := config.NewLogger(serverConfig.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Starting upload service",
		slog.String("service", name),
		slog.String("version", api.Version),
		slog.String("address", serverConfig.Address()),
		slog.Int64("max_upload_size", serverConfig.MaxUploadSize),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	logger.Info("Progress store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	queueConfig := queue.LoadConfig()
	if err := queueConfig.Validate(); err != nil {
		return fmt.Errorf("invalid queue configuration: %w", err)
	}

	if err := queue.EnsureTopic(ctx, queueConfig, logger); err != nil {
		return fmt.Errorf("failed to ensure topic: %w", err)
	}

	publisher, err := queue.NewKafkaPublisher(queueConfig)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}

	defer func() {
		_ = publisher.Close()
	}()

	logger.Info("Kafka publisher initialized",
		slog.Any("brokers", queueConfig.Brokers),
		slog.String("topic", queueConfig.Topic),
		slog.Int64("max_message_bytes", queueConfig.MaxMessageBytes),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	batchSize := ingestion.LoadIngestorConfig().BatchSize
	uploader := ingestion.NewUploader(store, publisher, batchSize, logger, metrics.NewPipeline(registry))

	deps := api.Dependencies{
		Uploader: uploader,
		States:   store,
		Gatherer: registry,
	}

	keys, err := middleware.ParseBcryptKeys(serverConfig.UploadKeyHashes)
	if err != nil {
		return fmt.Errorf("invalid upload key hashes: %w", err)
	}

	// A typed nil would read as an enabled verifier.
	if keys != nil {
		deps.Keys = keys

		logger.Info("Upload authentication enabled", slog.Int("keys", keys.Len()))
	} else {
		logger.Warn("Upload authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set SHEETPIPE_UPLOAD_KEY_HASHES to enable API key authentication"),
		)
	}

	rateLimitConfig := middleware.LoadConfig()
	deps.RateLimiter = middleware.NewInMemoryRateLimiter(rateLimitConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", rateLimitConfig.GlobalRPS),
		slog.Int("caller_rps", rateLimitConfig.CallerRPS),
		slog.Int("anon_rps", rateLimitConfig.AnonRPS),
	)

	server := api.NewServer(serverConfig, deps, logger)

	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("Upload service stopped")

	return nil
}

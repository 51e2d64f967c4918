package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sheetpipe-io/sheetpipe/internal/api/middleware"
	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
)

type (
	// FileUploader accepts a CSV upload and enqueues it. Implemented by ingestion.Uploader.
	FileUploader interface {
		Upload(ctx context.Context, fileName string, r io.Reader) (*ingestion.UploadResult, error)
	}

	// FileStateReader reads progress records. Implemented by every ingestion.ProgressStore.
	FileStateReader interface {
		Get(ctx context.Context, fileID string) (*ingestion.FileState, error)
		HealthCheck(ctx context.Context) error
	}

	// Dependencies are the runtime collaborators of the server. Keys, RateLimiter and
	// Gatherer are optional; a nil value disables the feature.
	Dependencies struct {
		Uploader    FileUploader
		States      FileStateReader
		Keys        middleware.KeyVerifier
		RateLimiter middleware.RateLimiter
		Gatherer    prometheus.Gatherer
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer *http.Server
		handler    http.Handler
		logger     *slog.Logger
		config     *ServerConfig
		deps       Dependencies
		public     *middleware.PublicPaths
		startTime  time.Time
	}
)

// NewServer creates the server and its middleware stack.
//
// Middleware executes in the order listed:
//  1. CorrelationID - every response carries X-Correlation-ID
//  2. Recovery - panics become 500 problems
//  3. Authentication - upload keys, skipped for public routes (optional)
//  4. RateLimit - per-caller token buckets (optional)
//  5. RequestLogger - logs only requests that passed auth and rate limits
//  6. CORS - headers for the browser upload form
func NewServer(cfg *ServerConfig, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	server := &Server{
		logger:    logger,
		config:    cfg,
		deps:      deps,
		public:    middleware.NewPublicPaths(),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	if deps.Keys != nil {
		logger.Info("Upload authentication enabled")
	} else {
		logger.Warn("No upload keys configured - upload authentication disabled")
	}

	if deps.RateLimiter == nil {
		logger.Warn("RateLimiter not configured - rate limiting disabled")
	}

	server.handler = middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuthentication(deps.Keys, server.public, logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           server.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return server
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("server failed to listen on %s: %w", s.config.Address(), err)
	}

	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.startTime = time.Now()
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting sheetpipe upload server",
			slog.String("address", listener.Addr().String()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Int64("max_upload_size", s.config.MaxUploadSize),
		)

		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}

		close(serverErrors)
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed", slog.String("error", err.Error()))

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if closer, ok := s.deps.RateLimiter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}

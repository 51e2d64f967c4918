// Package api provides the HTTP server for the sheetpipe upload service.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheetpipe-io/sheetpipe/internal/config"
)

const (
	defaultPort          int    = 8080
	maxPort              int    = 65535
	defaultHost          string = "0.0.0.0"
	defaultCORSMaxAge    int    = 86400
	defaultReadTimeout          = 60 * time.Second
	defaultWriteTimeout         = 60 * time.Second
	defaultShutdownTime         = 30 * time.Second
	defaultLogLevel             = slog.LevelInfo
	defaultMaxUploadSize int64  = 32 << 20
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidTimeout indicates a zero or negative server timeout.
	ErrInvalidTimeout = errors.New("timeout must be positive")

	// ErrInvalidMaxUploadSize indicates the upload size limit is zero or negative.
	ErrInvalidMaxUploadSize = errors.New("max upload size must be positive")
)

type (
	// ServerConfig holds HTTP server configuration.
	// Pure configuration only - no runtime dependencies.
	ServerConfig struct {
		Port               int
		Host               string
		ReadTimeout        time.Duration
		WriteTimeout       time.Duration
		ShutdownTimeout    time.Duration
		LogLevel           slog.Level
		MaxUploadSize      int64
		CORSAllowedOrigins []string
		CORSAllowedMethods []string
		CORSAllowedHeaders []string
		CORSMaxAge         int

		// UploadKeyHashes are "name:bcrypt-hash" entries. Empty disables authentication.
		UploadKeyHashes []string
	}

	// CORSConfig holds CORS configuration options.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig loads server configuration from environment variables with sensible defaults.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("SHEETPIPE_SERVER_PORT", defaultPort),
		Host:            config.GetEnvStr("SHEETPIPE_SERVER_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("SHEETPIPE_SERVER_READ_TIMEOUT", defaultReadTimeout),
		WriteTimeout:    config.GetEnvDuration("SHEETPIPE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
		ShutdownTimeout: config.GetEnvDuration("SHEETPIPE_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTime),
		LogLevel:        config.GetEnvLogLevel("SHEETPIPE_SERVER_LOG_LEVEL", defaultLogLevel),
		MaxUploadSize:   config.GetEnvInt64("SHEETPIPE_MAX_UPLOAD_SIZE", defaultMaxUploadSize),
		CORSAllowedOrigins: config.ParseCommaSeparatedList(
			config.GetEnvStr("SHEETPIPE_CORS_ALLOWED_ORIGINS", "*"),
		),
		CORSAllowedMethods: config.ParseCommaSeparatedList(
			config.GetEnvStr("SHEETPIPE_CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
		),
		CORSAllowedHeaders: config.ParseCommaSeparatedList(
			config.GetEnvStr("SHEETPIPE_CORS_ALLOWED_HEADERS", "Content-Type,Authorization,X-Correlation-ID,X-Api-Key"),
		),
		CORSMaxAge:      config.GetEnvInt("SHEETPIPE_CORS_MAX_AGE", defaultCORSMaxAge),
		UploadKeyHashes: config.ParseCommaSeparatedList(config.GetEnvStr("SHEETPIPE_UPLOAD_KEY_HASHES", "")),
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCORSConfig converts ServerConfig CORS fields to middleware.CORSConfig.
func (c *ServerConfig) ToCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c *CORSConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetAllowedMethods returns the allowed methods for CORS.
func (c *CORSConfig) GetAllowedMethods() []string {
	return c.AllowedMethods
}

// GetAllowedHeaders returns the allowed headers for CORS.
func (c *CORSConfig) GetAllowedHeaders() []string {
	return c.AllowedHeaders
}

// GetMaxAge returns the max age for CORS preflight cache.
func (c *CORSConfig) GetMaxAge() int {
	return c.MaxAge
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	timeouts := []struct {
		name  string
		value time.Duration
	}{
		{"read", c.ReadTimeout},
		{"write", c.WriteTimeout},
		{"shutdown", c.ShutdownTimeout},
	}

	for _, timeout := range timeouts {
		if timeout.value <= 0 {
			return fmt.Errorf("%w: %s timeout is %v", ErrInvalidTimeout, timeout.name, timeout.value)
		}
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxUploadSize, c.MaxUploadSize)
	}

	return nil
}

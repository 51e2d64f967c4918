package main

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/sheetpipe-io/sheetpipe/internal/config"
	"github.com/sheetpipe-io/sheetpipe/internal/storage"
	"github.com/sheetpipe-io/sheetpipe/migrations"
)

var (
	// ErrDatabaseURLEmpty is returned when DATABASE_URL is not set.
	ErrDatabaseURLEmpty = errors.New("DATABASE_URL cannot be empty")

	// ErrInvalidMigrationTable is returned when MIGRATION_TABLE is not a plain identifier.
	ErrInvalidMigrationTable = errors.New("MIGRATION_TABLE must be a plain SQL identifier")

	migrationTablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Config holds all configuration for the migration tool.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationTable is the name of the table golang-migrate tracks versions in.
	MigrationTable string

	// LogLevel controls migrator log verbosity.
	LogLevel slog.Level
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", migrations.DefaultMigrationTable),
		LogLevel:       config.GetEnvLogLevel("SHEETPIPE_LOG_LEVEL", slog.LevelInfo),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	if !migrationTablePattern.MatchString(c.MigrationTable) {
		return fmt.Errorf("%w: %q", ErrInvalidMigrationTable, c.MigrationTable)
	}

	return nil
}

// String returns a representation that is safe to log.
func (c *Config) String() string {
	masked := storage.NewConfig(c.DatabaseURL).MaskDatabaseURL()

	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}", masked, c.MigrationTable)
}

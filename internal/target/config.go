// Package target describes the relational table CSV rows are upserted into.
//
// The target is declared in YAML so that identifiers reaching SQL come from the
// operator, never from uploaded headers:
//
//	table: users
//	key_column: email
//	columns:
//	  - email
//	  - first_name
//	  - last_name
package target

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/sheetpipe-io/sheetpipe/internal/config"
)

// DefaultConfigPath is the default location for the target configuration file.
const DefaultConfigPath = ".sheetpipe.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "SHEETPIPE_TARGET_CONFIG"

// Defaults match the users table created by the bundled migrations.
const (
	DefaultTable     = "users"
	DefaultKeyColumn = "email"
)

var (
	// ErrInvalidConfig is returned when the target configuration cannot be used.
	ErrInvalidConfig = errors.New("invalid target configuration")

	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	tablePattern      = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*\.)?[A-Za-z_][A-Za-z0-9_]*$`)
)

// Config declares the upsert target.
type Config struct {
	// Table is the destination table, optionally schema-qualified.
	Table string `yaml:"table"`

	// KeyColumn carries the unique constraint used for ON CONFLICT.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	KeyColumn string `yaml:"key_column"`

	// Columns is the allow-list of writable columns. Empty allows every column of
	// the table. The key column is always allowed.
	Columns []string `yaml:"columns"`
}

// DefaultConfig returns the configuration for the bundled users table.
func DefaultConfig() *Config {
	return &Config{
		Table:     DefaultTable,
		KeyColumn: DefaultKeyColumn,
		Columns:   []string{"email", "first_name", "last_name", "age", "active", "balance", "signed_up"},
	}
}

// LoadConfig loads the target configuration from a YAML file at path.
//
// A missing or empty file selects DefaultConfig. Unlike optional settings, a file
// that exists but cannot be parsed or validated is an error: guessing the target
// table would write rows to the wrong place.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Target config not found, using defaults",
				slog.String("path", path),
				slog.String("table", DefaultTable))

			return DefaultConfig(), nil
		}

		return nil, fmt.Errorf("failed to read target config %s: %w", path, err)
	}

	if len(data) == 0 {
		return DefaultConfig(), nil
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads the config from SHEETPIPE_TARGET_CONFIG, falling back to
// .sheetpipe.yaml in the working directory.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig(config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath))
}

// Validate checks that every identifier is a plain SQL identifier.
func (c *Config) Validate() error {
	if !tablePattern.MatchString(c.Table) {
		return fmt.Errorf("%w: table %q is not a valid identifier", ErrInvalidConfig, c.Table)
	}

	if !identifierPattern.MatchString(c.KeyColumn) {
		return fmt.Errorf("%w: key_column %q is not a valid identifier", ErrInvalidConfig, c.KeyColumn)
	}

	seen := make(map[string]struct{}, len(c.Columns))

	for _, col := range c.Columns {
		if !identifierPattern.MatchString(col) {
			return fmt.Errorf("%w: column %q is not a valid identifier", ErrInvalidConfig, col)
		}

		if _, dup := seen[col]; dup {
			return fmt.Errorf("%w: column %q is listed twice", ErrInvalidConfig, col)
		}

		seen[col] = struct{}{}
	}

	return nil
}

// Allows reports whether column may be written.
func (c *Config) Allows(column string) bool {
	if column == c.KeyColumn {
		return true
	}

	if len(c.Columns) == 0 {
		return identifierPattern.MatchString(column)
	}

	return slices.Contains(c.Columns, column)
}

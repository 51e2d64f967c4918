// Package config provides functions for reading config settings from ENV.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of an environment variable and whether it was set to a non-empty value.
func lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))

	return value, value != ""
}

// GetEnvStr returns a string environment variable value or a default if not set.
//
// Example:
//
//	topic := GetEnvStr("KAFKA_TOPIC", "csv_queue")
func GetEnvStr(key, defaultValue string) string {
	if value, ok := lookup(key); ok {
		return value
	}

	return defaultValue
}

// GetEnvInt returns an int environment variable value or a default if not set or unparsable.
//
// Example:
//
//	size := GetEnvInt("SHEETPIPE_BATCH_SIZE", 10000)
func GetEnvInt(key string, defaultValue int) int {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// GetEnvInt64 returns an int64 environment variable value or a default if not set or unparsable.
//
// Example:
//
//	limit := GetEnvInt64("SHEETPIPE_MAX_UPLOAD_SIZE", 64<<20)
func GetEnvInt64(key string, defaultValue int64) int64 {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// GetEnvBool returns a bool environment variable value or a default if not set.
// Accepts "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func GetEnvBool(key string, defaultValue bool) bool {
	value, ok := lookup(key)
	if !ok {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}

	return defaultValue
}

// GetEnvDuration returns a time.Duration environment variable value or a default if not set or unparsable.
//
// Example:
//
//	timeout := GetEnvDuration("SHEETPIPE_BATCH_TIMEOUT", 2*time.Minute)
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// GetEnvLogLevel returns a slog.Level parsed from an environment variable or a default if not set.
// Recognised values: debug, info, warn (or warning), error.
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	value, ok := lookup(key)
	if !ok {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	return defaultValue
}

// ParseCommaSeparatedList parses a comma-separated string into a slice of trimmed strings.
// Empty values are filtered out.
func ParseCommaSeparatedList(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// NewLogger returns a JSON slog.Logger writing to stdout at the given level.
// All sheetpipe services log in this format so log shippers see one schema.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

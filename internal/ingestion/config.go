package ingestion

import (
	"errors"
	"fmt"

	"github.com/sheetpipe-io/sheetpipe/internal/config"
)

// DefaultWorkers is the number of Ingestors one ingester process runs.
const DefaultWorkers = 1

// ErrInvalidConfig is returned when batch settings are out of range.
var ErrInvalidConfig = errors.New("invalid ingestion configuration")

// LoadIngestorConfig loads batch settings from environment variables with fallback to defaults.
func LoadIngestorConfig() IngestorConfig {
	return IngestorConfig{
		BatchSize:    config.GetEnvInt("SHEETPIPE_BATCH_SIZE", DefaultBatchSize),
		BatchTimeout: config.GetEnvDuration("SHEETPIPE_BATCH_TIMEOUT", DefaultBatchTimeout),
	}
}

// LoadWorkers returns SHEETPIPE_INGESTER_WORKERS, never less than one.
func LoadWorkers() int {
	return max(config.GetEnvInt("SHEETPIPE_INGESTER_WORKERS", DefaultWorkers), 1)
}

// Validate rejects settings NewIngestor would otherwise silently replace.
func (c IngestorConfig) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}

	if c.BatchTimeout <= 0 {
		return fmt.Errorf("%w: batch timeout must be positive, got %s", ErrInvalidConfig, c.BatchTimeout)
	}

	return nil
}

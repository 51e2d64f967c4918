// Package queue adapts the Message Channel to Kafka and to an in-memory channel.
//
// One message carries one uploaded file, keyed by fileId. Keying by fileId pins a
// file to a partition, so within a consumer group only one consumer ever holds a
// given file.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/sheetpipe-io/sheetpipe/internal/config"
	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
)

const (
	defaultTopic           = "csv_queue"
	defaultGroupID         = "sheetpipe-ingester"
	defaultMaxMessageBytes = 64 << 20
	defaultWriteTimeout    = 30 * time.Second
	defaultPartitions      = 6
	defaultReplication     = 1
	defaultMaxWait         = 500 * time.Millisecond
)

var (
	// ErrNoBrokers is returned when no Kafka broker address is configured.
	ErrNoBrokers = errors.New("at least one kafka broker is required")

	// ErrTopicEmpty is returned when the topic name is empty.
	ErrTopicEmpty = errors.New("kafka topic cannot be empty")

	// ErrMessageTooLarge is returned when a message exceeds MaxMessageBytes.
	ErrMessageTooLarge = fmt.Errorf("%w: kafka max message bytes", ingestion.ErrPayloadTooLarge)
)

// Config holds Kafka connection and topic settings.
type Config struct {
	Brokers           []string
	Topic             string
	GroupID           string
	MaxMessageBytes   int64         // Upper bound for one serialized file
	WriteTimeout      time.Duration // Per-publish timeout
	MaxWait           time.Duration // Longest a fetch waits for new data
	Partitions        int           // Used only when the topic is created
	ReplicationFactor int           // Used only when the topic is created
}

// LoadConfig loads Kafka configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Brokers:           config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "localhost:9092")),
		Topic:             config.GetEnvStr("KAFKA_TOPIC", defaultTopic),
		GroupID:           config.GetEnvStr("KAFKA_GROUP_ID", defaultGroupID),
		MaxMessageBytes:   config.GetEnvInt64("KAFKA_MAX_MESSAGE_BYTES", defaultMaxMessageBytes),
		WriteTimeout:      config.GetEnvDuration("KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
		MaxWait:           config.GetEnvDuration("KAFKA_MAX_WAIT", defaultMaxWait),
		Partitions:        config.GetEnvInt("KAFKA_TOPIC_PARTITIONS", defaultPartitions),
		ReplicationFactor: config.GetEnvInt("KAFKA_TOPIC_REPLICATION", defaultReplication),
	}
}

// Validate checks if the Kafka configuration is usable.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if c.Topic == "" {
		return ErrTopicEmpty
	}

	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("KAFKA_MAX_MESSAGE_BYTES must be positive, got %d", c.MaxMessageBytes)
	}

	if c.Partitions < 1 || c.ReplicationFactor < 1 {
		return fmt.Errorf("topic partitions (%d) and replication (%d) must be at least 1",
			c.Partitions, c.ReplicationFactor)
	}

	return nil
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
)

var (
	_ ingestion.Publisher  = (*KafkaPublisher)(nil)
	_ ingestion.Subscriber = (*KafkaSubscriber)(nil)
)

type (
	// KafkaPublisher writes one message per file with the fileId as key.
	KafkaPublisher struct {
		writer   *kafka.Writer
		maxBytes int64
	}

	// KafkaSubscriber reads messages as a consumer group member. Offsets are committed
	// only through Ack, so an unacknowledged message is redelivered after a restart.
	KafkaSubscriber struct {
		reader *kafka.Reader
	}
)

// NewKafkaPublisher creates a synchronous, snappy-compressed writer for cfg.Topic.
func NewKafkaPublisher(cfg *Config) (*KafkaPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchBytes:             cfg.MaxMessageBytes,
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: false,
	}

	return &KafkaPublisher{writer: writer, maxBytes: cfg.MaxMessageBytes}, nil
}

// Publish blocks until the broker acknowledges the message.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if int64(len(value)) > p.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(value), p.maxBytes)
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write message %s to %s: %w", key, p.writer.Topic, err)
	}

	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewKafkaSubscriber joins cfg.GroupID on cfg.Topic.
func NewKafkaSubscriber(cfg *Config) (*KafkaSubscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       int(cfg.MaxMessageBytes),
		MaxWait:        cfg.MaxWait,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})

	return &KafkaSubscriber{reader: reader}, nil
}

// Fetch blocks for the next message without committing its offset.
func (s *KafkaSubscriber) Fetch(ctx context.Context) (ingestion.Delivery, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return ingestion.Delivery{}, err
	}

	return ingestion.Delivery{
		Key:    string(msg.Key),
		Value:  msg.Value,
		Source: msg,
	}, nil
}

// Ack commits the delivery's offset for the group.
func (s *KafkaSubscriber) Ack(ctx context.Context, d ingestion.Delivery) error {
	msg, ok := d.Source.(kafka.Message)
	if !ok {
		return fmt.Errorf("delivery %s was not fetched from kafka", d.Key)
	}

	return s.reader.CommitMessages(ctx, msg)
}

// Close leaves the consumer group.
func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}

// EnsureTopic creates cfg.Topic on the cluster controller if it does not exist,
// raising max.message.bytes so whole files fit in one message.
func EnsureTopic(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var dialer kafka.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker %s: %w", cfg.Brokers[0], err)
	}

	defer func() {
		_ = conn.Close()
	}()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}

	controllerConn, err := dialer.DialContext(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}

	defer func() {
		_ = controllerConn.Close()
	}()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             cfg.Topic,
		NumPartitions:     cfg.Partitions,
		ReplicationFactor: cfg.ReplicationFactor,
		ConfigEntries: []kafka.ConfigEntry{
			{ConfigName: "max.message.bytes", ConfigValue: strconv.FormatInt(cfg.MaxMessageBytes, 10)},
		},
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", cfg.Topic, err)
	}

	logger.Info("Kafka topic ready",
		slog.String("topic", cfg.Topic),
		slog.Int("partitions", cfg.Partitions),
		slog.Int64("max_message_bytes", cfg.MaxMessageBytes))

	return nil
}

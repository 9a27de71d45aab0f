package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/lunchroulette/server/config"
	"github.com/lunchroulette/server/internal/model"
)

// Producer publishes group lifecycle events to a Kafka topic.
// Events of one group share a partition key so consumers see them in order.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewProducer creates a new Kafka producer instance.
// It establishes a connection to the Kafka brokers specified in the configuration.
//
// Parameters:
//   - cfg: Kafka configuration containing broker addresses, topic and retry settings
//   - logger: Logger for delivery diagnostics
//
// Returns:
//   - *Producer: The created producer instance
//   - error: Any error encountered during initialization
func NewProducer(cfg *config.KafkaConfig, logger *zap.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerWith(producer, cfg.Topic, logger), nil
}

// NewProducerWith wraps an existing sync producer.
func NewProducerWith(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func saramaConfig(cfg *config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	// idempotent delivery needs at least one retry
	sc.Producer.Retry.Max = max(cfg.MaxRetries, 1)
	sc.Producer.Retry.Backoff = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1

	// Set connection timeouts to prevent hanging
	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 10 * time.Second
	sc.Metadata.Retry.Max = 3
	sc.Metadata.Retry.Backoff = 250 * time.Millisecond
	sc.Metadata.Timeout = 10 * time.Second
	return sc
}

// PublishGroupEvent sends event to the configured topic, keyed by group id.
//
// Parameters:
//   - ctx: Context for cancellation; an already cancelled context sends nothing
//   - event: The group event to publish
//
// Returns:
//   - error: Any error encountered during encoding or sending
func (p *Producer) PublishGroupEvent(ctx context.Context, event *model.GroupEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode group event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(event.GroupID), 10)),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", p.topic, err)
	}

	p.logger.Debug("group event published",
		zap.String("type", string(event.Type)),
		zap.Uint("group_id", event.GroupID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the Kafka producer and releases all resources.
// It should be called when the producer is no longer needed.
//
// Returns:
//   - error: Any error encountered during closing
func (p *Producer) Close() error {
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			return fmt.Errorf("failed to close kafka producer: %w", err)
		}
	}
	return nil
}

package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/IBM/sarama"

	"github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/consumer"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementation satisfies interface at compile time.
var _ consumer.Publisher = (*Publisher)(nil)

// PublisherConfig contains producer configuration.
type PublisherConfig struct {
	BootstrapServers []string
	Security         SecurityConfig
	Topic            string
	RequiredAcks     string
	MaxRetries       int
}

// Publisher sends drained trace records to a Kafka topic. Each record is one
// message keyed by device id, so a device's records stay ordered within a
// partition. The value is the record in ring wire format.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
	metrics  MetricsCollector
	mu       sync.RWMutex
	closed   bool
}

// NewPublisher creates a new publisher backed by a sync producer.
func NewPublisher(config PublisherConfig, logger *slog.Logger, metrics MetricsCollector) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = requiredAcks(config.RequiredAcks)
	saramaConfig.Producer.Retry.Max = config.MaxRetries
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	if saramaConfig.Producer.RequiredAcks == sarama.WaitForAll {
		saramaConfig.Producer.Idempotent = true
		saramaConfig.Net.MaxOpenRequests = 1
	}

	if err := configureSecurity(saramaConfig, config.Security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(config.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("kafka publisher created",
		"bootstrap_servers", config.BootstrapServers,
		"topic", config.Topic,
		"required_acks", config.RequiredAcks,
	)

	return newPublisher(producer, config.Topic, logger, metrics), nil
}

func newPublisher(producer sarama.SyncProducer, topic string, logger *slog.Logger, metrics MetricsCollector) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		metrics:  metrics,
	}
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends every record of the batch in one request.
func (p *Publisher) Publish(ctx context.Context, batch *trace.Batch) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrPublisherClosed
	}
	if batch == nil || len(batch.Records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	messages := make([]*sarama.ProducerMessage, len(batch.Records))
	for i, record := range batch.Records {
		messages[i] = p.message(batch.ID, record)
	}

	if err := p.producer.SendMessages(messages); err != nil {
		if p.metrics != nil {
			p.metrics.IncRecordsPublished(p.topic, "failure", len(messages))
		}
		p.logger.Error("failed to publish trace records",
			"error", err,
			"topic", p.topic,
			"batch_id", batch.ID,
			"records", len(messages),
		)
		return fmt.Errorf("%w: %w", errors.ErrConnectionLost, err)
	}

	if p.metrics != nil {
		p.metrics.IncRecordsPublished(p.topic, "success", len(messages))
	}
	p.logger.Debug("published trace records",
		"topic", p.topic,
		"batch_id", batch.ID,
		"device_id", batch.DeviceID,
		"records", len(messages),
	)
	return nil
}

func (p *Publisher) message(batchID string, record trace.Record) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(record.DeviceID), 10)),
		Value: sarama.ByteEncoder(trace.AppendRecord(nil, record)),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderDeviceID), Value: []byte(strconv.FormatUint(uint64(record.DeviceID), 10))},
			{Key: []byte(HeaderRequestType), Value: []byte(record.Type.String())},
			{Key: []byte(HeaderBatchID), Value: []byte(batchID)},
		},
		Timestamp: record.Timestamp.Time(),
	}
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.logger.Info("closing kafka publisher")

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}
	return nil
}

// Package kafka feeds trace captures from Kafka into the ring and publishes
// drained records back to Kafka.
package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/internal/validator"
	"github.com/jittakal/bustrace/pkg/consumer"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Ensure implementation satisfies interfaces at compile time.
var _ consumer.Consumer = (*CaptureConsumer)(nil)

// Message headers carrying the capture attributes. When the device header is
// missing the message key is used instead.
const (
	HeaderDeviceID    = "device_id"
	HeaderRequestType = "request_type"
	HeaderBatchID     = "batch_id"
)

// commitEvery bounds the number of marked messages between offset commits.
const commitEvery = 100

// ConsumerConfig contains Kafka consumer configuration.
type ConsumerConfig struct {
	BootstrapServers    []string
	GroupID             string
	Security            SecurityConfig
	AutoOffsetReset     string
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
}

// MetricsCollector defines metrics operations for Kafka.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncCapturesIngested(source, status string)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	ObserveRebalanceDuration(groupID string, duration float64)
	SetPartitionsAssigned(topic string, count float64)
	IncRecordsPublished(topic, status string, count int)
}

// Enqueuer accepts captures. *buffer.Ring satisfies it.
type Enqueuer interface {
	Enqueue(device trace.DeviceID, typ trace.RequestType, payload []byte) error
}

// CaptureValidator checks a capture before it is enqueued.
type CaptureValidator interface {
	Validate(c *trace.Capture) error
}

// CaptureConsumer implements consumer.Consumer using a Sarama consumer group.
// Each message becomes one capture: the value is the payload and the device
// and request type travel in headers. Offsets are committed whether or not
// the capture was accepted; the ring is lossy by nature.
type CaptureConsumer struct {
	consumerGroup sarama.ConsumerGroup
	config        ConsumerConfig
	sink          Enqueuer
	validator     CaptureValidator
	logger        *slog.Logger
	metrics       MetricsCollector
	topics        []string
	mu            sync.RWMutex
	closed        bool
}

// NewCaptureConsumer creates a consumer group that enqueues into sink.
func NewCaptureConsumer(
	config ConsumerConfig,
	sink Enqueuer,
	validator CaptureValidator,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*CaptureConsumer, error) {
	saramaConfig, err := newConsumerConfig(config)
	if err != nil {
		return nil, err
	}

	consumerGroup, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka capture consumer created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
		"session_timeout_ms", config.SessionTimeoutMS,
		"max_poll_interval_ms", config.MaxPollIntervalMS,
	)

	return &CaptureConsumer{
		consumerGroup: consumerGroup,
		config:        config,
		sink:          sink,
		validator:     validator,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

func newConsumerConfig(config ConsumerConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = false
	saramaConfig.Consumer.Return.Errors = true

	if config.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	}
	if config.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond
	}
	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}

	if err := configureSecurity(saramaConfig, config.Security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return saramaConfig, nil
}

// Subscribe sets the topics consumed by Run.
func (c *CaptureConsumer) Subscribe(ctx context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrConsumerClosed
	}

	c.topics = topics
	c.logger.Info("subscribed to topics", "topics", topics)
	return nil
}

// Run joins the consumer group and consumes until ctx is cancelled. A new
// session is started after every rebalance.
func (c *CaptureConsumer) Run(ctx context.Context) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return errors.ErrConsumerClosed
	}
	topics := c.topics
	c.mu.RUnlock()

	if len(topics) == 0 {
		return fmt.Errorf("no topics subscribed")
	}

	go func() {
		for err := range c.consumerGroup.Errors() {
			c.logger.Error("consumer group error", "error", err)
		}
	}()

	handler := &consumerGroupHandler{consumer: c}
	for {
		if err := c.consumerGroup.Consume(ctx, topics, handler); err != nil {
			if stderrors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consumer group session failed: %w", err)
		}
		if ctx.Err() != nil {
			c.logger.Info("capture consumer stopped")
			return nil
		}
	}
}

// Close closes the consumer and releases resources.
func (c *CaptureConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("closing kafka capture consumer")

	if c.consumerGroup != nil {
		if err := c.consumerGroup.Close(); err != nil {
			c.logger.Error("error closing consumer group", "error", err)
			return err
		}
	}
	return nil
}

// ingest validates and enqueues one message and reports the outcome status.
func (c *CaptureConsumer) ingest(message *sarama.ConsumerMessage) string {
	capture, err := parseCapture(message)
	if err == nil {
		err = c.validator.Validate(capture)
	}
	if err != nil {
		c.logger.Warn("rejected capture message",
			"error", err,
			"topic", message.Topic,
			"partition", message.Partition,
			"offset", message.Offset,
		)
		return "rejected"
	}

	err = c.sink.Enqueue(capture.DeviceID, capture.Type, capture.Payload)
	switch {
	case err == nil:
		return "accepted"
	case stderrors.Is(err, errors.ErrBufferClosed):
		return "closed"
	case stderrors.Is(err, errors.ErrPayloadTooLarge):
		return "rejected"
	default:
		// Allocation failures are already reported by the ring observer.
		return "dropped"
	}
}

// parseCapture builds a capture from a message. The payload is copied
// because Sarama may reuse message buffers.
func parseCapture(message *sarama.ConsumerMessage) (*trace.Capture, error) {
	var deviceRaw, typeRaw string
	var haveDevice, haveType bool
	for _, h := range message.Headers {
		if h == nil {
			continue
		}
		switch strings.ToLower(string(h.Key)) {
		case HeaderDeviceID:
			deviceRaw, haveDevice = string(h.Value), true
		case HeaderRequestType:
			typeRaw, haveType = string(h.Value), true
		}
	}
	if !haveDevice && len(message.Key) > 0 {
		deviceRaw, haveDevice = string(message.Key), true
	}

	if !haveDevice {
		return nil, &errors.ValidationError{Field: "device_id", Reason: "missing device_id header and key"}
	}
	if !haveType {
		return nil, &errors.ValidationError{Field: "type", Reason: "missing request_type header"}
	}

	device, err := validator.ParseDeviceID(deviceRaw)
	if err != nil {
		return nil, err
	}
	typ, err := validator.ParseRequestType(typeRaw)
	if err != nil {
		return nil, err
	}

	return &trace.Capture{
		DeviceID: device,
		Type:     typ,
		Payload:  append([]byte(nil), message.Value...),
	}, nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	consumer     *CaptureConsumer
	sessionStart time.Time
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.sessionStart = time.Now()

	h.consumer.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	if m := h.consumer.metrics; m != nil {
		m.IncRebalances(h.consumer.config.GroupID)
		for topic, partitions := range session.Claims() {
			m.SetPartitionsAssigned(topic, float64(len(partitions)))
		}
	}
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	if h.consumer.metrics != nil && !h.sessionStart.IsZero() {
		h.consumer.metrics.ObserveRebalanceDuration(h.consumer.config.GroupID, time.Since(h.sessionStart).Seconds())
	}

	h.consumer.logger.Info("consumer group session cleanup", "member_id", session.MemberID())
	return nil
}

// ConsumeClaim enqueues messages from one partition.
func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	topic := claim.Topic()
	partition := claim.Partition()
	metrics := h.consumer.metrics

	h.consumer.logger.Info("started consuming partition",
		"topic", topic,
		"partition", partition,
		"initial_offset", claim.InitialOffset(),
	)

	pending := 0
	commit := func() {
		if pending == 0 {
			return
		}
		session.Commit()
		pending = 0
		if metrics != nil {
			metrics.IncOffsetCommits(topic, partition, "success")
		}
	}
	defer commit()

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			status := h.consumer.ingest(message)
			if metrics != nil {
				metrics.IncMessagesConsumed(message.Topic, message.Partition)
				metrics.IncCapturesIngested("kafka", status)
			}

			session.MarkMessage(message, "")
			pending++
			if pending >= commitEvery {
				commit()
			}

		case <-session.Context().Done():
			h.consumer.logger.Info("session context done, stopping partition consumption",
				"topic", topic,
				"partition", partition,
			)
			return nil
		}
	}
}

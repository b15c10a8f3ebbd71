package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	apperrors "github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/trace"
)

func publishBatch(n int) *trace.Batch {
	base := time.Date(2025, 12, 18, 10, 30, 0, 0, time.UTC)
	batch := &trace.Batch{ID: "b-1", DeviceID: 3}
	for i := 0; i < n; i++ {
		batch.Records = append(batch.Records, trace.Record{
			DeviceID:  3,
			Type:      trace.RequestDeviceControl,
			Timestamp: trace.FromTime(base.Add(time.Duration(i) * time.Second)),
			Payload:   []byte{byte(i)},
		})
	}
	return batch
}

func TestPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := newMockMetrics()
	p := newPublisher(producer, "bus-traces", slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	batch := publishBatch(3)
	for i := range batch.Records {
		want := batch.Records[i]
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			got, n, err := trace.Decode(val)
			if err != nil {
				return err
			}
			if n != len(val) || got.DeviceID != want.DeviceID || got.Timestamp != want.Timestamp {
				return errors.New("record does not round-trip")
			}
			return nil
		})
	}

	if err := p.Publish(context.Background(), batch); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if metrics.published["success"] != 3 {
		t.Errorf("published = %v", metrics.published)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := newMockMetrics()
	p := newPublisher(producer, "bus-traces", slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := p.Publish(context.Background(), publishBatch(1))
	if err == nil {
		t.Fatal("Publish() should fail")
	}
	if !apperrors.IsRetryable(err) {
		t.Errorf("publish failure should be retryable: %v", err)
	}
	if metrics.published["failure"] != 1 {
		t.Errorf("published = %v", metrics.published)
	}
	p.Close()
}

func TestPublisher_Message(t *testing.T) {
	p := newPublisher(mocks.NewSyncProducer(t, nil), "bus-traces", slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	defer p.Close()

	record := publishBatch(1).Records[0]
	msg := p.message("b-9", record)

	if msg.Topic != "bus-traces" {
		t.Errorf("Topic = %q", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != "3" {
		t.Errorf("Key = %q, want 3", key)
	}
	value, _ := msg.Value.Encode()
	if len(value) != record.Footprint() {
		t.Errorf("value length = %d, want %d", len(value), record.Footprint())
	}

	headers := make(map[string]string)
	for _, h := range msg.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	if headers[HeaderRequestType] != "device_control" || headers[HeaderBatchID] != "b-9" || headers[HeaderDeviceID] != "3" {
		t.Errorf("headers = %v", headers)
	}
	if !msg.Timestamp.Equal(record.Timestamp.Time()) {
		t.Errorf("Timestamp = %v", msg.Timestamp)
	}
}

func TestPublisher_Closed(t *testing.T) {
	p := newPublisher(mocks.NewSyncProducer(t, nil), "t", slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := p.Publish(context.Background(), publishBatch(1)); !errors.Is(err, apperrors.ErrPublisherClosed) {
		t.Errorf("Publish() error = %v, want ErrPublisherClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPublisher_EmptyBatch(t *testing.T) {
	p := newPublisher(mocks.NewSyncProducer(t, nil), "t", slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	defer p.Close()

	if err := p.Publish(context.Background(), &trace.Batch{}); err != nil {
		t.Errorf("Publish() of empty batch error = %v", err)
	}
}

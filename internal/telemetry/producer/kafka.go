package producer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/telemetry"
)

const writeTimeout = 5 * time.Second

// ErrNotConfigured is returned by NewKafkaProducer when brokers or topic are missing.
var ErrNotConfigured = errors.New("kafka producer: brokers and topic are required")

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaProducer creates a producer that writes lifecycle events to topic.
// Messages are keyed by subject so one subject's events stay ordered within a partition.
// Call Close when shutting down.
func NewKafkaProducer(brokers []string, topic string) (*KafkaProducer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, ErrNotConfigured
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: writer, topic: topic}, nil
}

// Topic returns the topic events are written to.
func (p *KafkaProducer) Topic() string {
	return p.topic
}

// Emit serializes the event as JSON and writes it to the topic, bounded by writeTimeout.
func (p *KafkaProducer) Emit(ctx context.Context, event telemetry.Event) error {
	if p == nil || p.writer == nil {
		return nil
	}
	msg, err := buildMessage(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, msg)
}

// Close closes the Kafka writer. Safe to call on a nil producer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func buildMessage(event telemetry.Event) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.Subject),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}

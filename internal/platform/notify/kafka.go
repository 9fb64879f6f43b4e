package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaEmitter publishes intents to a Kafka topic consumed by the
// notification delivery service.
type KafkaEmitter struct {
	writer *kafka.Writer
}

// NewKafkaEmitter creates a KafkaEmitter for the given brokers and topic.
func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchSize:    1,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Emit marshals the intent and writes it keyed by patient id, so one
// patient's notifications stay ordered within a partition.
func (e *KafkaEmitter) Emit(ctx context.Context, intent Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(intent.PatientID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "intent-type", Value: []byte(intent.Type)},
			{Key: "urgency", Value: []byte(intent.Urgency)},
		},
	}

	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write intent message: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}

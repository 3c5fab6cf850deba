package events

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter builds a writer that keys partitions by payment reference.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// KafkaPublisher forwards events to a Kafka topic for downstream consumers.
type KafkaPublisher struct {
	Writer MessageWriter
}

// Publish implements Publisher.
func (p KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if p.Writer == nil {
		return nil
	}
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(ev.ID.String())},
		{Key: "event_type", Value: []byte(ev.Topic)},
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.Key),
		Value:   ev.Payload,
		Headers: headers,
		Time:    ev.OccurredAt,
	})
}

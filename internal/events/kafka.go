package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink forwards events to a Kafka topic so downstream consumers (the
// payout batch, dashboards) can follow the conversion ledger.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaWriter builds a writer for topic on the given brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// NewKafkaSink creates a sink writing through w.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Handle is an events.Handler. Messages are keyed by order (or click) so
// they share a partition. The Manager calls Handle serially in publish
// order, and the writer is synchronous, so a partition sees one order's
// events in the order they happened.
func (s *KafkaSink) Handle(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(messageKey(event)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to produce %s: %w", event.Type, err)
	}
	return nil
}

func messageKey(event Event) string {
	switch d := event.Data.(type) {
	case ConversionData:
		return d.Conversion.TenantID + ":" + d.Conversion.OrderRef
	case SelfPurchaseBlockedData:
		return d.TenantID + ":" + d.OrderRef
	case ClickRecordedData:
		return d.TenantID + ":" + d.ClickID
	}
	return string(event.Type)
}

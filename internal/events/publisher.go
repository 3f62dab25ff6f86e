package events

import (
	"context"
	"encoding/json"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Publisher pushes event notifications to an external stream. Publishing
// is best-effort observability: a failed publish leaves the event pending
// and never fails the workflow that created it.
type Publisher interface {
	Publish(ctx context.Context, notification Notification) error
}

// Notification is the wire shape tagged onto the stream for downstream
// consumers.
type Notification struct {
	EventID   string    `json:"event_id"`
	OrderID   string    `json:"order_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// KafkaPublisher writes notifications to a kafka topic keyed by order ID
// so one order's notifications stay in partition order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, notification Notification) error {
	value, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(notification.OrderID),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

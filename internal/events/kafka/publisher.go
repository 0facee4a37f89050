package kafka

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/MarkoPoloResearchLab/upline/internal/events"
)

const topicPurchaseCompleted = "purchase_completed"

// Publisher writes domain events to Kafka.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher returns a Publisher targeting the given brokers.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:     kafkago.TCP(brokers...),
			Topic:    topicPurchaseCompleted,
			Balancer: &kafkago.LeastBytes{},
		},
	}
}

// PublishPurchaseCompleted implements events.Publisher.
func (publisher *Publisher) PublishPurchaseCompleted(ctx context.Context, event events.PurchaseCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return publisher.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.SubscriptionID),
		Value: payload,
	})
}

// Close releases the underlying writer.
func (publisher *Publisher) Close() error {
	return publisher.writer.Close()
}

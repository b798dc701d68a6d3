package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/pkg/logger"
)

// KafkaProducer is the part of kafka.Producer the handler uses
type KafkaProducer interface {
	SendMessage(ctx context.Context, topic string, key string, value []byte, headers map[string]string) error
}

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	logger   logger.Logger
	producer KafkaProducer
	topic    string
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(producer KafkaProducer, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// HandleMessage publishes the message keyed by quote id, so the events of
// one quote stay ordered within their partition
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	hdrs, err := headers(message)
	if err != nil {
		return err
	}

	h.logger.Debug("Publishing message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	if err := h.producer.SendMessage(ctx, h.topic, message.AggregateID, message.Payload, hdrs); err != nil {
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Info("Published message to Kafka",
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}

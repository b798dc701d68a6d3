package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/pkg/logger"
)

// AMQPPublisher is the part of rabbitmq.Publisher the handler uses
type AMQPPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error
}

// AMQPHandler publishes outbox messages to a RabbitMQ topic exchange,
// routed by event type (quote.sent, quote.rejected, ...)
type AMQPHandler struct {
	publisher AMQPPublisher
	logger    logger.Logger
}

// NewAMQPHandler creates a new AMQPHandler
func NewAMQPHandler(publisher AMQPPublisher, logger logger.Logger) *AMQPHandler {
	return &AMQPHandler{publisher: publisher, logger: logger}
}

// HandleMessage publishes the message under its event type
func (h *AMQPHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	hdrs, err := headers(message)
	if err != nil {
		return err
	}

	if err := h.publisher.Publish(ctx, message.EventType, message.Payload, hdrs); err != nil {
		return fmt.Errorf("failed to publish message to RabbitMQ: %w", err)
	}

	h.logger.Info("Published message to RabbitMQ",
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"routingKey", message.EventType)

	return nil
}

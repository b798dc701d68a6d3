package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/pkg/logger"
)

// Header names carried with every published event
const (
	HeaderEventType   = "event_type"
	HeaderEventID     = "event_id"
	HeaderAggregateID = "aggregate_id"
)

// LoggingHandler only logs outbox messages. It is the publisher when no
// broker is configured.
type LoggingHandler struct {
	logger logger.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{
		logger: logger,
	}
}

// HandleMessage logs the decoded event
func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	event, err := models.DecodeEvent(message.Payload)
	if err != nil {
		return fmt.Errorf("failed to unmarshal outbox message: %w", err)
	}

	h.logger.Info("Handling outbox message",
		"messageID", message.ID,
		"eventType", message.EventType,
		"aggregateID", message.AggregateID,
		"eventID", event.EventID,
		"occurredAt", event.OccurredAt)

	return nil
}

// headers builds the broker headers of a message
func headers(message *models.OutboxMessage) (map[string]string, error) {
	event, err := models.DecodeEvent(message.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode outbox payload: %w", err)
	}

	return map[string]string{
		HeaderEventType:   message.EventType,
		HeaderEventID:     event.EventID,
		HeaderAggregateID: message.AggregateID,
	}, nil
}

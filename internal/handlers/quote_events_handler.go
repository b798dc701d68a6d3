package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/pkg/kafka"
	"github.com/vaidashi/quote-service/pkg/logger"
)

// Notification tells a customer that a quote was decided
type Notification struct {
	EventID      string
	EventType    string
	QuoteID      string
	DraftOrderID string
	CustomerID   string
	Status       models.QuoteStatus
}

// Notifier delivers customer notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger logger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("Customer notification",
		"eventType", n.EventType,
		"quoteID", n.QuoteID,
		"draftOrderID", n.DraftOrderID,
		"customerID", n.CustomerID,
		"status", n.Status)
	return nil
}

// QuoteEventsHandler consumes quote events from Kafka and notifies the
// customer when a quote is sent or rejected
type QuoteEventsHandler struct {
	notifier Notifier
	logger   logger.Logger
}

// NewQuoteEventsHandler creates a new QuoteEventsHandler
func NewQuoteEventsHandler(notifier Notifier, logger logger.Logger) *QuoteEventsHandler {
	return &QuoteEventsHandler{
		notifier: notifier,
		logger:   logger,
	}
}

// HandleMessage handles one quote event. Malformed messages are dropped;
// notifier failures are returned so the consumer retries them.
func (h *QuoteEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	event, err := models.DecodeEvent(msg.Value)
	if err != nil {
		h.logger.Error("Dropping undecodable quote event", "error", err, "offset", msg.Offset)
		return nil
	}

	eventType := event.EventType
	if eventType == "" {
		eventType = kafka.Header(msg, "event_type")
	}

	h.logger.Debug("Handling quote event",
		"eventType", eventType,
		"eventID", event.EventID,
		"quoteID", event.AggregateID,
		"occurredAt", event.OccurredAt)

	switch eventType {
	case models.EventQuoteSent, models.EventQuoteRejected:
		return h.handleDecision(ctx, eventType, event)
	case models.EventQuoteCreated, models.EventQuoteValidityUpdated:
		h.logger.Info("Quote event recorded", "eventType", eventType, "quoteID", event.AggregateID)
		return nil
	default:
		h.logger.Warn("Unknown quote event type", "eventType", eventType, "eventID", event.EventID)
		return nil
	}
}

func (h *QuoteEventsHandler) handleDecision(ctx context.Context, eventType string, event *models.OutboxMessageEvent) error {
	var data models.QuoteTransitionData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		h.logger.Error("Dropping quote event with invalid data", "error", err, "eventID", event.EventID)
		return nil
	}

	n := Notification{
		EventID:      event.EventID,
		EventType:    eventType,
		QuoteID:      data.QuoteID,
		DraftOrderID: data.ID,
		CustomerID:   data.CustomerID,
		Status:       data.Status,
	}
	if n.QuoteID == "" {
		n.QuoteID = event.AggregateID
	}

	if err := h.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("failed to notify customer %s about quote %s: %w", n.CustomerID, n.QuoteID, err)
	}
	return nil
}

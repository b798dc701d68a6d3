package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Quote domain event types
const (
	EventQuoteCreated         = "quote.created"
	EventQuoteSent            = "quote.sent"
	EventQuoteRejected        = "quote.rejected"
	EventQuoteValidityUpdated = "quote.validity_updated"
)

// AggregateQuote is the aggregate type of every quote event
const AggregateQuote = "quote"

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64      `db:"id" json:"id"`
	AggregateType      string     `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string     `db:"aggregate_id" json:"aggregate_id"`
	EventType          string     `db:"event_type" json:"event_type"`
	Payload            []byte     `db:"payload" json:"payload"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int        `db:"processing_attempts" json:"processing_attempts"`
	// ProcessingStartedAt is set when a worker claims the message
	ProcessingStartedAt *time.Time   `db:"processing_started_at" json:"processing_started_at,omitempty"`
	LastError           *string      `db:"last_error" json:"last_error,omitempty"`
	Status              OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent is the envelope stored in an outbox message payload
type OutboxMessageEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// QuoteTransitionData is the body of quote.sent and quote.rejected. ID is the
// draft order so downstream notifiers can load the order directly.
type QuoteTransitionData struct {
	ID         string      `json:"id"`
	QuoteID    string      `json:"quote_id"`
	CustomerID string      `json:"customer_id"`
	Status     QuoteStatus `json:"status"`
}

// QuoteValidityData is the body of quote.validity_updated
type QuoteValidityData struct {
	QuoteID   string     `json:"quote_id"`
	ValidTill *time.Time `json:"valid_till"`
}

// NewQuoteEvent wraps data in an event envelope for the given quote
func NewQuoteEvent(eventType string, quoteID string, data interface{}) (*OutboxMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	now := GetCurrentTime()
	event := OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateID("evt"),
		AggregateID: quoteID,
		OccurredAt:  now,
		Data:        raw,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		EventType:     eventType,
		Payload:       payload,
		AggregateType: AggregateQuote,
		AggregateID:   quoteID,
		CreatedAt:     now,
		Status:        OutboxStatusPending,
	}, nil
}

// NewQuoteCreatedEvent creates a quote.created event carrying the quote
func NewQuoteCreatedEvent(q *Quote) (*OutboxMessage, error) {
	return NewQuoteEvent(EventQuoteCreated, q.ID, q)
}

// NewQuoteSentEvent creates a quote.sent event referencing the draft order
func NewQuoteSentEvent(q *Quote) (*OutboxMessage, error) {
	return NewQuoteEvent(EventQuoteSent, q.ID, QuoteTransitionData{
		ID:         q.DraftOrderID,
		QuoteID:    q.ID,
		CustomerID: q.CustomerID,
		Status:     QuoteStatusAccepted,
	})
}

// NewQuoteRejectedEvent creates a quote.rejected event referencing the draft order
func NewQuoteRejectedEvent(q *Quote) (*OutboxMessage, error) {
	return NewQuoteEvent(EventQuoteRejected, q.ID, QuoteTransitionData{
		ID:         q.DraftOrderID,
		QuoteID:    q.ID,
		CustomerID: q.CustomerID,
		Status:     QuoteStatusRejected,
	})
}

// NewQuoteValidityUpdatedEvent creates a quote.validity_updated event
func NewQuoteValidityUpdatedEvent(q *Quote) (*OutboxMessage, error) {
	return NewQuoteEvent(EventQuoteValidityUpdated, q.ID, QuoteValidityData{
		QuoteID:   q.ID,
		ValidTill: q.ValidTill,
	})
}

// DecodeEvent parses an outbox payload back into its envelope
func DecodeEvent(payload []byte) (*OutboxMessageEvent, error) {
	var event OutboxMessageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/metrics"
)

// MessageHandler delivers one outbox message
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// MessageStore is the outbox table as the processor sees it
type MessageStore interface {
	GetPendingMessages(ctx context.Context, limit int, lease time.Duration) ([]*models.OutboxMessage, error)
	MarkAsProcessing(ctx context.Context, id int64, attempts int) (bool, error)
	MarkAsCompleted(ctx context.Context, id int64) error
	MarkForRetry(ctx context.Context, id int64, errorMessage string) error
	MoveToDeadLetter(ctx context.Context, message *models.OutboxMessage, errorMessage, reason string) (*models.DeadLetterMessage, error)
}

const (
	defaultDeliveryTimeout = 30 * time.Second
	defaultProcessingLease = 5 * time.Minute
	statusWriteTimeout     = 5 * time.Second
)

// Processor polls the outbox and hands each message to the handler
// registered for its event type
type Processor struct {
	store           MessageStore
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	deliveryTimeout time.Duration
	processingLease time.Duration
	metrics         *metrics.WorkflowMetrics
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	// MaxRetries is the number of delivery attempts before a message is
	// moved to the dead-letter table
	MaxRetries int
	// DeliveryTimeout bounds a single handler call
	DeliveryTimeout time.Duration
	// ProcessingLease is how long a claimed message may stay in processing
	// before another poll hands it out again. It is at least twice
	// DeliveryTimeout.
	ProcessingLease time.Duration
}

// NewProcessor creates a new Processor
func NewProcessor(store MessageStore, config ProcessorConfig, m *metrics.WorkflowMetrics, logger logger.Logger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = defaultDeliveryTimeout
	}
	if config.ProcessingLease <= 0 {
		config.ProcessingLease = defaultProcessingLease
	}
	if config.ProcessingLease < 2*config.DeliveryTimeout {
		config.ProcessingLease = 2 * config.DeliveryTimeout
	}

	return &Processor{
		store:           store,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		deliveryTimeout: config.DeliveryTimeout,
		processingLease: config.ProcessingLease,
		metrics:         m,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers[eventType] = handler
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processOutbox()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize,
		"maxRetries", p.maxRetries,
		"deliveryTimeout", p.deliveryTimeout,
		"processingLease", p.processingLease)
}

// Stop stops the outbox processor and waits for the batch in progress
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) processOutbox() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.processBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
		}
	}
}

// processBatch delivers one batch of pending messages. Each message gets
// its own delivery deadline; the batch as a whole is only stopped by ctx.
func (p *Processor) processBatch(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.pollingInterval)
	messages, err := p.store.GetPendingMessages(fetchCtx, p.batchSize, p.processingLease)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to get pending messages: %w", err)
	}

	if len(messages) == 0 {
		p.logger.Debug("No pending messages to process")
		return nil
	}

	p.logger.Info("Processing batch of outbox messages", "count", len(messages))

	for _, msg := range messages {
		if ctx.Err() != nil {
			// Unclaimed messages stay pending for the next poll
			return nil
		}
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Error("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType)
		}
	}

	return nil
}

// processMessage claims and delivers a single message. A failed delivery
// goes back to pending until it has used up maxRetries attempts, then it is
// moved to the dead-letter table.
func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	claimed, err := p.store.MarkAsProcessing(ctx, msg.ID, msg.ProcessingAttempts)
	if err != nil {
		return fmt.Errorf("failed to mark message as processing: %w", err)
	}
	if !claimed {
		p.logger.Debug("Message claimed by another worker", "messageID", msg.ID)
		return nil
	}
	attempts := msg.ProcessingAttempts + 1

	handler, exists := p.handlers[msg.EventType]
	if !exists {
		errorMsg := fmt.Sprintf("no handler registered for event type: %s", msg.EventType)
		statusCtx, cancel := statusContext(ctx)
		defer cancel()
		return p.deadLetter(statusCtx, msg, errorMsg, "unroutable")
	}

	deliverCtx, cancelDelivery := context.WithTimeout(ctx, p.deliveryTimeout)
	err = handler.HandleMessage(deliverCtx, msg)
	cancelDelivery()

	statusCtx, cancelStatus := statusContext(ctx)
	defer cancelStatus()

	if err != nil {
		if attempts >= p.maxRetries {
			return p.deadLetter(statusCtx, msg, err.Error(), fmt.Sprintf("max retries reached after %d attempts", attempts))
		}

		p.metrics.EventPublished(msg.EventType, "retry")
		p.logger.Warn("Message processing failed, will retry",
			"error", err,
			"messageID", msg.ID,
			"attempt", attempts)

		if markErr := p.store.MarkForRetry(statusCtx, msg.ID, err.Error()); markErr != nil {
			return fmt.Errorf("failed to return message to pending: %w", markErr)
		}
		return err
	}

	if err := p.store.MarkAsCompleted(statusCtx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as completed: %w", err)
	}

	p.metrics.EventPublished(msg.EventType, "published")
	p.logger.Info("Successfully processed message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType,
		"attempt", attempts)

	return nil
}

// statusContext outlives ctx so a claimed message leaves processing even
// after its delivery deadline or a shutdown
func statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
}

func (p *Processor) deadLetter(ctx context.Context, msg *models.OutboxMessage, errorMsg, reason string) error {
	p.metrics.EventPublished(msg.EventType, "dead_lettered")

	dead, err := p.store.MoveToDeadLetter(ctx, msg, errorMsg, reason)
	if err != nil {
		return fmt.Errorf("failed to move message to dead letters: %w", err)
	}

	p.logger.Error("Message moved to dead letter queue",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType,
		"reason", reason,
		"error", errorMsg,
		"deadLetterID", dead.ID)

	return fmt.Errorf("%s: %s", reason, errorMsg)
}

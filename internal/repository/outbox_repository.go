package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/quote-service/internal/database"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/pkg/logger"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload,
	created_at, processed_at, processing_attempts, processing_started_at, last_error, status`

// OutboxRepository handles database operations for outbox messages
type OutboxRepository struct {
	db     *database.Database
	dlq    *DeadLetterRepository
	logger logger.Logger
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *database.Database, dlq *DeadLetterRepository, logger logger.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		dlq:    dlq,
		logger: logger,
	}
}

const insertOutbox = `
	INSERT INTO outbox_messages (aggregate_type, aggregate_id, event_type, payload, created_at, status)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id
`

// Create inserts a new outbox message
func (r *OutboxRepository) Create(ctx context.Context, message *models.OutboxMessage) error {
	err := r.db.DB.QueryRowContext(ctx, insertOutbox,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&message.ID)
	if err != nil {
		r.logger.Error("Failed to create outbox message", "error", err)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// CreateInTx creates a new outbox message within a transaction
func (r *OutboxRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, message *models.OutboxMessage) error {
	err := tx.QueryRowContext(ctx, insertOutbox,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&message.ID)
	if err != nil {
		return fmt.Errorf("%w: failed to create outbox message in transaction: %v", ErrDatabase, err)
	}

	return nil
}

// GetPendingMessages retrieves messages ready for delivery, oldest first.
// A message left in processing for longer than lease is handed out again.
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int, lease time.Duration) ([]*models.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + `
		FROM outbox_messages
		WHERE status = $1 OR (status = $2 AND processing_started_at < $3)
		ORDER BY created_at ASC
		LIMIT $4`

	staleBefore := models.GetCurrentTime().Add(-lease)

	var messages []*models.OutboxMessage
	err := r.db.DB.SelectContext(ctx, &messages, query,
		models.OutboxStatusPending, models.OutboxStatusProcessing, staleBefore, limit)
	if err != nil {
		r.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// MarkAsProcessing claims a message, counts the attempt and starts its lease.
// attempts is the count the caller read; the claim is lost when another
// worker has counted an attempt since, so a reclaimed message has one owner.
// It returns false when the claim was lost.
func (r *OutboxRepository) MarkAsProcessing(ctx context.Context, id int64, attempts int) (bool, error) {
	result, err := r.db.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = processing_attempts + 1, processing_started_at = $2
		WHERE id = $3 AND processing_attempts = $4 AND status IN ($5, $1)`,
		models.OutboxStatusProcessing, models.GetCurrentTime(), id, attempts, models.OutboxStatusPending)
	if err != nil {
		r.logger.Error("Failed to mark outbox message as processing", "error", err, "messageID", id)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return n == 1, nil
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *OutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $1, processed_at = $2, last_error = NULL
		WHERE id = $3`,
		models.OutboxStatusCompleted, models.GetCurrentTime(), id)
	if err != nil {
		r.logger.Error("Failed to mark outbox message as completed", "error", err, "messageID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// MarkForRetry returns a message to pending and records the failure
func (r *OutboxRepository) MarkForRetry(ctx context.Context, id int64, errorMessage string) error {
	_, err := r.db.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3`,
		models.OutboxStatusPending, errorMessage, id)
	if err != nil {
		r.logger.Error("Failed to return outbox message to pending", "error", err, "messageID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

func (r *OutboxRepository) markFailed(ctx context.Context, exec sqlx.ExecerContext, id int64, errorMessage string) error {
	_, err := exec.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3`,
		models.OutboxStatusFailed, errorMessage, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

// MoveToDeadLetter marks a message failed and copies it to the dead-letter
// table in one transaction
func (r *OutboxRepository) MoveToDeadLetter(ctx context.Context, message *models.OutboxMessage, errorMessage, reason string) (*models.DeadLetterMessage, error) {
	dead := models.NewDeadLetterMessage(message, errorMessage, reason)

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.markFailed(ctx, tx, message.ID, errorMessage); err != nil {
			return err
		}
		return r.dlq.CreateInTx(ctx, tx, dead)
	})
	if err != nil {
		r.logger.Error("Failed to move outbox message to dead letters", "error", err, "messageID", message.ID)
		return nil, err
	}

	return dead, nil
}

// GetMessage retrieves an outbox message by ID
func (r *OutboxRepository) GetMessage(ctx context.Context, id int64) (*models.OutboxMessage, error) {
	var message models.OutboxMessage
	err := r.db.DB.GetContext(ctx, &message, `SELECT `+outboxColumns+` FROM outbox_messages WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get outbox message", "error", err, "messageID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &message, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/quote-service/internal/database"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/pkg/logger"
)

const deadLetterColumns = `id, original_message_id, aggregate_type, aggregate_id, event_type, payload,
	error_message, failure_reason, retry_count, last_retry_at, status, created_at, resolved_at`

// DeadLetterRepository handles database operations related to dead letter messages
type DeadLetterRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewDeadLetterRepository creates a new DeadLetterRepository
func NewDeadLetterRepository(db *database.Database, logger logger.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{
		db:     db,
		logger: logger,
	}
}

// CreateInTx inserts a dead letter message within a transaction
func (r *DeadLetterRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, message *models.DeadLetterMessage) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO dead_letter_messages (
			original_message_id, aggregate_type, aggregate_id, event_type, payload,
			error_message, failure_reason, retry_count, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		message.OriginalMessageID,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.ErrorMessage,
		message.FailureReason,
		message.RetryCount,
		message.Status,
		message.CreatedAt,
	).Scan(&message.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetPendingMessages retrieves pending dead letter messages
func (r *DeadLetterRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error) {
	return r.List(ctx, models.DeadLetterStatusPending, limit, 0)
}

// List retrieves dead letter messages, optionally filtered by status
func (r *DeadLetterRepository) List(ctx context.Context, status models.DeadLetterStatus, limit, offset int) ([]*models.DeadLetterMessage, error) {
	query := `SELECT ` + deadLetterColumns + `
		FROM dead_letter_messages
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`

	var messages []*models.DeadLetterMessage
	if err := r.db.DB.SelectContext(ctx, &messages, query, string(status), limit, offset); err != nil {
		r.logger.Error("Failed to list dead letter messages", "error", err, "status", status)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// Count counts dead letter messages, optionally filtered by status
func (r *DeadLetterRepository) Count(ctx context.Context, status models.DeadLetterStatus) (int, error) {
	var count int
	err := r.db.DB.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM dead_letter_messages WHERE ($1 = '' OR status = $1)`, string(status))
	if err != nil {
		r.logger.Error("Failed to count dead letter messages", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return count, nil
}

// MarkAsRetrying marks a message as being retried
func (r *DeadLetterRepository) MarkAsRetrying(ctx context.Context, id int64) error {
	return r.exec(ctx, "retrying", `
		UPDATE dead_letter_messages
		SET status = $1, retry_count = retry_count + 1, last_retry_at = $2
		WHERE id = $3`,
		models.DeadLetterStatusRetrying, models.GetCurrentTime(), id)
}

// MarkAsResolved marks a message as resolved
func (r *DeadLetterRepository) MarkAsResolved(ctx context.Context, id int64) error {
	return r.exec(ctx, "resolved", `
		UPDATE dead_letter_messages
		SET status = $1, resolved_at = $2
		WHERE id = $3`,
		models.DeadLetterStatusResolved, models.GetCurrentTime(), id)
}

// MarkAsDiscarded marks a message as permanently discarded
func (r *DeadLetterRepository) MarkAsDiscarded(ctx context.Context, id int64, reason string) error {
	return r.exec(ctx, "discarded", `
		UPDATE dead_letter_messages
		SET status = $1, failure_reason = CONCAT(failure_reason, ' | Discarded: ', $2::text), resolved_at = $3
		WHERE id = $4 AND status IN ('pending', 'retrying')`,
		models.DeadLetterStatusDiscarded, reason, models.GetCurrentTime(), id)
}

// Requeue puts a retrying or discarded message back in the pending queue
func (r *DeadLetterRepository) Requeue(ctx context.Context, id int64) error {
	return r.exec(ctx, "pending", `
		UPDATE dead_letter_messages
		SET status = $1, resolved_at = NULL
		WHERE id = $2 AND status IN ('retrying', 'discarded')`,
		models.DeadLetterStatusPending, id)
}

func (r *DeadLetterRepository) exec(ctx context.Context, target, query string, args ...interface{}) error {
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update dead letter message", "error", err, "target", target)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// GetMessage retrieves a message by ID
func (r *DeadLetterRepository) GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	var message models.DeadLetterMessage
	err := r.db.DB.GetContext(ctx, &message, `SELECT `+deadLetterColumns+` FROM dead_letter_messages WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get dead letter message", "error", err, "messageID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &message, nil
}

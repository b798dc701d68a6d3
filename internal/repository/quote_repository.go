package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vaidashi/quote-service/internal/database"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/pkg/logger"
)

const quoteColumns = `id, status, customer_id, draft_order_id, order_change_id, cart_id, valid_till, notes, created_at, updated_at, deleted_at`

// EventFactory builds the outbox event written together with a quote change
type EventFactory func(q *models.Quote) (*models.OutboxMessage, error)

// QuoteFilter narrows List and Count
type QuoteFilter struct {
	IDs        []string
	CustomerID string
	Status     models.QuoteStatus
	Limit      int
	Offset     int
	Order      string
}

// orderClauses is the allowlist of sort keys accepted by List
var orderClauses = map[string]string{
	"created_at":  "created_at ASC",
	"-created_at": "created_at DESC",
	"updated_at":  "updated_at ASC",
	"-updated_at": "updated_at DESC",
	"valid_till":  "valid_till ASC NULLS LAST",
	"-valid_till": "valid_till DESC NULLS LAST",
}

// ValidOrder reports whether order is an accepted sort key
func ValidOrder(order string) bool {
	_, ok := orderClauses[order]
	return order == "" || ok
}

// TransitionParams describes a conditional status change
type TransitionParams struct {
	ID   string
	From models.QuoteStatus
	To   models.QuoteStatus
	// CustomerID, when set, restricts the change to quotes owned by that customer
	CustomerID string
	// RejectExpired refuses the change when the quote's validity has lapsed
	RejectExpired bool
	Event         EventFactory
}

// QuoteRepository handles database operations for quotes
type QuoteRepository struct {
	db         *database.Database
	outboxRepo *OutboxRepository
	logger     logger.Logger
	now        func() time.Time
}

// NewQuoteRepository creates a new QuoteRepository
func NewQuoteRepository(db *database.Database, outboxRepo *OutboxRepository, logger logger.Logger) *QuoteRepository {
	return &QuoteRepository{
		db:         db,
		outboxRepo: outboxRepo,
		logger:     logger,
		now:        models.GetCurrentTime,
	}
}

const insertQuote = `
	INSERT INTO quotes (id, status, customer_id, draft_order_id, order_change_id, cart_id, valid_till, notes, created_at, updated_at)
	VALUES (:id, :status, :customer_id, :draft_order_id, :order_change_id, :cart_id, :valid_till, :notes, :created_at, :updated_at)
`

// CreateWithEvent inserts a quote and its creation event in one transaction
func (r *QuoteRepository) CreateWithEvent(ctx context.Context, quote *models.Quote, event EventFactory) error {
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertQuote, quote); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		return r.writeEvent(ctx, tx, quote, event)
	})
	if err != nil {
		r.logger.Error("Failed to create quote", "error", err, "quoteID", quote.ID)
		return err
	}
	return nil
}

// GetByID retrieves a live quote by its ID
func (r *QuoteRepository) GetByID(ctx context.Context, id string) (*models.Quote, error) {
	return r.getOne(ctx, "id", id)
}

// GetByDraftOrderID retrieves the live quote backing a draft order
func (r *QuoteRepository) GetByDraftOrderID(ctx context.Context, orderID string) (*models.Quote, error) {
	return r.getOne(ctx, "draft_order_id", orderID)
}

func (r *QuoteRepository) getOne(ctx context.Context, column, value string) (*models.Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE ` + column + ` = $1 AND deleted_at IS NULL`

	var quote models.Quote
	err := r.db.DB.GetContext(ctx, &quote, query, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get quote", "error", err, column, value)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &quote, nil
}

// where builds the WHERE clause for a filter. Expiry is derived, so the
// pending and expired filters compare valid_till against now.
func (r *QuoteRepository) where(f QuoteFilter) (string, []interface{}) {
	conds := []string{"deleted_at IS NULL"}
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.IDs) > 0 {
		conds = append(conds, "id = ANY("+arg(pq.Array(f.IDs))+")")
	}

	if f.CustomerID != "" {
		conds = append(conds, "customer_id = "+arg(f.CustomerID))
	}

	switch f.Status {
	case "":
	case models.QuoteStatusExpired:
		conds = append(conds, "status = 'pending' AND valid_till < "+arg(r.now()))
	case models.QuoteStatusPending:
		conds = append(conds, "status = 'pending' AND (valid_till IS NULL OR valid_till >= "+arg(r.now())+")")
	default:
		conds = append(conds, "status = "+arg(f.Status))
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// List retrieves quotes matching the filter
func (r *QuoteRepository) List(ctx context.Context, f QuoteFilter) ([]*models.Quote, error) {
	orderBy, ok := orderClauses[f.Order]
	if !ok {
		orderBy = orderClauses["-created_at"]
	}

	where, args := r.where(f)

	query := `SELECT ` + quoteColumns + ` FROM quotes` + where + ` ORDER BY ` + orderBy
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	var quotes []*models.Quote
	if err := r.db.DB.SelectContext(ctx, &quotes, query, args...); err != nil {
		r.logger.Error("Failed to list quotes", "error", err, "limit", f.Limit, "offset", f.Offset)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return quotes, nil
}

// Count counts the quotes matching the filter, ignoring limit and offset
func (r *QuoteRepository) Count(ctx context.Context, f QuoteFilter) (int, error) {
	where, args := r.where(f)

	var count int
	if err := r.db.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM quotes`+where, args...); err != nil {
		r.logger.Error("Failed to count quotes", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return count, nil
}

// Update writes status, valid_till and notes unconditionally and returns the
// row as it was before the write, so callers can restore it
func (r *QuoteRepository) Update(ctx context.Context, quote *models.Quote) (*models.Quote, error) {
	var previous models.Quote

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &previous,
			`SELECT `+quoteColumns+` FROM quotes WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, quote.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		quote.UpdatedAt = r.now()
		_, err = tx.ExecContext(ctx,
			`UPDATE quotes SET status = $1, valid_till = $2, notes = $3, updated_at = $4 WHERE id = $5`,
			quote.Status, quote.ValidTill, quote.Notes, quote.UpdatedAt, quote.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("Failed to update quote", "error", err, "quoteID", quote.ID)
		}
		return nil, err
	}

	return &previous, nil
}

// Delete soft-deletes a quote
func (r *QuoteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.DB.ExecContext(ctx,
		`UPDATE quotes SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, r.now(), id)
	if err != nil {
		r.logger.Error("Failed to delete quote", "error", err, "quoteID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ClaimPending touches a pending quote and returns it. It fails with a
// *StatusConflictError when the quote has left pending, so a concurrent
// transition and a mutation cannot both pass the check.
func (r *QuoteRepository) ClaimPending(ctx context.Context, id string) (*models.Quote, error) {
	var quote models.Quote
	err := r.db.DB.QueryRowxContext(ctx,
		`UPDATE quotes SET updated_at = $2
		WHERE id = $1 AND status = 'pending' AND deleted_at IS NULL
		RETURNING `+quoteColumns, id, r.now()).StructScan(&quote)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainMiss(ctx, id, "")
		}
		r.logger.Error("Failed to claim quote", "error", err, "quoteID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &quote, nil
}

// Transition moves a quote from p.From to p.To and writes p.Event in the
// same transaction. Nothing is written when the quote is not in p.From.
func (r *QuoteRepository) Transition(ctx context.Context, p TransitionParams) (*models.Quote, error) {
	if !models.CanTransition(p.From, p.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, p.From, p.To)
	}

	now := r.now()
	args := []interface{}{p.ID, p.From, p.To, now}
	query := `UPDATE quotes SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL`

	if p.RejectExpired {
		query += ` AND (valid_till IS NULL OR valid_till >= $4)`
	}
	if p.CustomerID != "" {
		args = append(args, p.CustomerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	query += ` RETURNING ` + quoteColumns

	var quote models.Quote
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.QueryRowxContext(ctx, query, args...).StructScan(&quote); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNoMatch
			}
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		return r.writeEvent(ctx, tx, &quote, p.Event)
	})
	if err != nil {
		if errors.Is(err, errNoMatch) {
			return nil, r.explainMiss(ctx, p.ID, p.CustomerID)
		}
		r.logger.Error("Failed to transition quote", "error", err, "quoteID", p.ID, "from", p.From, "to", p.To)
		return nil, err
	}

	return &quote, nil
}

// UpdateValidTill sets the validity of a pending quote. An expired quote is
// still pending, so its validity can be extended.
func (r *QuoteRepository) UpdateValidTill(ctx context.Context, id string, validTill *time.Time, event EventFactory) (*models.Quote, error) {
	var quote models.Quote
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx,
			`UPDATE quotes SET valid_till = $2, updated_at = $3
			WHERE id = $1 AND status = 'pending' AND deleted_at IS NULL
			RETURNING `+quoteColumns, id, validTill, r.now()).StructScan(&quote)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNoMatch
			}
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		return r.writeEvent(ctx, tx, &quote, event)
	})
	if err != nil {
		if errors.Is(err, errNoMatch) {
			return nil, r.explainMiss(ctx, id, "")
		}
		r.logger.Error("Failed to update quote validity", "error", err, "quoteID", id)
		return nil, err
	}

	return &quote, nil
}

var errNoMatch = errors.New("no matching quote")

// explainMiss turns a conditional update that matched nothing into
// ErrNotFound or a *StatusConflictError carrying the effective status
func (r *QuoteRepository) explainMiss(ctx context.Context, id, customerID string) error {
	quote, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if customerID != "" && quote.CustomerID != customerID {
		return ErrNotFound
	}
	return &StatusConflictError{QuoteID: id, Status: quote.EffectiveStatus(r.now())}
}

func (r *QuoteRepository) writeEvent(ctx context.Context, tx *sqlx.Tx, quote *models.Quote, event EventFactory) error {
	if event == nil {
		return nil
	}

	msg, err := event(quote)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", models.AggregateQuote, err)
	}

	return r.outboxRepo.CreateInTx(ctx, tx, msg)
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vaidashi/quote-service/internal/database"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/pkg/logger"
)

// OrderSummaryRepository writes the host's cached order_summary projection.
// The table belongs to the host; only the totals fields in
// models.SummaryTotals are written.
type OrderSummaryRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOrderSummaryRepository creates a new OrderSummaryRepository
func NewOrderSummaryRepository(db *database.Database, logger logger.Logger) *OrderSummaryRepository {
	return &OrderSummaryRepository{
		db:     db,
		logger: logger,
	}
}

// Overwrite merges totals over the cached summary of an order in one statement
func (r *OrderSummaryRepository) Overwrite(ctx context.Context, orderID string, totals models.SummaryTotals) error {
	patch, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("failed to encode order summary totals: %w", err)
	}

	result, err := r.db.DB.ExecContext(ctx,
		`UPDATE order_summary SET totals = totals::jsonb || $1::jsonb WHERE order_id = $2 AND deleted_at IS NULL`,
		string(patch), orderID)
	if err != nil {
		r.logger.Error("Failed to overwrite order summary", "error", err, "orderID", orderID)
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

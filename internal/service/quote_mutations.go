package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/models"
	apperrors "github.com/vaidashi/quote-service/pkg/errors"
)

// UpdateItemInput changes a line item inside a quote's open order edit
type UpdateItemInput struct {
	Quantity  int
	UnitPrice *decimal.Decimal
}

// UpdateItem changes the quantity and optionally the unit price of a draft
// order item. The new quantity must exceed what is already fulfilled.
func (s *QuoteService) UpdateItem(ctx context.Context, quoteID, itemID string, in UpdateItemInput) (*clients.Order, error) {
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return nil, apperrors.NewInvalidInputError("unit_price must not be negative")
	}

	q, err := s.quotes.ClaimPending(ctx, quoteID)
	if err != nil {
		return nil, quoteError("update quote item", quoteID, err)
	}

	order, err := s.commerce.GetOrder(ctx, q.DraftOrderID)
	if err != nil {
		return nil, err
	}

	item, ok := order.Item(itemID)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("Item %s is not part of order %s", itemID, order.ID))
	}
	if in.Quantity <= item.FulfilledQuantity {
		return nil, apperrors.NewBusinessError(fmt.Sprintf(
			"Quantity of item %s should be greater than the fulfilled quantity %d", itemID, item.FulfilledQuantity))
	}

	preview, err := s.commerce.UpdateOrderEditItem(ctx, order.ID, itemID, clients.UpdateOrderEditItemInput{
		Quantity:  in.Quantity,
		UnitPrice: in.UnitPrice,
	})
	if err != nil {
		return nil, err
	}

	if err := s.summaries.Overwrite(ctx, order.ID, models.NewSummaryTotals(preview.Total, preview.PaidTotal)); err != nil {
		return nil, err
	}

	s.logger.Info("Quote item updated", "quote_id", quoteID, "item_id", itemID, "quantity", in.Quantity)
	return preview, nil
}

// UpdateValidity sets a pending quote's validity. A quote that already
// expired can be extended this way.
func (s *QuoteService) UpdateValidity(ctx context.Context, quoteID string, validTill time.Time) (*QuoteView, error) {
	if !validTill.After(s.now()) {
		return nil, apperrors.NewInvalidInputError("valid_till must be in the future")
	}

	v := validTill.UTC()
	q, err := s.quotes.UpdateValidTill(ctx, quoteID, &v, models.NewQuoteValidityUpdatedEvent)
	if err != nil {
		return nil, quoteError("update quote validity", quoteID, err)
	}

	s.logger.Info("Quote validity updated", "quote_id", quoteID, "valid_till", v)
	return s.view(q, nil), nil
}

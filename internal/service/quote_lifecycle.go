package service

import (
	"context"
	"time"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/repository"
	"github.com/vaidashi/quote-service/internal/workflow"
	apperrors "github.com/vaidashi/quote-service/pkg/errors"
	"github.com/vaidashi/quote-service/pkg/retry"
)

// sending carries the state of a send saga
type sending struct {
	quoteID string
	quote   *models.Quote
	order   *clients.Order
}

func newFollowUpRetry(s *QuoteService) *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts: 3,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2,
			JitterFactor:    0.2,
		},
		Logger:   s.logger,
		Classify: func(err error) bool { return !isPermanent(err) },
	}
}

// isPermanent reports errors another attempt cannot fix
func isPermanent(err error) bool {
	appErr, ok := apperrors.As(err)
	return ok && !appErr.Retryable
}

// SendQuote accepts a pending, unexpired quote on the merchant's behalf:
// the draft order becomes a pending order and the order edit is confirmed.
func (s *QuoteService) SendQuote(ctx context.Context, id string) (*QuoteView, error) {
	st := &sending{quoteID: id}
	if err := s.sendSaga("send-quote", st).Run(ctx); err != nil {
		return nil, err
	}
	s.afterSend(ctx, st)

	s.logger.Info("Quote sent", "quote_id", id, "draft_order_id", st.quote.DraftOrderID)
	return s.view(st.quote, st.order), nil
}

// sendSaga claims the quote by moving it to accepted, then promotes the
// draft order and confirms its order edit. Confirming cannot be undone, so
// it runs last.
func (s *QuoteService) sendSaga(name string, st *sending) *workflow.Saga {
	return workflow.New(name, s.logger, s.metrics).
		Step("accept-quote", func(ctx context.Context) error {
			q, err := s.quotes.Transition(ctx, repository.TransitionParams{
				ID:            st.quoteID,
				From:          models.QuoteStatusPending,
				To:            models.QuoteStatusAccepted,
				RejectExpired: true,
			})
			if err != nil {
				return quoteError("send quote", st.quoteID, err)
			}
			st.quote = q
			return nil
		}, func(ctx context.Context) error {
			restore := st.quote.Clone()
			restore.Status = models.QuoteStatusPending
			_, err := s.quotes.Update(ctx, restore)
			return err
		}).
		Step("promote-draft-order", func(ctx context.Context) error {
			_, err := s.commerce.UpdateOrder(ctx, st.quote.DraftOrderID, clients.UpdateOrderInput{
				Status:       ptr(clients.OrderStatusPending),
				IsDraftOrder: ptr(false),
			})
			return err
		}, func(ctx context.Context) error {
			_, err := s.commerce.UpdateOrder(ctx, st.quote.DraftOrderID, clients.UpdateOrderInput{
				Status:       ptr(clients.OrderStatusDraft),
				IsDraftOrder: ptr(true),
			})
			return err
		}).
		Step("confirm-order-edit", func(ctx context.Context) error {
			order, err := s.commerce.ConfirmOrderEdit(ctx, st.quote.DraftOrderID)
			if err != nil {
				return err
			}
			st.order = order
			return nil
		}, nil)
}

// afterSend runs once the order edit is confirmed: it queues quote.sent and
// aligns the cart with the negotiated items. Both are retried and then only
// logged, since the send itself can no longer be rolled back.
func (s *QuoteService) afterSend(ctx context.Context, st *sending) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With("quote_id", st.quote.ID)

	_ = retry.RetryWithDiscard(ctx, func() error {
		msg, err := models.NewQuoteSentEvent(st.quote)
		if err != nil {
			return apperrors.NewInternalError(err.Error())
		}
		return s.events.Create(ctx, msg)
	}, s.followUp, func(err error) error {
		log.Error("Dropped quote.sent event", "error", err, "draft_order_id", st.quote.DraftOrderID)
		return nil
	})

	_ = retry.RetryWithDiscard(ctx, func() error {
		return s.reconcileCart(ctx, st.quote, st.order)
	}, s.followUp, func(err error) error {
		log.Error("Cart left out of sync with sent quote", "error", err, "cart_id", st.quote.CartID)
		return nil
	})
}

// reconcileCart copies the order's quantity and unit price onto the cart
// line item of the same variant wherever they differ
func (s *QuoteService) reconcileCart(ctx context.Context, q *models.Quote, order *clients.Order) error {
	if order == nil {
		return nil
	}

	cart, err := s.commerce.GetCart(ctx, q.CartID)
	if err != nil {
		return err
	}

	for _, line := range cart.Items {
		item, ok := order.ItemForVariant(line.VariantID)
		if !ok {
			continue
		}
		if item.Quantity == line.Quantity && item.UnitPrice.Equal(line.UnitPrice) {
			continue
		}

		price := item.UnitPrice
		err := s.commerce.UpdateCartLineItem(ctx, cart.ID, line.ID, clients.UpdateLineItemInput{
			Quantity:  item.Quantity,
			UnitPrice: &price,
		})
		if err != nil {
			return err
		}
		s.logger.Debug("Cart line item aligned with quote", "cart_id", cart.ID, "line_item_id", line.ID)
	}
	return nil
}

// MerchantRejectQuote rejects a pending quote on the merchant's behalf
func (s *QuoteService) MerchantRejectQuote(ctx context.Context, id string) (*QuoteView, error) {
	return s.reject(ctx, id, "")
}

// CustomerRejectQuote rejects a pending quote owned by customerID
func (s *QuoteService) CustomerRejectQuote(ctx context.Context, customerID, id string) (*QuoteView, error) {
	if customerID == "" {
		return nil, apperrors.NewUnauthorizedError("customer authentication required")
	}
	return s.reject(ctx, id, customerID)
}

func (s *QuoteService) reject(ctx context.Context, id, customerID string) (*QuoteView, error) {
	q, err := s.quotes.Transition(ctx, repository.TransitionParams{
		ID:         id,
		From:       models.QuoteStatusPending,
		To:         models.QuoteStatusRejected,
		CustomerID: customerID,
		Event:      models.NewQuoteRejectedEvent,
	})
	if err != nil {
		return nil, quoteError("reject quote", id, err)
	}

	by := "merchant"
	if customerID != "" {
		by = "customer"
	}
	s.logger.Info("Quote rejected", "quote_id", id, "by", by)

	return s.view(q, nil), nil
}

func ptr[T any](v T) *T {
	return &v
}

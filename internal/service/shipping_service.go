package service

import (
	"context"
	"fmt"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/repository"
	"github.com/vaidashi/quote-service/internal/workflow"
	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/metrics"
)

// ShippingService manages the shipping method of a quote's draft order
type ShippingService struct {
	quotes    QuoteStore
	summaries SummaryStore
	commerce  Commerce
	metrics   *metrics.WorkflowMetrics
	logger    logger.Logger
}

// NewShippingService creates a new ShippingService
func NewShippingService(
	quotes QuoteStore,
	summaries SummaryStore,
	commerce Commerce,
	m *metrics.WorkflowMetrics,
	logger logger.Logger,
) *ShippingService {
	return &ShippingService{
		quotes:    quotes,
		summaries: summaries,
		commerce:  commerce,
		metrics:   m,
		logger:    logger,
	}
}

// ReplaceShippingInput selects the shipping option for a draft order
type ReplaceShippingInput struct {
	OrderID          string
	ShippingOptionID string
	// CartID defaults to the quote's cart
	CartID string
	// CustomerID, when set, must own the quote
	CustomerID string
}

// replacement carries the state of a replace-shipping saga
type replacement struct {
	quote   *models.Quote
	order   *clients.Order
	option  *clients.ShippingOption
	price   *clients.CalculatedPrice
	change  *clients.OrderChange
	created []clients.ShippingMethod
	actions []clients.OrderChangeAction
	preview *clients.Order
}

// ReplaceShippingMethod swaps every shipping method of a pending quote's
// draft order for one priced from the given option. When the option is
// already attached the order is returned unchanged.
func (s *ShippingService) ReplaceShippingMethod(ctx context.Context, in ReplaceShippingInput) (*clients.Order, error) {
	q, err := s.quotes.GetByDraftOrderID(ctx, in.OrderID)
	if err != nil {
		return nil, orderQuoteError(in.OrderID, err)
	}
	if in.CustomerID != "" && q.CustomerID != in.CustomerID {
		return nil, orderQuoteError(in.OrderID, repository.ErrNotFound)
	}

	if q.Status.IsTerminal() {
		return nil, quoteError("update quote shipping method", q.ID, &repository.StatusConflictError{QuoteID: q.ID, Status: q.Status})
	}

	order, err := s.commerce.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.HasShippingOption(in.ShippingOptionID) {
		s.logger.Debug("Shipping option already attached", "order_id", in.OrderID, "shipping_option_id", in.ShippingOptionID)
		return order, nil
	}

	// Only a real change claims the quote
	claimed, err := s.quotes.ClaimPending(ctx, q.ID)
	if err != nil {
		return nil, quoteError("update quote shipping method", q.ID, err)
	}

	r := &replacement{quote: claimed, order: order}

	r.option, err = s.commerce.GetShippingOption(ctx, in.ShippingOptionID)
	if err != nil {
		return nil, err
	}
	r.price, err = s.commerce.CalculatePrice(ctx, r.option.PriceSetID, clients.PriceContext{
		RegionID:     r.order.RegionID,
		CurrencyCode: r.order.CurrencyCode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to price shipping option %s: %w", in.ShippingOptionID, err)
	}
	r.change, err = s.commerce.GetActiveOrderChange(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	cartID := in.CartID
	if cartID == "" {
		cartID = q.CartID
	}

	if err := s.replaceSaga(r, cartID).Run(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Shipping method replaced",
		"quote_id", q.ID,
		"order_id", in.OrderID,
		"shipping_option_id", in.ShippingOptionID,
		"amount", r.price.CalculatedAmount.String(),
		"order_total", r.preview.Total.String())

	return r.preview, nil
}

func (s *ShippingService) replaceSaga(r *replacement, cartID string) *workflow.Saga {
	orderID := r.order.ID

	return workflow.New("replace-shipping-method", s.logger, s.metrics).
		Step("delete-shipping-methods", func(ctx context.Context) error {
			ids := make([]string, 0, len(r.order.ShippingMethods))
			for _, m := range r.order.ShippingMethods {
				ids = append(ids, m.ID)
			}
			if len(ids) == 0 {
				return nil
			}
			return s.commerce.DeleteOrderShippingMethods(ctx, orderID, ids)
		}, func(ctx context.Context) error {
			if len(r.order.ShippingMethods) == 0 {
				return nil
			}
			restore := make([]clients.CreateShippingMethodInput, 0, len(r.order.ShippingMethods))
			for _, m := range r.order.ShippingMethods {
				restore = append(restore, clients.CreateShippingMethodInput{
					OrderID:          orderID,
					ShippingOptionID: m.ShippingOptionID,
					Name:             m.Name,
					Amount:           m.Amount,
					IsTaxInclusive:   m.IsTaxInclusive,
					Version:          r.order.Version,
					Data:             m.Data,
				})
			}
			_, err := s.commerce.CreateOrderShippingMethods(ctx, orderID, restore)
			return err
		}).
		Step("create-shipping-method", func(ctx context.Context) error {
			created, err := s.commerce.CreateOrderShippingMethods(ctx, orderID, []clients.CreateShippingMethodInput{{
				OrderID:          orderID,
				ShippingOptionID: r.option.ID,
				Name:             r.option.Name,
				Amount:           r.price.CalculatedAmount,
				IsTaxInclusive:   r.price.IsTaxInclusive,
				Version:          r.change.Version,
				Data:             r.option.Data,
			}})
			if err != nil {
				return err
			}
			if len(created) == 0 {
				return fmt.Errorf("no shipping method created for order %s", orderID)
			}
			r.created = created
			return nil
		}, func(ctx context.Context) error {
			return s.commerce.DeleteOrderShippingMethods(ctx, orderID, methodIDs(r.created))
		}).
		Step("update-tax-lines", func(ctx context.Context) error {
			return s.commerce.UpdateOrderTaxLines(ctx, orderID, methodIDs(r.created))
		}, nil).
		Step("register-shipping-action", func(ctx context.Context) error {
			actions, err := s.commerce.CreateOrderChangeActions(ctx, []clients.OrderChangeAction{{
				OrderChangeID: r.change.ID,
				OrderID:       orderID,
				Version:       r.change.Version,
				Action:        clients.ActionShippingAdd,
				Reference:     clients.ReferenceShipping,
				ReferenceID:   r.created[0].ID,
				Amount:        r.price.CalculatedAmount,
			}})
			if err != nil {
				return err
			}
			r.actions = actions
			return nil
		}, func(ctx context.Context) error {
			for _, a := range r.actions {
				if err := s.commerce.DeleteOrderChangeAction(ctx, a.ID); err != nil {
					return err
				}
			}
			return nil
		}).
		Step("preview-order", func(ctx context.Context) error {
			preview, err := s.commerce.PreviewOrderChange(ctx, orderID)
			if err != nil {
				return err
			}
			r.preview = preview
			return nil
		}, nil).
		Step("sync-cart-shipping", func(ctx context.Context) error {
			return s.commerce.AddCartShippingMethod(ctx, cartID, r.option.ID)
		}, nil).
		Step("sync-payment-collections", func(ctx context.Context) error {
			for _, pc := range r.order.PaymentCollections {
				if err := s.commerce.UpdatePaymentCollectionAmount(ctx, pc.ID, r.preview.Total); err != nil {
					return err
				}
			}
			return nil
		}, nil).
		Step("project-order-summary", func(ctx context.Context) error {
			return s.summaries.Overwrite(ctx, orderID, models.NewSummaryTotals(r.preview.Total, r.preview.PaidTotal))
		}, nil)
}

func methodIDs(methods []clients.ShippingMethod) []string {
	ids := make([]string, 0, len(methods))
	for _, m := range methods {
		ids = append(ids, m.ID)
	}
	return ids
}

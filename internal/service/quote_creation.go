package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/idempotency"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/workflow"
	apperrors "github.com/vaidashi/quote-service/pkg/errors"
)

// RequestQuoteInput is a storefront quote request. A customer is found by
// CustomerID, else by Email, else created. A cart is reused when CartID is
// set, else created from the region, variant and addresses.
type RequestQuoteInput struct {
	CustomerID      string
	Email           string
	FirstName       string
	LastName        string
	Phone           string
	CartID          string
	RegionID        string
	VariantID       string
	Quantity        int
	ShippingAddress *clients.Address
	BillingAddress  *clients.Address
	Notes           string
	IdempotencyKey  string
}

// MerchantQuoteInput is a quote the merchant creates, prices and sends in one go
type MerchantQuoteInput struct {
	CustomerID      string
	RegionID        string
	VariantID       string
	Quantity        int
	UnitPrice       decimal.Decimal
	ValidTill       time.Time
	ShippingAddress *clients.Address
	BillingAddress  *clients.Address
	Notes           string
	IdempotencyKey  string
}

// creation carries the state shared by the steps of a creation saga
type creation struct {
	customerID string
	email      string
	firstName  string
	lastName   string
	phone      string
	cartID     string
	cartInput  clients.CreateCartInput
	notes      string

	customer        *clients.Customer
	createdCustomer bool
	cart            *clients.Cart
	createdCart     bool
	order           *clients.Order
	change          *clients.OrderChange
	quote           *models.Quote
}

// RequestQuote creates a quote from the storefront
func (s *QuoteService) RequestQuote(ctx context.Context, in RequestQuoteInput) (*QuoteView, error) {
	c := &creation{
		customerID: in.CustomerID,
		email:      in.Email,
		firstName:  in.FirstName,
		lastName:   in.LastName,
		phone:      in.Phone,
		cartID:     in.CartID,
		notes:      in.Notes,
		cartInput: clients.CreateCartInput{
			RegionID:        in.RegionID,
			ShippingAddress: in.ShippingAddress,
			BillingAddress:  in.BillingAddress,
		},
	}
	if in.VariantID != "" {
		c.cartInput.Items = []clients.LineItemInput{{VariantID: in.VariantID, Quantity: in.Quantity}}
	}

	scope := "store:" + in.CustomerID
	if in.CustomerID == "" {
		scope = "store:" + in.Email
	}

	return s.idempotent(ctx, scope, in.IdempotencyKey, func() (*QuoteView, error) {
		if err := s.creationSaga("request-quote", c).Run(ctx); err != nil {
			return nil, err
		}

		s.logger.Info("Quote requested",
			"quote_id", c.quote.ID,
			"customer_id", c.customer.ID,
			"draft_order_id", c.order.ID,
			"created_customer", c.createdCustomer,
			"created_cart", c.createdCart)

		return s.view(c.quote, c.order), nil
	})
}

// CreateMerchantQuote creates a quote for a customer, sets its validity and
// item price, and sends it. A failure before the order edit is confirmed
// undoes everything created so far.
func (s *QuoteService) CreateMerchantQuote(ctx context.Context, in MerchantQuoteInput) (*QuoteView, error) {
	if in.CustomerID == "" {
		return nil, apperrors.NewInvalidInputError("customer_id is required")
	}
	if !in.ValidTill.After(s.now()) {
		return nil, apperrors.NewInvalidInputError("valid_till must be in the future")
	}
	if in.UnitPrice.IsNegative() {
		return nil, apperrors.NewInvalidInputError("unit_price must not be negative")
	}

	c := &creation{
		customerID: in.CustomerID,
		notes:      in.Notes,
		cartInput: clients.CreateCartInput{
			RegionID:        in.RegionID,
			Items:           []clients.LineItemInput{{VariantID: in.VariantID, Quantity: in.Quantity}},
			ShippingAddress: in.ShippingAddress,
			BillingAddress:  in.BillingAddress,
		},
	}
	snd := &sending{}
	validTill := in.ValidTill.UTC()

	return s.idempotent(ctx, "admin", in.IdempotencyKey, func() (*QuoteView, error) {
		saga := s.creationSaga("merchant-create-quote", c).
			Step("set-validity", func(ctx context.Context) error {
				q, err := s.quotes.UpdateValidTill(ctx, c.quote.ID, &validTill, models.NewQuoteValidityUpdatedEvent)
				if err != nil {
					return quoteError("update quote validity", c.quote.ID, err)
				}
				c.quote = q
				snd.quoteID = q.ID
				return nil
			}, nil).
			Step("price-item", func(ctx context.Context) error {
				item, ok := itemForVariant(c.order, in.VariantID)
				if !ok {
					return apperrors.NewBusinessError(fmt.Sprintf("Draft order %s has no item for variant %s", c.order.ID, in.VariantID))
				}

				price := in.UnitPrice
				preview, err := s.commerce.UpdateOrderEditItem(ctx, c.order.ID, item.ID, clients.UpdateOrderEditItemInput{
					Quantity:  in.Quantity,
					UnitPrice: &price,
				})
				if err != nil {
					return err
				}
				return s.summaries.Overwrite(ctx, c.order.ID, models.NewSummaryTotals(preview.Total, preview.PaidTotal))
			}, nil).
			Then(s.sendSaga("merchant-create-quote", snd))

		if err := saga.Run(ctx); err != nil {
			return nil, err
		}
		s.afterSend(ctx, snd)

		s.logger.Info("Merchant quote created and sent",
			"quote_id", snd.quote.ID,
			"customer_id", c.customer.ID,
			"draft_order_id", snd.quote.DraftOrderID)

		return s.view(snd.quote, snd.order), nil
	})
}

// creationSaga links a customer, a cart, a new draft order and its order
// edit under a new pending quote. Customers and carts the caller supplied
// are never undone.
func (s *QuoteService) creationSaga(name string, c *creation) *workflow.Saga {
	return workflow.New(name, s.logger, s.metrics).
		Step("resolve-customer", func(ctx context.Context) error {
			return s.resolveCustomer(ctx, c)
		}, func(ctx context.Context) error {
			if !c.createdCustomer {
				return nil
			}
			return s.commerce.DeleteCustomer(ctx, c.customer.ID)
		}).
		Step("resolve-cart", func(ctx context.Context) error {
			return s.resolveCart(ctx, c)
		}, func(ctx context.Context) error {
			if !c.createdCart {
				return nil
			}
			return s.commerce.DeleteCart(ctx, c.cart.ID)
		}).
		Step("load-cart", func(ctx context.Context) error {
			cart, err := s.commerce.GetCart(ctx, c.cart.ID)
			if err != nil {
				return err
			}
			c.cart = cart
			return nil
		}, nil).
		Step("create-draft-order", func(ctx context.Context) error {
			order, err := s.commerce.CreateOrder(ctx, draftOrderFromCart(c.cart, c.customer))
			if err != nil {
				return err
			}
			c.order = order
			return nil
		}, func(ctx context.Context) error {
			return s.commerce.CancelOrder(ctx, c.order.ID)
		}).
		Step("begin-order-edit", func(ctx context.Context) error {
			change, err := s.commerce.BeginOrderEdit(ctx, c.order.ID)
			if err != nil {
				return err
			}
			c.change = change
			return nil
		}, func(ctx context.Context) error {
			return s.commerce.CancelOrderEdit(ctx, c.order.ID)
		}).
		Step("create-quote", func(ctx context.Context) error {
			q := models.NewQuote(models.NewQuoteParams{
				CustomerID:    c.customer.ID,
				DraftOrderID:  c.order.ID,
				OrderChangeID: c.change.ID,
				CartID:        c.cart.ID,
				Notes:         c.notes,
			})
			if err := s.quotes.CreateWithEvent(ctx, q, models.NewQuoteCreatedEvent); err != nil {
				return err
			}
			c.quote = q
			return nil
		}, func(ctx context.Context) error {
			return s.quotes.Delete(ctx, c.quote.ID)
		})
}

func (s *QuoteService) resolveCustomer(ctx context.Context, c *creation) error {
	if c.customerID != "" {
		customer, err := s.commerce.GetCustomer(ctx, c.customerID)
		if err != nil {
			return err
		}
		c.customer = customer
		return nil
	}

	if c.email == "" {
		return apperrors.NewInvalidInputError("customer_id or email is required")
	}

	customer, err := s.commerce.FindCustomerByEmail(ctx, c.email)
	if err != nil {
		return err
	}
	if customer == nil {
		customer, err = s.commerce.CreateCustomer(ctx, clients.CreateCustomerInput{
			Email:     c.email,
			FirstName: c.firstName,
			LastName:  c.lastName,
			Phone:     c.phone,
		})
		if err != nil {
			return err
		}
		c.createdCustomer = true
	}

	c.customer = customer
	return nil
}

func (s *QuoteService) resolveCart(ctx context.Context, c *creation) error {
	if c.cartID != "" {
		cart, err := s.commerce.GetCart(ctx, c.cartID)
		if err != nil {
			return err
		}
		if cart.CustomerID != "" && cart.CustomerID != c.customer.ID {
			return apperrors.NewBusinessError(fmt.Sprintf("Cart %s belongs to another customer", cart.ID))
		}
		c.cart = cart
		return nil
	}

	if c.cartInput.RegionID == "" {
		return apperrors.NewInvalidInputError("region_id is required when no cart_id is given")
	}

	in := c.cartInput
	in.CustomerID = c.customer.ID
	in.Email = c.customer.Email

	cart, err := s.commerce.CreateCart(ctx, in)
	if err != nil {
		return err
	}
	c.cart = cart
	c.createdCart = true
	return nil
}

// draftOrderFromCart snapshots a cart into a draft order request
func draftOrderFromCart(cart *clients.Cart, customer *clients.Customer) clients.CreateOrderInput {
	in := clients.CreateOrderInput{
		Status:          clients.OrderStatusDraft,
		IsDraftOrder:    true,
		RegionID:        cart.RegionID,
		CustomerID:      customer.ID,
		Email:           cart.Email,
		CurrencyCode:    cart.CurrencyCode,
		SalesChannelID:  cart.SalesChannelID,
		ShippingAddress: cart.ShippingAddress,
		BillingAddress:  cart.BillingAddress,
		PromoCodes:      cart.PromoCodes,
	}
	if in.Email == "" {
		in.Email = customer.Email
	}

	for _, item := range cart.Items {
		in.Items = append(in.Items, clients.OrderItemInput{
			VariantID: item.VariantID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	for _, sm := range cart.ShippingMethods {
		in.ShippingMethods = append(in.ShippingMethods, clients.ShippingMethodInput{
			ShippingOptionID: sm.ShippingOptionID,
			Name:             sm.Name,
			Amount:           sm.Amount,
			Data:             sm.Data,
		})
	}
	return in
}

// itemForVariant finds the variant's line, falling back to the only line of
// a single-item order
func itemForVariant(order *clients.Order, variantID string) (clients.OrderItem, bool) {
	if item, ok := order.ItemForVariant(variantID); ok {
		return item, true
	}
	if len(order.Items) == 1 {
		return order.Items[0], true
	}
	return clients.OrderItem{}, false
}

// idempotent runs create at most once per (scope, key). A replayed key
// returns the quote the first request produced; a key still in flight is a
// conflict. Without a key, or when the token store is unreachable, create
// simply runs.
func (s *QuoteService) idempotent(ctx context.Context, scope, key string, create func() (*QuoteView, error)) (*QuoteView, error) {
	if s.idem == nil || key == "" {
		return create()
	}

	existing, err := s.idem.Begin(ctx, scope, key)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		return nil, apperrors.NewConflictError("A request with this Idempotency-Key is already in progress")
	case err != nil:
		s.logger.Warn("Idempotency store unavailable, creating without deduplication", "error", err, "scope", scope)
		return create()
	case existing != "":
		s.logger.Info("Replaying idempotent quote creation", "quote_id", existing, "scope", scope)
		return s.GetQuote(ctx, existing)
	}

	view, err := create()
	if err != nil {
		if rerr := s.idem.Release(context.WithoutCancel(ctx), scope, key); rerr != nil {
			s.logger.Warn("Failed to release idempotency key", "error", rerr, "scope", scope)
		}
		return nil, err
	}

	if cerr := s.idem.Complete(context.WithoutCancel(ctx), scope, key, view.ID); cerr != nil {
		s.logger.Warn("Failed to record idempotency key", "error", cerr, "scope", scope, "quote_id", view.ID)
	}
	return view, nil
}

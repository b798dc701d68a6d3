package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/repository"
)

// Commerce is the host commerce platform as the orchestrations use it.
// *clients.CommerceClient implements it.
type Commerce interface {
	GetCustomer(ctx context.Context, id string) (*clients.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*clients.Customer, error)
	CreateCustomer(ctx context.Context, in clients.CreateCustomerInput) (*clients.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	CreateCart(ctx context.Context, in clients.CreateCartInput) (*clients.Cart, error)
	GetCart(ctx context.Context, id string) (*clients.Cart, error)
	DeleteCart(ctx context.Context, id string) error
	UpdateCartLineItem(ctx context.Context, cartID, itemID string, in clients.UpdateLineItemInput) error
	UpdateCartAddresses(ctx context.Context, cartID string, shipping, billing *clients.Address) error
	AddCartShippingMethod(ctx context.Context, cartID, optionID string) error

	CreateOrder(ctx context.Context, in clients.CreateOrderInput) (*clients.Order, error)
	GetOrder(ctx context.Context, id string) (*clients.Order, error)
	UpdateOrder(ctx context.Context, id string, in clients.UpdateOrderInput) (*clients.Order, error)
	CancelOrder(ctx context.Context, id string) error

	BeginOrderEdit(ctx context.Context, orderID string) (*clients.OrderChange, error)
	CancelOrderEdit(ctx context.Context, orderID string) error
	ConfirmOrderEdit(ctx context.Context, orderID string) (*clients.Order, error)
	GetActiveOrderChange(ctx context.Context, orderID string) (*clients.OrderChange, error)
	UpdateOrderEditItem(ctx context.Context, orderID, itemID string, in clients.UpdateOrderEditItemInput) (*clients.Order, error)
	PreviewOrderChange(ctx context.Context, orderID string) (*clients.Order, error)
	RegisterOrderChanges(ctx context.Context, records []clients.OrderChangeRecord) error
	CreateOrderChangeActions(ctx context.Context, actions []clients.OrderChangeAction) ([]clients.OrderChangeAction, error)
	DeleteOrderChangeAction(ctx context.Context, actionID string) error

	GetShippingOption(ctx context.Context, id string) (*clients.ShippingOption, error)
	CreateOrderShippingMethods(ctx context.Context, orderID string, in []clients.CreateShippingMethodInput) ([]clients.ShippingMethod, error)
	DeleteOrderShippingMethods(ctx context.Context, orderID string, ids []string) error
	UpdateOrderTaxLines(ctx context.Context, orderID string, shippingMethodIDs []string) error
	CalculatePrice(ctx context.Context, priceSetID string, pc clients.PriceContext) (*clients.CalculatedPrice, error)

	CreatePaymentCollection(ctx context.Context, in clients.CreatePaymentCollectionInput) (*clients.PaymentCollection, error)
	UpdatePaymentCollectionAmount(ctx context.Context, id string, amount decimal.Decimal) error
	LinkOrderPaymentCollection(ctx context.Context, orderID, collectionID string) error
	LinkCartPaymentCollection(ctx context.Context, cartID, collectionID string) error
	AuthorizePaymentSession(ctx context.Context, sessionID string) (*clients.Payment, error)
}

// QuoteStore persists quotes. *repository.QuoteRepository implements it.
type QuoteStore interface {
	CreateWithEvent(ctx context.Context, quote *models.Quote, event repository.EventFactory) error
	GetByID(ctx context.Context, id string) (*models.Quote, error)
	GetByDraftOrderID(ctx context.Context, orderID string) (*models.Quote, error)
	List(ctx context.Context, f repository.QuoteFilter) ([]*models.Quote, error)
	Count(ctx context.Context, f repository.QuoteFilter) (int, error)
	Update(ctx context.Context, quote *models.Quote) (*models.Quote, error)
	Delete(ctx context.Context, id string) error
	ClaimPending(ctx context.Context, id string) (*models.Quote, error)
	Transition(ctx context.Context, p repository.TransitionParams) (*models.Quote, error)
	UpdateValidTill(ctx context.Context, id string, validTill *time.Time, event repository.EventFactory) (*models.Quote, error)
}

// EventStore queues domain events for publishing
type EventStore interface {
	Create(ctx context.Context, message *models.OutboxMessage) error
}

// SummaryStore holds the cached order-summary projection
type SummaryStore interface {
	Overwrite(ctx context.Context, orderID string, totals models.SummaryTotals) error
}

// IdempotencyStore maps client request tokens to the quotes they created
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key string) (string, error)
	Complete(ctx context.Context, scope, key, id string) error
	Release(ctx context.Context, scope, key string) error
}

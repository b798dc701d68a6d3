package api

import (
	"context"
	"time"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/service"
)

// QuoteService is the quote surface the HTTP layer drives
type QuoteService interface {
	RequestQuote(ctx context.Context, in service.RequestQuoteInput) (*service.QuoteView, error)
	CreateMerchantQuote(ctx context.Context, in service.MerchantQuoteInput) (*service.QuoteView, error)
	GetQuote(ctx context.Context, id string) (*service.QuoteView, error)
	GetCustomerQuote(ctx context.Context, customerID, id string) (*service.QuoteView, error)
	ListQuotes(ctx context.Context, in service.ListQuotesInput) (*service.QuoteList, error)
	ListCustomerQuotes(ctx context.Context, customerID string, in service.ListQuotesInput) (*service.QuoteList, error)
	SendQuote(ctx context.Context, id string) (*service.QuoteView, error)
	MerchantRejectQuote(ctx context.Context, id string) (*service.QuoteView, error)
	CustomerRejectQuote(ctx context.Context, customerID, id string) (*service.QuoteView, error)
	UpdateItem(ctx context.Context, quoteID, itemID string, in service.UpdateItemInput) (*clients.Order, error)
	UpdateValidity(ctx context.Context, quoteID string, validTill time.Time) (*service.QuoteView, error)
}

// ShippingService replaces the shipping method of a quote's draft order
type ShippingService interface {
	ReplaceShippingMethod(ctx context.Context, in service.ReplaceShippingInput) (*clients.Order, error)
}

// OrderService is the storefront draft order surface
type OrderService interface {
	UpdateDraftOrder(ctx context.Context, in service.UpdateDraftOrderInput) (*clients.Order, error)
	EnsurePaymentCollection(ctx context.Context, orderID, cartID, customerID string) (string, error)
	AuthorizePayment(ctx context.Context, orderID, sessionID, customerID string) (*clients.Order, error)
}

// DeadLetterStore is the dead-letter table as the admin endpoints see it
type DeadLetterStore interface {
	List(ctx context.Context, status models.DeadLetterStatus, limit, offset int) ([]*models.DeadLetterMessage, error)
	Count(ctx context.Context, status models.DeadLetterStatus) (int, error)
	GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error)
	Requeue(ctx context.Context, id int64) error
	MarkAsDiscarded(ctx context.Context, id int64, reason string) error
}

// Pinger reports whether the database answers
type Pinger interface {
	Ping(ctx context.Context) error
}

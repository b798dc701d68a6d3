package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/repository"
	apperrors "github.com/vaidashi/quote-service/pkg/errors"
	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/metrics"
	"github.com/vaidashi/quote-service/pkg/retry"
)

const (
	DefaultListLimit = 15
	MaxListLimit     = 100

	// previewConcurrency bounds the order lookups of one customer listing
	previewConcurrency = 5
)

// QuoteService orchestrates quote creation, merchant edits and lifecycle
// transitions across the quotes table and the commerce platform
type QuoteService struct {
	quotes    QuoteStore
	events    EventStore
	summaries SummaryStore
	commerce  Commerce
	idem      IdempotencyStore
	metrics   *metrics.WorkflowMetrics
	logger    logger.Logger
	now       func() time.Time
	// followUp retries the steps that run after a send is confirmed
	followUp *retry.RetryConfig
}

// NewQuoteService creates a new QuoteService. idem may be nil, which turns
// request-token deduplication off.
func NewQuoteService(
	quotes QuoteStore,
	events EventStore,
	summaries SummaryStore,
	commerce Commerce,
	idem IdempotencyStore,
	m *metrics.WorkflowMetrics,
	logger logger.Logger,
) *QuoteService {
	s := &QuoteService{
		quotes:    quotes,
		events:    events,
		summaries: summaries,
		commerce:  commerce,
		idem:      idem,
		metrics:   m,
		logger:    logger,
		now:       models.GetCurrentTime,
	}
	s.followUp = newFollowUpRetry(s)
	return s
}

// QuoteView is a quote as callers see it: the status is the effective one and
// the draft order is attached when it was loaded
type QuoteView struct {
	*models.Quote
	DraftOrder *DraftOrderView `json:"draft_order,omitempty"`
}

// DraftOrderView is an order with its derived payment status
type DraftOrderView struct {
	*clients.Order
	PaymentStatus clients.PaymentStatus `json:"payment_status"`
}

// QuoteList is one page of quotes
type QuoteList struct {
	Quotes []*QuoteView `json:"quotes"`
	Count  int          `json:"count"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// ListQuotesInput filters and pages a quote listing
type ListQuotesInput struct {
	CustomerID string
	Status     string
	Limit      int
	Offset     int
	Order      string
}

func (s *QuoteService) view(q *models.Quote, order *clients.Order) *QuoteView {
	c := q.Clone()
	c.Status = q.EffectiveStatus(s.now())

	v := &QuoteView{Quote: c}
	if order != nil {
		v.DraftOrder = &DraftOrderView{
			Order:         order,
			PaymentStatus: clients.DerivePaymentStatus(order.PaymentCollections),
		}
	}
	return v
}

// GetQuote returns a quote with its draft order and payment status
func (s *QuoteService) GetQuote(ctx context.Context, id string) (*QuoteView, error) {
	q, err := s.quotes.GetByID(ctx, id)
	if err != nil {
		return nil, quoteError("read quote", id, err)
	}

	order, err := s.commerce.GetOrder(ctx, q.DraftOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft order %s: %w", q.DraftOrderID, err)
	}

	return s.view(q, order), nil
}

// GetCustomerQuote returns a quote only when customerID owns it
func (s *QuoteService) GetCustomerQuote(ctx context.Context, customerID, id string) (*QuoteView, error) {
	v, err := s.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.CustomerID != customerID {
		return nil, quoteError("read quote", id, repository.ErrNotFound)
	}
	return v, nil
}

func (s *QuoteService) filter(in ListQuotesInput) (repository.QuoteFilter, error) {
	f := repository.QuoteFilter{
		CustomerID: in.CustomerID,
		Limit:      in.Limit,
		Offset:     in.Offset,
		Order:      in.Order,
	}

	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		return f, apperrors.NewInvalidInputError("offset must not be negative")
	}
	if !repository.ValidOrder(f.Order) {
		return f, apperrors.NewInvalidInputError(fmt.Sprintf("unsupported order %q", f.Order))
	}
	if in.Status != "" {
		status, err := models.ParseQuoteStatus(in.Status)
		if err != nil {
			return f, apperrors.NewInvalidInputError(err.Error())
		}
		f.Status = status
	}

	return f, nil
}

// ListQuotes returns a page of quotes and the total matching count
func (s *QuoteService) ListQuotes(ctx context.Context, in ListQuotesInput) (*QuoteList, error) {
	f, err := s.filter(in)
	if err != nil {
		return nil, err
	}

	quotes, err := s.quotes.List(ctx, f)
	if err != nil {
		return nil, err
	}
	count, err := s.quotes.Count(ctx, f)
	if err != nil {
		return nil, err
	}

	list := &QuoteList{Quotes: make([]*QuoteView, 0, len(quotes)), Count: count, Limit: f.Limit, Offset: f.Offset}
	for _, q := range quotes {
		list.Quotes = append(list.Quotes, s.view(q, nil))
	}
	return list, nil
}

// ListCustomerQuotes returns a customer's quotes, each with its order
// preview and payment status
func (s *QuoteService) ListCustomerQuotes(ctx context.Context, customerID string, in ListQuotesInput) (*QuoteList, error) {
	in.CustomerID = customerID
	f, err := s.filter(in)
	if err != nil {
		return nil, err
	}

	quotes, err := s.quotes.List(ctx, f)
	if err != nil {
		return nil, err
	}
	count, err := s.quotes.Count(ctx, f)
	if err != nil {
		return nil, err
	}

	previews := make([]*clients.Order, len(quotes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(previewConcurrency)
	for i, q := range quotes {
		i, q := i, q
		g.Go(func() error {
			order, err := s.commerce.PreviewOrderChange(gctx, q.DraftOrderID)
			if err != nil {
				return fmt.Errorf("failed to preview order %s: %w", q.DraftOrderID, err)
			}
			previews[i] = order
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	list := &QuoteList{Quotes: make([]*QuoteView, 0, len(quotes)), Count: count, Limit: f.Limit, Offset: f.Offset}
	for i, q := range quotes {
		list.Quotes = append(list.Quotes, s.view(q, previews[i]))
	}
	return list, nil
}

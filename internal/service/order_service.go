package service

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/repository"
	"github.com/vaidashi/quote-service/internal/workflow"
	apperrors "github.com/vaidashi/quote-service/pkg/errors"
	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/metrics"
)

// OrderService handles storefront operations on a quote's draft order
type OrderService struct {
	quotes   QuoteStore
	commerce Commerce
	validate *validator.Validate
	metrics  *metrics.WorkflowMetrics
	logger   logger.Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(quotes QuoteStore, commerce Commerce, m *metrics.WorkflowMetrics, logger logger.Logger) *OrderService {
	return &OrderService{
		quotes:   quotes,
		commerce: commerce,
		validate: validator.New(),
		metrics:  m,
		logger:   logger,
	}
}

// UpdateDraftOrderInput patches a draft order. Address fields left empty
// keep their current value; metadata keys are merged.
type UpdateDraftOrderInput struct {
	OrderID         string
	CustomerID      string
	Email           *string
	ShippingAddress *clients.Address
	BillingAddress  *clients.Address
	Metadata        map[string]interface{}
}

// quoteOrder loads the quote behind a draft order, checking ownership when
// customerID is set
func (s *OrderService) quoteOrder(ctx context.Context, orderID, customerID string) (*models.Quote, error) {
	q, err := s.quotes.GetByDraftOrderID(ctx, orderID)
	if err != nil {
		return nil, orderQuoteError(orderID, err)
	}
	if customerID != "" && q.CustomerID != customerID {
		return nil, orderQuoteError(orderID, repository.ErrNotFound)
	}
	return q, nil
}

// UpdateDraftOrder applies address, email and metadata changes to a draft
// order, records them as order changes, mirrors the addresses onto the cart
// and returns the order preview
func (s *OrderService) UpdateDraftOrder(ctx context.Context, in UpdateDraftOrderInput) (*clients.Order, error) {
	q, err := s.quoteOrder(ctx, in.OrderID, in.CustomerID)
	if err != nil {
		return nil, err
	}

	current, err := s.commerce.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	if err := s.validateDraftPatch(current, in); err != nil {
		return nil, err
	}

	update := clients.UpdateOrderInput{Email: in.Email}
	if in.ShippingAddress != nil {
		update.ShippingAddress = mergeAddress(current.ShippingAddress, in.ShippingAddress)
	}
	if in.BillingAddress != nil {
		update.BillingAddress = mergeAddress(current.BillingAddress, in.BillingAddress)
	}
	if len(in.Metadata) > 0 {
		update.Metadata = mergeMetadata(current.Metadata, in.Metadata)
	}

	if update.Email == nil && update.ShippingAddress == nil && update.BillingAddress == nil && update.Metadata == nil {
		return s.commerce.PreviewOrderChange(ctx, in.OrderID)
	}

	var updated, preview *clients.Order
	saga := workflow.New("update-draft-order", s.logger, s.metrics).
		Step("update-order", func(ctx context.Context) error {
			o, err := s.commerce.UpdateOrder(ctx, in.OrderID, update)
			if err != nil {
				return err
			}
			updated = o
			return nil
		}, func(ctx context.Context) error {
			restore := clients.UpdateOrderInput{
				ShippingAddress: current.ShippingAddress,
				BillingAddress:  current.BillingAddress,
				Metadata:        current.Metadata,
			}
			if in.Email != nil {
				restore.Email = &current.Email
			}
			_, err := s.commerce.UpdateOrder(ctx, in.OrderID, restore)
			return err
		}).
		Step("sync-cart-addresses", func(ctx context.Context) error {
			if update.ShippingAddress == nil && update.BillingAddress == nil {
				return nil
			}
			return s.commerce.UpdateCartAddresses(ctx, q.CartID, update.ShippingAddress, update.BillingAddress)
		}, func(ctx context.Context) error {
			var shipping, billing *clients.Address
			if update.ShippingAddress != nil {
				shipping = current.ShippingAddress
			}
			if update.BillingAddress != nil {
				billing = current.BillingAddress
			}
			if shipping == nil && billing == nil {
				return nil
			}
			return s.commerce.UpdateCartAddresses(ctx, q.CartID, shipping, billing)
		}).
		Step("preview-order", func(ctx context.Context) error {
			o, err := s.commerce.PreviewOrderChange(ctx, in.OrderID)
			if err != nil {
				return err
			}
			preview = o
			return nil
		}, nil).
		// History records cannot be withdrawn, so they are written once every
		// other step has succeeded
		Step("register-order-changes", func(ctx context.Context) error {
			records := changeRecords(in.OrderID, current, updated, update)
			if len(records) == 0 {
				return nil
			}
			return s.commerce.RegisterOrderChanges(ctx, records)
		}, nil)

	if err := saga.Run(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Draft order updated", "order_id", in.OrderID, "quote_id", q.ID)
	return preview, nil
}

func (s *OrderService) validateDraftPatch(current *clients.Order, in UpdateDraftOrderInput) error {
	if countryChanged(current.ShippingAddress, in.ShippingAddress) || countryChanged(current.BillingAddress, in.BillingAddress) {
		return apperrors.NewBusinessError("Country code cannot be changed")
	}
	if in.Email != nil {
		if err := s.validate.Var(*in.Email, "required,email"); err != nil {
			return apperrors.NewInvalidInputError(fmt.Sprintf("Email %q is not valid", *in.Email))
		}
	}
	return nil
}

func countryChanged(current, patch *clients.Address) bool {
	if patch == nil || patch.CountryCode == "" {
		return false
	}
	if current == nil || current.CountryCode == "" {
		return false
	}
	return current.CountryCode != patch.CountryCode
}

// mergeAddress overlays the non-empty fields of patch onto current
func mergeAddress(current, patch *clients.Address) *clients.Address {
	merged := clients.Address{}
	if current != nil {
		merged = *current
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&merged.FirstName, patch.FirstName)
	set(&merged.LastName, patch.LastName)
	set(&merged.Company, patch.Company)
	set(&merged.Address1, patch.Address1)
	set(&merged.Address2, patch.Address2)
	set(&merged.City, patch.City)
	set(&merged.CountryCode, patch.CountryCode)
	set(&merged.Province, patch.Province)
	set(&merged.PostalCode, patch.PostalCode)
	set(&merged.Phone, patch.Phone)
	if len(patch.Metadata) > 0 {
		merged.Metadata = mergeMetadata(merged.Metadata, patch.Metadata)
	}

	return &merged
}

func mergeMetadata(current, patch map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// changeRecords lists the old and new value of every field the update touched
func changeRecords(orderID string, before, after *clients.Order, update clients.UpdateOrderInput) []clients.OrderChangeRecord {
	var records []clients.OrderChangeRecord
	add := func(reference string, old, next interface{}) {
		if reflect.DeepEqual(old, next) {
			return
		}
		records = append(records, clients.OrderChangeRecord{
			OrderID:     orderID,
			ChangeType:  clients.ChangeTypeUpdateOrder,
			Reference:   reference,
			ReferenceID: orderID,
			Old:         old,
			New:         next,
		})
	}

	if update.ShippingAddress != nil {
		add(clients.ReferenceShippingAddr, before.ShippingAddress, after.ShippingAddress)
	}
	if update.BillingAddress != nil {
		add(clients.ReferenceBillingAddr, before.BillingAddress, after.BillingAddress)
	}
	if update.Email != nil {
		add(clients.ReferenceEmail, before.Email, *update.Email)
	}
	if update.Metadata != nil {
		add(clients.ReferenceOrderMetadata, before.Metadata, after.Metadata)
	}
	return records
}

// EnsurePaymentCollection makes sure the draft order has a payment
// collection linked to it and to the cart, creating one for the order total
// when none exists. It returns the collection id.
func (s *OrderService) EnsurePaymentCollection(ctx context.Context, orderID, cartID, customerID string) (string, error) {
	q, err := s.quoteOrder(ctx, orderID, customerID)
	if err != nil {
		return "", err
	}
	if cartID == "" {
		cartID = q.CartID
	}

	order, err := s.commerce.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}

	if len(order.PaymentCollections) > 0 {
		id := order.PaymentCollections[0].ID
		if err := s.commerce.LinkCartPaymentCollection(ctx, cartID, id); err != nil {
			return "", err
		}
		return id, nil
	}

	pc, err := s.commerce.CreatePaymentCollection(ctx, clients.CreatePaymentCollectionInput{
		CurrencyCode: order.CurrencyCode,
		Amount:       order.Total,
		RegionID:     order.RegionID,
	})
	if err != nil {
		return "", err
	}
	if err := s.commerce.LinkOrderPaymentCollection(ctx, orderID, pc.ID); err != nil {
		return "", err
	}
	if err := s.commerce.LinkCartPaymentCollection(ctx, cartID, pc.ID); err != nil {
		return "", err
	}

	s.logger.Info("Payment collection created", "order_id", orderID, "payment_collection_id", pc.ID, "amount", order.Total.String())
	return pc.ID, nil
}

// AuthorizePayment authorizes one of the order's payment sessions and
// returns the refreshed order
func (s *OrderService) AuthorizePayment(ctx context.Context, orderID, sessionID, customerID string) (*clients.Order, error) {
	if sessionID == "" {
		return nil, apperrors.NewInvalidInputError("payment_session_id is required")
	}
	if _, err := s.quoteOrder(ctx, orderID, customerID); err != nil {
		return nil, err
	}

	order, err := s.commerce.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !hasPaymentSession(order, sessionID) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("Payment session %s does not belong to order %s", sessionID, orderID))
	}

	payment, err := s.commerce.AuthorizePaymentSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Payment authorized", "order_id", orderID, "payment_id", payment.ID)

	return s.commerce.GetOrder(ctx, orderID)
}

func hasPaymentSession(order *clients.Order, sessionID string) bool {
	for _, pc := range order.PaymentCollections {
		for _, ps := range pc.PaymentSessions {
			if ps.ID == sessionID {
				return true
			}
		}
	}
	return false
}

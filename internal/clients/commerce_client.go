package clients

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/quote-service/pkg/circuitbreaker"
	"github.com/vaidashi/quote-service/pkg/errors"
	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/metrics"
	"github.com/vaidashi/quote-service/pkg/retry"
)

// CommerceClient talks to the commerce platform's HTTP API. Calls are
// retried on transient failures and guarded by a circuit breaker.
type CommerceClient struct {
	baseURL     string
	apiToken    string
	httpClient  *http.Client
	logger      logger.Logger
	retryConfig *retry.RetryConfig
	breaker     *circuitbreaker.CircuitBreaker
	metrics     *metrics.WorkflowMetrics
}

// CommerceClientConfig configures a CommerceClient
type CommerceClientConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	Retry    *retry.RetryConfig
	Breaker  *circuitbreaker.CircuitBreaker
	Metrics  *metrics.WorkflowMetrics
}

// errorBody is the platform's error envelope
type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewCommerceClient creates a new CommerceClient
func NewCommerceClient(cfg CommerceClientConfig, logger logger.Logger) *CommerceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retryConfig := cfg.Retry
	if retryConfig == nil {
		retryConfig = &retry.RetryConfig{
			MaxAttempts: 3,
			BackoffStrategy: &retry.ExponentialBackoff{
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     2 * time.Second,
				Multiplier:      2,
				JitterFactor:    0.2,
			},
			Logger:   logger,
			Classify: errors.IsRetryable,
		}
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			Name:             "commerce",
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 2,
		})
	}

	return &CommerceClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:    cfg.APIToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		retryConfig: retryConfig,
		breaker:     breaker,
		metrics:     cfg.Metrics,
	}
}

// Breaker exposes the client's circuit breaker for the ops endpoints
func (c *CommerceClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// call performs one logical platform operation. The response field named key
// is decoded into out when both are set.
func (c *CommerceClient) call(ctx context.Context, op, method, path string, body interface{}, key string, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return errors.NewInternalError(fmt.Sprintf("failed to marshal %s request: %v", op, err))
		}
	}

	// One key for every attempt so the platform can drop replays of a write
	idempotencyKey := uuid.NewString()

	attempt := func() error {
		err := c.breaker.Execute(func() error {
			return c.roundTrip(ctx, op, method, path, payload, idempotencyKey, key, out)
		}, errors.IsRetryable)

		if stderrors.Is(err, circuitbreaker.ErrOpen) {
			return errors.NewAppError(errors.ErrServiceUnavailable, "commerce service unavailable", http.StatusServiceUnavailable, false).
				WithContext("operation", op)
		}
		return err
	}

	err := retry.Retry(ctx, attempt, c.retryConfig)
	if err != nil {
		c.metrics.HostCall(op, "error")
		c.logger.Error("Commerce call failed", "operation", op, "method", method, "path", path, "error", err)
		return unwrapRetry(err)
	}

	c.metrics.HostCall(op, "ok")
	return nil
}

// unwrapRetry surfaces the last attempt's AppError so callers see its status
func unwrapRetry(err error) error {
	if appErr, ok := errors.As(err); ok {
		return appErr
	}
	return err
}

func (c *CommerceClient) roundTrip(ctx context.Context, op, method, path string, payload []byte, idempotencyKey, key string, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return errors.NewTimeoutError(fmt.Sprintf("%s timed out", op))
		}
		return errors.NewTemporaryError(fmt.Sprintf("%s failed: %v", op, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewTemporaryError(fmt.Sprintf("failed to read %s response: %v", op, err))
	}

	if resp.StatusCode >= 400 {
		return statusError(op, resp.StatusCode, raw)
	}

	if key == "" || out == nil {
		return nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to parse %s response: %v", op, err))
	}

	field, ok := envelope[key]
	if !ok {
		return errors.NewInternalError(fmt.Sprintf("%s response has no %q field", op, key))
	}

	if err := json.Unmarshal(field, out); err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to parse %s response: %v", op, err))
	}

	return nil
}

func statusError(op string, status int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	message := body.Message
	if message == "" {
		message = fmt.Sprintf("%s returned %d", op, status)
	}

	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errors.NewTimeoutError(fmt.Sprintf("%s timed out", op))
	case status == http.StatusTooManyRequests:
		return errors.NewRateLimitedError(message)
	case status >= 500:
		return errors.NewTemporaryError(fmt.Sprintf("commerce service error on %s: %d", op, status))
	case status == http.StatusNotFound:
		return errors.NewNotFoundError(message)
	case status == http.StatusConflict:
		return errors.NewConflictError(message)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return errors.NewBusinessError(message)
	default:
		return errors.NewAppError(errors.ErrInternal, message, status, false)
	}
}

func esc(s string) string {
	return url.PathEscape(s)
}

// Customers

// GetCustomer retrieves a customer by id
func (c *CommerceClient) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var customer Customer
	if err := c.call(ctx, "get_customer", http.MethodGet, "/admin/customers/"+esc(id), nil, "customer", &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindCustomerByEmail returns the customer registered with email, or nil when there is none
func (c *CommerceClient) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var customers []Customer
	path := "/admin/customers?limit=1&email=" + url.QueryEscape(email)
	if err := c.call(ctx, "find_customer", http.MethodGet, path, nil, "customers", &customers); err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, nil
	}
	return &customers[0], nil
}

// CreateCustomer creates a customer
func (c *CommerceClient) CreateCustomer(ctx context.Context, in CreateCustomerInput) (*Customer, error) {
	var customer Customer
	if err := c.call(ctx, "create_customer", http.MethodPost, "/admin/customers", in, "customer", &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// DeleteCustomer deletes a customer
func (c *CommerceClient) DeleteCustomer(ctx context.Context, id string) error {
	return c.call(ctx, "delete_customer", http.MethodDelete, "/admin/customers/"+esc(id), nil, "", nil)
}

// Carts

// CreateCart creates a cart
func (c *CommerceClient) CreateCart(ctx context.Context, in CreateCartInput) (*Cart, error) {
	var cart Cart
	if err := c.call(ctx, "create_cart", http.MethodPost, "/store/carts", in, "cart", &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCart loads the full cart graph
func (c *CommerceClient) GetCart(ctx context.Context, id string) (*Cart, error) {
	var cart Cart
	if err := c.call(ctx, "get_cart", http.MethodGet, "/store/carts/"+esc(id), nil, "cart", &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// DeleteCart deletes a cart
func (c *CommerceClient) DeleteCart(ctx context.Context, id string) error {
	return c.call(ctx, "delete_cart", http.MethodDelete, "/admin/carts/"+esc(id), nil, "", nil)
}

// UpdateCartLineItem sets quantity and unit price of a cart line item
func (c *CommerceClient) UpdateCartLineItem(ctx context.Context, cartID, itemID string, in UpdateLineItemInput) error {
	path := "/store/carts/" + esc(cartID) + "/line-items/" + esc(itemID)
	return c.call(ctx, "update_cart_line_item", http.MethodPost, path, in, "", nil)
}

// UpdateCartAddresses replaces the cart's addresses; nil leaves one unchanged
func (c *CommerceClient) UpdateCartAddresses(ctx context.Context, cartID string, shipping, billing *Address) error {
	body := map[string]*Address{}
	if shipping != nil {
		body["shipping_address"] = shipping
	}
	if billing != nil {
		body["billing_address"] = billing
	}
	return c.call(ctx, "update_cart", http.MethodPost, "/store/carts/"+esc(cartID), body, "", nil)
}

// AddCartShippingMethod selects a shipping option on a cart
func (c *CommerceClient) AddCartShippingMethod(ctx context.Context, cartID, optionID string) error {
	body := map[string]string{"option_id": optionID}
	return c.call(ctx, "add_cart_shipping_method", http.MethodPost, "/store/carts/"+esc(cartID)+"/shipping-methods", body, "", nil)
}

// Orders

// CreateOrder creates an order, a draft one when in.IsDraftOrder is set
func (c *CommerceClient) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	var order Order
	if err := c.call(ctx, "create_order", http.MethodPost, "/admin/draft-orders", in, "draft_order", &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder loads an order with items, shipping methods and payment collections
func (c *CommerceClient) GetOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := c.call(ctx, "get_order", http.MethodGet, "/admin/orders/"+esc(id), nil, "order", &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder patches an order
func (c *CommerceClient) UpdateOrder(ctx context.Context, id string, in UpdateOrderInput) (*Order, error) {
	var order Order
	if err := c.call(ctx, "update_order", http.MethodPost, "/admin/orders/"+esc(id), in, "order", &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels an order
func (c *CommerceClient) CancelOrder(ctx context.Context, id string) error {
	return c.call(ctx, "cancel_order", http.MethodPost, "/admin/orders/"+esc(id)+"/cancel", nil, "", nil)
}

// Order edits

// BeginOrderEdit opens an order edit and returns its change
func (c *CommerceClient) BeginOrderEdit(ctx context.Context, orderID string) (*OrderChange, error) {
	var change OrderChange
	body := map[string]string{"order_id": orderID, "description": "", "internal_note": ""}
	if err := c.call(ctx, "begin_order_edit", http.MethodPost, "/admin/order-edits", body, "order_change", &change); err != nil {
		return nil, err
	}
	return &change, nil
}

// CancelOrderEdit discards the open order edit
func (c *CommerceClient) CancelOrderEdit(ctx context.Context, orderID string) error {
	return c.call(ctx, "cancel_order_edit", http.MethodDelete, "/admin/order-edits/"+esc(orderID), nil, "", nil)
}

// ConfirmOrderEdit applies the open order edit's actions to the order
func (c *CommerceClient) ConfirmOrderEdit(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	if err := c.call(ctx, "confirm_order_edit", http.MethodPost, "/admin/order-edits/"+esc(orderID)+"/confirm", nil, "order_preview", &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetActiveOrderChange returns the open change of an order
func (c *CommerceClient) GetActiveOrderChange(ctx context.Context, orderID string) (*OrderChange, error) {
	var change OrderChange
	if err := c.call(ctx, "get_order_change", http.MethodGet, "/admin/order-edits/"+esc(orderID), nil, "order_change", &change); err != nil {
		return nil, err
	}
	return &change, nil
}

// UpdateOrderEditItem changes an item in the open edit and returns the preview
func (c *CommerceClient) UpdateOrderEditItem(ctx context.Context, orderID, itemID string, in UpdateOrderEditItemInput) (*Order, error) {
	var preview Order
	path := "/admin/order-edits/" + esc(orderID) + "/items/item/" + esc(itemID)
	if err := c.call(ctx, "update_order_edit_item", http.MethodPost, path, in, "order_preview", &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// PreviewOrderChange returns the order with its pending changes applied
func (c *CommerceClient) PreviewOrderChange(ctx context.Context, orderID string) (*Order, error) {
	var preview Order
	if err := c.call(ctx, "preview_order", http.MethodGet, "/admin/orders/"+esc(orderID)+"/preview", nil, "order", &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// RegisterOrderChanges records applied changes in the order's history
func (c *CommerceClient) RegisterOrderChanges(ctx context.Context, records []OrderChangeRecord) error {
	body := map[string]interface{}{"changes": records}
	return c.call(ctx, "register_order_changes", http.MethodPost, "/admin/order-changes/records", body, "", nil)
}

// CreateOrderChangeActions registers actions inside an order change and
// returns them with their ids
func (c *CommerceClient) CreateOrderChangeActions(ctx context.Context, actions []OrderChangeAction) ([]OrderChangeAction, error) {
	var created []OrderChangeAction
	body := map[string]interface{}{"actions": actions}
	if err := c.call(ctx, "create_order_change_actions", http.MethodPost, "/admin/order-changes/actions", body, "actions", &created); err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteOrderChangeAction removes a pending action from its order change
func (c *CommerceClient) DeleteOrderChangeAction(ctx context.Context, actionID string) error {
	return c.call(ctx, "delete_order_change_action", http.MethodDelete, "/admin/order-changes/actions/"+esc(actionID), nil, "", nil)
}

// Shipping and pricing

// GetShippingOption retrieves a shipping option with its price set
func (c *CommerceClient) GetShippingOption(ctx context.Context, id string) (*ShippingOption, error) {
	var option ShippingOption
	if err := c.call(ctx, "get_shipping_option", http.MethodGet, "/admin/shipping-options/"+esc(id), nil, "shipping_option", &option); err != nil {
		return nil, err
	}
	return &option, nil
}

// CreateOrderShippingMethods creates shipping methods on an order
func (c *CommerceClient) CreateOrderShippingMethods(ctx context.Context, orderID string, in []CreateShippingMethodInput) ([]ShippingMethod, error) {
	var methods []ShippingMethod
	body := map[string]interface{}{"shipping_methods": in}
	if err := c.call(ctx, "create_shipping_methods", http.MethodPost, "/admin/orders/"+esc(orderID)+"/shipping-methods", body, "shipping_methods", &methods); err != nil {
		return nil, err
	}
	return methods, nil
}

// DeleteOrderShippingMethods removes the order links and the shipping method records
func (c *CommerceClient) DeleteOrderShippingMethods(ctx context.Context, orderID string, ids []string) error {
	body := map[string]interface{}{"ids": ids}
	return c.call(ctx, "delete_shipping_methods", http.MethodPost, "/admin/orders/"+esc(orderID)+"/shipping-methods/batch-delete", body, "", nil)
}

// UpdateOrderTaxLines recomputes tax lines for the given shipping methods
func (c *CommerceClient) UpdateOrderTaxLines(ctx context.Context, orderID string, shippingMethodIDs []string) error {
	body := map[string]interface{}{"shipping_method_ids": shippingMethodIDs}
	return c.call(ctx, "update_tax_lines", http.MethodPost, "/admin/orders/"+esc(orderID)+"/tax-lines", body, "", nil)
}

// CalculatePrice prices a price set in a region and currency
func (c *CommerceClient) CalculatePrice(ctx context.Context, priceSetID string, pc PriceContext) (*CalculatedPrice, error) {
	var price CalculatedPrice
	if err := c.call(ctx, "calculate_price", http.MethodPost, "/admin/price-sets/"+esc(priceSetID)+"/calculate", pc, "calculated_price", &price); err != nil {
		return nil, err
	}
	return &price, nil
}

// Payments

// CreatePaymentCollection creates a payment collection
func (c *CommerceClient) CreatePaymentCollection(ctx context.Context, in CreatePaymentCollectionInput) (*PaymentCollection, error) {
	var collection PaymentCollection
	if err := c.call(ctx, "create_payment_collection", http.MethodPost, "/admin/payment-collections", in, "payment_collection", &collection); err != nil {
		return nil, err
	}
	return &collection, nil
}

// UpdatePaymentCollectionAmount sets the amount to collect
func (c *CommerceClient) UpdatePaymentCollectionAmount(ctx context.Context, id string, amount decimal.Decimal) error {
	body := map[string]decimal.Decimal{"amount": amount}
	return c.call(ctx, "update_payment_collection", http.MethodPost, "/admin/payment-collections/"+esc(id), body, "", nil)
}

// LinkOrderPaymentCollection links a payment collection to an order
func (c *CommerceClient) LinkOrderPaymentCollection(ctx context.Context, orderID, collectionID string) error {
	body := map[string]string{"payment_collection_id": collectionID}
	return c.call(ctx, "link_order_payment_collection", http.MethodPost, "/admin/orders/"+esc(orderID)+"/payment-collections", body, "", nil)
}

// LinkCartPaymentCollection links a payment collection to a cart
func (c *CommerceClient) LinkCartPaymentCollection(ctx context.Context, cartID, collectionID string) error {
	body := map[string]string{"payment_collection_id": collectionID}
	return c.call(ctx, "link_cart_payment_collection", http.MethodPost, "/admin/carts/"+esc(cartID)+"/payment-collections", body, "", nil)
}

// AuthorizePaymentSession authorizes a payment session
func (c *CommerceClient) AuthorizePaymentSession(ctx context.Context, sessionID string) (*Payment, error) {
	var payment Payment
	if err := c.call(ctx, "authorize_payment_session", http.MethodPost, "/admin/payment-sessions/"+esc(sessionID)+"/authorize", nil, "payment", &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

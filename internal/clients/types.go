package clients

import (
	"github.com/shopspring/decimal"
)

// Order statuses on the commerce platform
const (
	OrderStatusDraft   = "draft"
	OrderStatusPending = "pending"
)

// Order change vocabulary
const (
	ChangeTypeUpdateOrder  = "update_order"
	ActionShippingAdd      = "SHIPPING_ADD"
	ReferenceShipping      = "order_shipping_method"
	ReferenceShippingAddr  = "shipping_address"
	ReferenceBillingAddr   = "billing_address"
	ReferenceOrderMetadata = "metadata"
	ReferenceEmail         = "email"
)

// Address is a postal address as the platform stores it
type Address struct {
	FirstName   string                 `json:"first_name,omitempty"`
	LastName    string                 `json:"last_name,omitempty"`
	Company     string                 `json:"company,omitempty"`
	Address1    string                 `json:"address_1,omitempty"`
	Address2    string                 `json:"address_2,omitempty"`
	City        string                 `json:"city,omitempty"`
	CountryCode string                 `json:"country_code,omitempty"`
	Province    string                 `json:"province,omitempty"`
	PostalCode  string                 `json:"postal_code,omitempty"`
	Phone       string                 `json:"phone,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Customer is a platform customer
type Customer struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// CreateCustomerInput creates a customer
type CreateCustomerInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// LineItemInput adds a variant to a cart
type LineItemInput struct {
	VariantID string           `json:"variant_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// CreateCartInput creates a cart
type CreateCartInput struct {
	RegionID        string          `json:"region_id"`
	CustomerID      string          `json:"customer_id,omitempty"`
	Email           string          `json:"email,omitempty"`
	SalesChannelID  string          `json:"sales_channel_id,omitempty"`
	Items           []LineItemInput `json:"items,omitempty"`
	ShippingAddress *Address        `json:"shipping_address,omitempty"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
}

// LineItem is a cart line item
type LineItem struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	VariantID string          `json:"variant_id"`
	ProductID string          `json:"product_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// UpdateLineItemInput changes a cart line item
type UpdateLineItemInput struct {
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// ShippingMethod is a shipping method attached to a cart or order
type ShippingMethod struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ShippingOptionID string                 `json:"shipping_option_id"`
	Amount           decimal.Decimal        `json:"amount"`
	IsTaxInclusive   bool                   `json:"is_tax_inclusive"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

// Cart is the full cart graph
type Cart struct {
	ID              string           `json:"id"`
	RegionID        string           `json:"region_id"`
	CustomerID      string           `json:"customer_id"`
	Email           string           `json:"email"`
	CurrencyCode    string           `json:"currency_code"`
	SalesChannelID  string           `json:"sales_channel_id,omitempty"`
	Items           []LineItem       `json:"items"`
	ShippingAddress *Address         `json:"shipping_address,omitempty"`
	BillingAddress  *Address         `json:"billing_address,omitempty"`
	ShippingMethods []ShippingMethod `json:"shipping_methods,omitempty"`
	PromoCodes      []string         `json:"promo_codes,omitempty"`
}

// OrderItem is an order line item
type OrderItem struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	VariantID         string          `json:"variant_id"`
	ProductID         string          `json:"product_id,omitempty"`
	Quantity          int             `json:"quantity"`
	FulfilledQuantity int             `json:"fulfilled_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
}

// PaymentSession is a provider session inside a payment collection
type PaymentSession struct {
	ID         string          `json:"id"`
	ProviderID string          `json:"provider_id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
}

// PaymentCollection groups the payments collected for an order
type PaymentCollection struct {
	ID               string           `json:"id"`
	Status           string           `json:"status"`
	CurrencyCode     string           `json:"currency_code"`
	Amount           decimal.Decimal  `json:"amount"`
	AuthorizedAmount decimal.Decimal  `json:"authorized_amount"`
	CapturedAmount   decimal.Decimal  `json:"captured_amount"`
	RefundedAmount   decimal.Decimal  `json:"refunded_amount"`
	PaymentSessions  []PaymentSession `json:"payment_sessions,omitempty"`
}

// Order is an order, or a preview of one with its pending changes applied
type Order struct {
	ID                 string                 `json:"id"`
	Status             string                 `json:"status"`
	IsDraftOrder       bool                   `json:"is_draft_order"`
	Version            int                    `json:"version"`
	RegionID           string                 `json:"region_id"`
	CustomerID         string                 `json:"customer_id"`
	Email              string                 `json:"email"`
	CurrencyCode       string                 `json:"currency_code"`
	SalesChannelID     string                 `json:"sales_channel_id,omitempty"`
	Items              []OrderItem            `json:"items"`
	ShippingMethods    []ShippingMethod       `json:"shipping_methods"`
	PaymentCollections []PaymentCollection    `json:"payment_collections"`
	ShippingAddress    *Address               `json:"shipping_address,omitempty"`
	BillingAddress     *Address               `json:"billing_address,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	Subtotal           decimal.Decimal        `json:"subtotal"`
	ShippingTotal      decimal.Decimal        `json:"shipping_total"`
	TaxTotal           decimal.Decimal        `json:"tax_total"`
	Total              decimal.Decimal        `json:"total"`
	PaidTotal          decimal.Decimal        `json:"paid_total"`
}

// Item returns the order item with the given id
func (o *Order) Item(id string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}

// ItemForVariant returns the order item for a variant
func (o *Order) ItemForVariant(variantID string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.VariantID == variantID {
			return item, true
		}
	}
	return OrderItem{}, false
}

// HasShippingOption reports whether a method for optionID is attached
func (o *Order) HasShippingOption(optionID string) bool {
	for _, m := range o.ShippingMethods {
		if m.ShippingOptionID == optionID {
			return true
		}
	}
	return false
}

// OrderItemInput is a line of a new order
type OrderItemInput struct {
	VariantID string          `json:"variant_id"`
	Title     string          `json:"title,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ShippingMethodInput is a shipping method copied into a new order
type ShippingMethodInput struct {
	ShippingOptionID string                 `json:"shipping_option_id"`
	Name             string                 `json:"name"`
	Amount           decimal.Decimal        `json:"amount"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

// CreateOrderInput creates an order
type CreateOrderInput struct {
	Status          string                `json:"status"`
	IsDraftOrder    bool                  `json:"is_draft_order"`
	RegionID        string                `json:"region_id"`
	CustomerID      string                `json:"customer_id"`
	Email           string                `json:"email,omitempty"`
	CurrencyCode    string                `json:"currency_code"`
	SalesChannelID  string                `json:"sales_channel_id,omitempty"`
	Items           []OrderItemInput      `json:"items"`
	ShippingAddress *Address              `json:"shipping_address,omitempty"`
	BillingAddress  *Address              `json:"billing_address,omitempty"`
	ShippingMethods []ShippingMethodInput `json:"shipping_methods,omitempty"`
	PromoCodes      []string              `json:"promo_codes,omitempty"`
}

// UpdateOrderInput patches an order; nil fields are left unchanged
type UpdateOrderInput struct {
	Status          *string                `json:"status,omitempty"`
	IsDraftOrder    *bool                  `json:"is_draft_order,omitempty"`
	Email           *string                `json:"email,omitempty"`
	ShippingAddress *Address               `json:"shipping_address,omitempty"`
	BillingAddress  *Address               `json:"billing_address,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// OrderChange is an order edit session
type OrderChange struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	ChangeType string `json:"change_type"`
	Version    int    `json:"version"`
}

// UpdateOrderEditItemInput changes an item inside an open order edit
type UpdateOrderEditItemInput struct {
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// OrderChangeRecord is an already-applied change kept for the order's history
type OrderChangeRecord struct {
	OrderID     string      `json:"order_id"`
	ChangeType  string      `json:"change_type"`
	Reference   string      `json:"reference"`
	ReferenceID string      `json:"reference_id"`
	Old         interface{} `json:"old,omitempty"`
	New         interface{} `json:"new,omitempty"`
}

// OrderChangeAction is a pending modification inside an order change
type OrderChangeAction struct {
	ID            string          `json:"id,omitempty"`
	OrderChangeID string          `json:"order_change_id"`
	OrderID       string          `json:"order_id"`
	Version       int             `json:"version"`
	Action        string          `json:"action"`
	Reference     string          `json:"reference"`
	ReferenceID   string          `json:"reference_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// ShippingOption is a purchasable shipping option
type ShippingOption struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	PriceSetID        string                 `json:"price_set_id"`
	ShippingProfileID string                 `json:"shipping_profile_id,omitempty"`
	ProviderID        string                 `json:"provider_id,omitempty"`
	Data              map[string]interface{} `json:"data,omitempty"`
}

// CreateShippingMethodInput creates an order shipping method
type CreateShippingMethodInput struct {
	OrderID          string                 `json:"order_id"`
	ShippingOptionID string                 `json:"shipping_option_id"`
	Name             string                 `json:"name"`
	Amount           decimal.Decimal        `json:"amount"`
	IsTaxInclusive   bool                   `json:"is_tax_inclusive"`
	Version          int                    `json:"version"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

// PriceContext scopes a price calculation
type PriceContext struct {
	RegionID     string `json:"region_id"`
	CurrencyCode string `json:"currency_code"`
}

// CalculatedPrice is the result of pricing a price set
type CalculatedPrice struct {
	PriceSetID       string          `json:"price_set_id"`
	CurrencyCode     string          `json:"currency_code"`
	CalculatedAmount decimal.Decimal `json:"calculated_amount"`
	IsTaxInclusive   bool            `json:"is_calculated_price_tax_inclusive"`
}

// CreatePaymentCollectionInput creates a payment collection
type CreatePaymentCollectionInput struct {
	CurrencyCode string          `json:"currency_code"`
	Amount       decimal.Decimal `json:"amount"`
	RegionID     string          `json:"region_id,omitempty"`
}

// Payment is an authorized payment
type Payment struct {
	ID                  string          `json:"id"`
	PaymentCollectionID string          `json:"payment_collection_id"`
	Amount              decimal.Decimal `json:"amount"`
	CurrencyCode        string          `json:"currency_code"`
}

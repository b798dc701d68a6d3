package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/idempotency"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/repository"
	apperrors "github.com/vaidashi/quote-service/pkg/errors"
	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/retry"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeEvents is an in-memory outbox
type fakeEvents struct {
	mu       sync.Mutex
	messages []*models.OutboxMessage
	fail     error
}

func (f *fakeEvents) Create(_ context.Context, msg *models.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.EventType)
	}
	return out
}

func (f *fakeEvents) last(eventType string) *models.OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].EventType == eventType {
			return f.messages[i]
		}
	}
	return nil
}

// fakeQuotes mirrors the conditional semantics of the quotes table
type fakeQuotes struct {
	mu         sync.Mutex
	rows       map[string]*models.Quote
	events     *fakeEvents
	failCreate error
	claims     int
}

func newFakeQuotes(events *fakeEvents) *fakeQuotes {
	return &fakeQuotes{rows: make(map[string]*models.Quote), events: events}
}

func (f *fakeQuotes) put(q *models.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[q.ID] = q.Clone()
}

func (f *fakeQuotes) get(id string) *models.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.rows[id]
	if !ok || q.DeletedAt != nil {
		return nil
	}
	return q.Clone()
}

func (f *fakeQuotes) live() []*models.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Quote
	for _, q := range f.rows {
		if q.DeletedAt == nil {
			out = append(out, q.Clone())
		}
	}
	return out
}

func (f *fakeQuotes) emit(q *models.Quote, event repository.EventFactory) error {
	if event == nil {
		return nil
	}
	msg, err := event(q)
	if err != nil {
		return err
	}
	f.events.mu.Lock()
	f.events.messages = append(f.events.messages, msg)
	f.events.mu.Unlock()
	return nil
}

func (f *fakeQuotes) CreateWithEvent(_ context.Context, q *models.Quote, event repository.EventFactory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	f.rows[q.ID] = q.Clone()
	return f.emit(q, event)
}

func (f *fakeQuotes) GetByID(_ context.Context, id string) (*models.Quote, error) {
	if q := f.get(id); q != nil {
		return q, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeQuotes) GetByDraftOrderID(_ context.Context, orderID string) (*models.Quote, error) {
	for _, q := range f.live() {
		if q.DraftOrderID == orderID {
			return q, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeQuotes) List(_ context.Context, flt repository.QuoteFilter) ([]*models.Quote, error) {
	var out []*models.Quote
	for _, q := range f.live() {
		if flt.CustomerID != "" && q.CustomerID != flt.CustomerID {
			continue
		}
		if flt.Status != "" && q.EffectiveStatus(testNow) != flt.Status {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (f *fakeQuotes) Count(ctx context.Context, flt repository.QuoteFilter) (int, error) {
	list, err := f.List(ctx, flt)
	return len(list), err
}

func (f *fakeQuotes) Update(_ context.Context, q *models.Quote) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[q.ID]
	if !ok || row.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	prev := row.Clone()
	row.Status = q.Status
	row.ValidTill = q.ValidTill
	row.Notes = q.Notes
	return prev, nil
}

func (f *fakeQuotes) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.DeletedAt != nil {
		return repository.ErrNotFound
	}
	now := testNow
	row.DeletedAt = &now
	return nil
}

func (f *fakeQuotes) miss(id, customerID string) error {
	row, ok := f.rows[id]
	if !ok || row.DeletedAt != nil || (customerID != "" && row.CustomerID != customerID) {
		return repository.ErrNotFound
	}
	return &repository.StatusConflictError{QuoteID: id, Status: row.EffectiveStatus(testNow)}
}

func (f *fakeQuotes) ClaimPending(_ context.Context, id string) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	row, ok := f.rows[id]
	if !ok || row.DeletedAt != nil || row.Status != models.QuoteStatusPending {
		return nil, f.miss(id, "")
	}
	return row.Clone(), nil
}

func (f *fakeQuotes) Transition(_ context.Context, p repository.TransitionParams) (*models.Quote, error) {
	if !models.CanTransition(p.From, p.To) {
		return nil, fmt.Errorf("%w: %s -> %s", repository.ErrIllegalTransition, p.From, p.To)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[p.ID]
	if !ok || row.DeletedAt != nil || row.Status != p.From ||
		(p.RejectExpired && row.IsExpired(testNow)) ||
		(p.CustomerID != "" && row.CustomerID != p.CustomerID) {
		return nil, f.miss(p.ID, p.CustomerID)
	}
	row.Status = p.To
	if err := f.emit(row, p.Event); err != nil {
		return nil, err
	}
	return row.Clone(), nil
}

func (f *fakeQuotes) UpdateValidTill(_ context.Context, id string, validTill *time.Time, event repository.EventFactory) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.DeletedAt != nil || row.Status != models.QuoteStatusPending {
		return nil, f.miss(id, "")
	}
	row.ValidTill = validTill
	if err := f.emit(row, event); err != nil {
		return nil, err
	}
	return row.Clone(), nil
}

type fakeSummaries struct {
	mu     sync.Mutex
	totals map[string]models.SummaryTotals
}

func (f *fakeSummaries) Overwrite(_ context.Context, orderID string, totals models.SummaryTotals) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.totals == nil {
		f.totals = make(map[string]models.SummaryTotals)
	}
	f.totals[orderID] = totals
	return nil
}

type fakeIdem struct {
	mu   sync.Mutex
	keys map[string]string
}

func (f *fakeIdem) Begin(_ context.Context, scope, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := scope + "/" + key
	v, ok := f.keys[k]
	switch {
	case !ok:
		f.keys[k] = ""
		return "", nil
	case v == "":
		return "", idempotency.ErrInFlight
	default:
		return v, nil
	}
}

func (f *fakeIdem) Complete(_ context.Context, scope, key, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[scope+"/"+key] = id
	return nil
}

func (f *fakeIdem) Release(_ context.Context, scope, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, scope+"/"+key)
	return nil
}

// fakeCommerce is an in-memory commerce platform
type fakeCommerce struct {
	mu sync.Mutex
	n  int

	calls []string
	fail  map[string]error

	variantPrices map[string]decimal.Decimal
	options       map[string]*clients.ShippingOption
	prices        map[string]decimal.Decimal

	customers   map[string]*clients.Customer
	carts       map[string]*clients.Cart
	orders      map[string]*clients.Order
	changes     map[string]*clients.OrderChange
	collections map[string]*clients.PaymentCollection

	records []clients.OrderChangeRecord
	actions []clients.OrderChangeAction
}

func newFakeCommerce() *fakeCommerce {
	return &fakeCommerce{
		fail: make(map[string]error),
		variantPrices: map[string]decimal.Decimal{
			"variant_1": decimal.NewFromInt(600),
			"variant_2": decimal.NewFromInt(250),
		},
		options: map[string]*clients.ShippingOption{
			"so_express":  {ID: "so_express", Name: "Express", PriceSetID: "ps_express"},
			"so_standard": {ID: "so_standard", Name: "Standard", PriceSetID: "ps_standard"},
		},
		prices: map[string]decimal.Decimal{
			"ps_express":  decimal.NewFromInt(1000),
			"ps_standard": decimal.NewFromInt(300),
		},
		customers:   map[string]*clients.Customer{"cus_known": {ID: "cus_known", Email: "known@example.com"}},
		carts:       make(map[string]*clients.Cart),
		orders:      make(map[string]*clients.Order),
		changes:     make(map[string]*clients.OrderChange),
		collections: make(map[string]*clients.PaymentCollection),
	}
}

func (f *fakeCommerce) id(prefix string) string {
	f.n++
	return fmt.Sprintf("%s_%d", prefix, f.n)
}

// enter records a call and returns any failure injected for it
func (f *fakeCommerce) enter(op string) error {
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeCommerce) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeCommerce) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func notFound(kind, id string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("%s with id: %s was not found", kind, id))
}

func (f *fakeCommerce) snapshot(o *clients.Order) *clients.Order {
	c := *o
	c.Items = append([]clients.OrderItem(nil), o.Items...)
	c.ShippingMethods = append([]clients.ShippingMethod(nil), o.ShippingMethods...)
	c.PaymentCollections = nil
	for _, pc := range o.PaymentCollections {
		if live, ok := f.collections[pc.ID]; ok {
			c.PaymentCollections = append(c.PaymentCollections, *live)
		}
	}

	c.Subtotal = decimal.Zero
	for _, item := range c.Items {
		c.Subtotal = c.Subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	c.ShippingTotal = decimal.Zero
	for _, m := range c.ShippingMethods {
		c.ShippingTotal = c.ShippingTotal.Add(m.Amount)
	}
	c.Total = c.Subtotal.Add(c.ShippingTotal)
	return &c
}

func (f *fakeCommerce) order(id string) *clients.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[id]; ok {
		return f.snapshot(o)
	}
	return nil
}

func (f *fakeCommerce) cart(id string) *clients.Cart {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.carts[id]; ok {
		cp := *c
		cp.Items = append([]clients.LineItem(nil), c.Items...)
		return &cp
	}
	return nil
}

func (f *fakeCommerce) GetCustomer(_ context.Context, id string) (*clients.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetCustomer"); err != nil {
		return nil, err
	}
	c, ok := f.customers[id]
	if !ok {
		return nil, notFound("Customer", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCommerce) FindCustomerByEmail(_ context.Context, email string) (*clients.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindCustomerByEmail"); err != nil {
		return nil, err
	}
	for _, c := range f.customers {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCommerce) CreateCustomer(_ context.Context, in clients.CreateCustomerInput) (*clients.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateCustomer"); err != nil {
		return nil, err
	}
	c := &clients.Customer{ID: f.id("cus"), Email: in.Email, FirstName: in.FirstName, LastName: in.LastName}
	f.customers[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeCommerce) DeleteCustomer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteCustomer"); err != nil {
		return err
	}
	delete(f.customers, id)
	return nil
}

func (f *fakeCommerce) CreateCart(_ context.Context, in clients.CreateCartInput) (*clients.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateCart"); err != nil {
		return nil, err
	}
	c := &clients.Cart{
		ID:              f.id("cart"),
		RegionID:        in.RegionID,
		CustomerID:      in.CustomerID,
		Email:           in.Email,
		CurrencyCode:    "usd",
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
	}
	for _, li := range in.Items {
		price := f.variantPrices[li.VariantID]
		if li.UnitPrice != nil {
			price = *li.UnitPrice
		}
		c.Items = append(c.Items, clients.LineItem{
			ID:        f.id("li"),
			Title:     li.VariantID,
			VariantID: li.VariantID,
			Quantity:  li.Quantity,
			UnitPrice: price,
		})
	}
	f.carts[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeCommerce) GetCart(_ context.Context, id string) (*clients.Cart, error) {
	f.mu.Lock()
	if err := f.enter("GetCart"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	_, ok := f.carts[id]
	f.mu.Unlock()
	if !ok {
		return nil, notFound("Cart", id)
	}
	return f.cart(id), nil
}

func (f *fakeCommerce) DeleteCart(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteCart"); err != nil {
		return err
	}
	delete(f.carts, id)
	return nil
}

func (f *fakeCommerce) UpdateCartLineItem(_ context.Context, cartID, itemID string, in clients.UpdateLineItemInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateCartLineItem"); err != nil {
		return err
	}
	c, ok := f.carts[cartID]
	if !ok {
		return notFound("Cart", cartID)
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items[i].Quantity = in.Quantity
			if in.UnitPrice != nil {
				c.Items[i].UnitPrice = *in.UnitPrice
			}
			return nil
		}
	}
	return notFound("LineItem", itemID)
}

func (f *fakeCommerce) UpdateCartAddresses(_ context.Context, cartID string, shipping, billing *clients.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateCartAddresses"); err != nil {
		return err
	}
	c, ok := f.carts[cartID]
	if !ok {
		return notFound("Cart", cartID)
	}
	if shipping != nil {
		c.ShippingAddress = shipping
	}
	if billing != nil {
		c.BillingAddress = billing
	}
	return nil
}

func (f *fakeCommerce) AddCartShippingMethod(_ context.Context, cartID, optionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddCartShippingMethod"); err != nil {
		return err
	}
	c, ok := f.carts[cartID]
	if !ok {
		return notFound("Cart", cartID)
	}
	c.ShippingMethods = []clients.ShippingMethod{{ID: f.id("csm"), ShippingOptionID: optionID}}
	return nil
}

func (f *fakeCommerce) CreateOrder(_ context.Context, in clients.CreateOrderInput) (*clients.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateOrder"); err != nil {
		return nil, err
	}
	o := &clients.Order{
		ID:              f.id("order"),
		Status:          in.Status,
		IsDraftOrder:    in.IsDraftOrder,
		Version:         1,
		RegionID:        in.RegionID,
		CustomerID:      in.CustomerID,
		Email:           in.Email,
		CurrencyCode:    in.CurrencyCode,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
	}
	for _, item := range in.Items {
		o.Items = append(o.Items, clients.OrderItem{
			ID:        f.id("item"),
			Title:     item.Title,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	f.orders[o.ID] = o
	return f.snapshot(o), nil
}

func (f *fakeCommerce) GetOrder(_ context.Context, id string) (*clients.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetOrder"); err != nil {
		return nil, err
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, notFound("Order", id)
	}
	return f.snapshot(o), nil
}

func (f *fakeCommerce) UpdateOrder(_ context.Context, id string, in clients.UpdateOrderInput) (*clients.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateOrder"); err != nil {
		return nil, err
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, notFound("Order", id)
	}
	if in.Status != nil {
		o.Status = *in.Status
	}
	if in.IsDraftOrder != nil {
		o.IsDraftOrder = *in.IsDraftOrder
	}
	if in.Email != nil {
		o.Email = *in.Email
	}
	if in.ShippingAddress != nil {
		o.ShippingAddress = in.ShippingAddress
	}
	if in.BillingAddress != nil {
		o.BillingAddress = in.BillingAddress
	}
	if in.Metadata != nil {
		o.Metadata = in.Metadata
	}
	return f.snapshot(o), nil
}

func (f *fakeCommerce) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CancelOrder"); err != nil {
		return err
	}
	if o, ok := f.orders[id]; ok {
		o.Status = "canceled"
	}
	return nil
}

func (f *fakeCommerce) BeginOrderEdit(_ context.Context, orderID string) (*clients.OrderChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BeginOrderEdit"); err != nil {
		return nil, err
	}
	ch := &clients.OrderChange{ID: f.id("ordch"), OrderID: orderID, Status: "pending", ChangeType: "edit", Version: 2}
	f.changes[orderID] = ch
	cp := *ch
	return &cp, nil
}

func (f *fakeCommerce) CancelOrderEdit(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CancelOrderEdit"); err != nil {
		return err
	}
	delete(f.changes, orderID)
	return nil
}

func (f *fakeCommerce) ConfirmOrderEdit(_ context.Context, orderID string) (*clients.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ConfirmOrderEdit"); err != nil {
		return nil, err
	}
	ch, ok := f.changes[orderID]
	if !ok {
		return nil, notFound("OrderChange", orderID)
	}
	ch.Status = "confirmed"
	return f.snapshot(f.orders[orderID]), nil
}

func (f *fakeCommerce) GetActiveOrderChange(_ context.Context, orderID string) (*clients.OrderChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetActiveOrderChange"); err != nil {
		return nil, err
	}
	ch, ok := f.changes[orderID]
	if !ok || ch.Status != "pending" {
		return nil, notFound("OrderChange", orderID)
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeCommerce) UpdateOrderEditItem(_ context.Context, orderID, itemID string, in clients.UpdateOrderEditItemInput) (*clients.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateOrderEditItem"); err != nil {
		return nil, err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, notFound("Order", orderID)
	}
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			o.Items[i].Quantity = in.Quantity
			if in.UnitPrice != nil {
				o.Items[i].UnitPrice = *in.UnitPrice
			}
			return f.snapshot(o), nil
		}
	}
	return nil, notFound("OrderItem", itemID)
}

func (f *fakeCommerce) PreviewOrderChange(_ context.Context, orderID string) (*clients.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PreviewOrderChange"); err != nil {
		return nil, err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, notFound("Order", orderID)
	}
	return f.snapshot(o), nil
}

func (f *fakeCommerce) RegisterOrderChanges(_ context.Context, records []clients.OrderChangeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RegisterOrderChanges"); err != nil {
		return err
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeCommerce) CreateOrderChangeActions(_ context.Context, actions []clients.OrderChangeAction) ([]clients.OrderChangeAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateOrderChangeActions"); err != nil {
		return nil, err
	}
	created := make([]clients.OrderChangeAction, 0, len(actions))
	for _, a := range actions {
		a.ID = f.id("ordchact")
		created = append(created, a)
	}
	f.actions = append(f.actions, created...)
	return created, nil
}

func (f *fakeCommerce) DeleteOrderChangeAction(_ context.Context, actionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteOrderChangeAction"); err != nil {
		return err
	}
	for i, a := range f.actions {
		if a.ID == actionID {
			f.actions = append(f.actions[:i], f.actions[i+1:]...)
			return nil
		}
	}
	return notFound("OrderChangeAction", actionID)
}

func (f *fakeCommerce) GetShippingOption(_ context.Context, id string) (*clients.ShippingOption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetShippingOption"); err != nil {
		return nil, err
	}
	opt, ok := f.options[id]
	if !ok {
		return nil, notFound("ShippingOption", id)
	}
	cp := *opt
	return &cp, nil
}

func (f *fakeCommerce) CreateOrderShippingMethods(_ context.Context, orderID string, in []clients.CreateShippingMethodInput) ([]clients.ShippingMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateOrderShippingMethods"); err != nil {
		return nil, err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, notFound("Order", orderID)
	}
	var created []clients.ShippingMethod
	for _, m := range in {
		sm := clients.ShippingMethod{ID: f.id("sm"), Name: m.Name, ShippingOptionID: m.ShippingOptionID, Amount: m.Amount}
		o.ShippingMethods = append(o.ShippingMethods, sm)
		created = append(created, sm)
	}
	return created, nil
}

func (f *fakeCommerce) DeleteOrderShippingMethods(_ context.Context, orderID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteOrderShippingMethods"); err != nil {
		return err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return notFound("Order", orderID)
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := o.ShippingMethods[:0]
	for _, m := range o.ShippingMethods {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	o.ShippingMethods = kept
	return nil
}

func (f *fakeCommerce) UpdateOrderTaxLines(_ context.Context, _ string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter("UpdateOrderTaxLines")
}

func (f *fakeCommerce) CalculatePrice(_ context.Context, priceSetID string, _ clients.PriceContext) (*clients.CalculatedPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CalculatePrice"); err != nil {
		return nil, err
	}
	amount, ok := f.prices[priceSetID]
	if !ok {
		return nil, notFound("PriceSet", priceSetID)
	}
	return &clients.CalculatedPrice{PriceSetID: priceSetID, CurrencyCode: "usd", CalculatedAmount: amount}, nil
}

func (f *fakeCommerce) CreatePaymentCollection(_ context.Context, in clients.CreatePaymentCollectionInput) (*clients.PaymentCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreatePaymentCollection"); err != nil {
		return nil, err
	}
	pc := &clients.PaymentCollection{ID: f.id("paycol"), Status: "not_paid", CurrencyCode: in.CurrencyCode, Amount: in.Amount}
	f.collections[pc.ID] = pc
	cp := *pc
	return &cp, nil
}

func (f *fakeCommerce) UpdatePaymentCollectionAmount(_ context.Context, id string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdatePaymentCollectionAmount"); err != nil {
		return err
	}
	pc, ok := f.collections[id]
	if !ok {
		return notFound("PaymentCollection", id)
	}
	pc.Amount = amount
	return nil
}

func (f *fakeCommerce) LinkOrderPaymentCollection(_ context.Context, orderID, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("LinkOrderPaymentCollection"); err != nil {
		return err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return notFound("Order", orderID)
	}
	o.PaymentCollections = append(o.PaymentCollections, clients.PaymentCollection{ID: collectionID})
	return nil
}

func (f *fakeCommerce) LinkCartPaymentCollection(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter("LinkCartPaymentCollection")
}

func (f *fakeCommerce) AuthorizePaymentSession(_ context.Context, sessionID string) (*clients.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AuthorizePaymentSession"); err != nil {
		return nil, err
	}
	for _, pc := range f.collections {
		for i := range pc.PaymentSessions {
			if pc.PaymentSessions[i].ID == sessionID {
				pc.PaymentSessions[i].Status = "authorized"
				pc.Status = "authorized"
				pc.AuthorizedAmount = pc.Amount
				return &clients.Payment{ID: f.id("pay"), PaymentCollectionID: pc.ID, Amount: pc.Amount}, nil
			}
		}
	}
	return nil, notFound("PaymentSession", sessionID)
}

// harness wires the services to in-memory collaborators
type harness struct {
	events    *fakeEvents
	quotes    *fakeQuotes
	commerce  *fakeCommerce
	summaries *fakeSummaries
	idem      *fakeIdem
	quoteSvc  *QuoteService
	shipping  *ShippingService
	orders    *OrderService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		events:    &fakeEvents{},
		commerce:  newFakeCommerce(),
		summaries: &fakeSummaries{},
		idem:      &fakeIdem{keys: make(map[string]string)},
	}
	h.quotes = newFakeQuotes(h.events)

	log := logger.Nop()
	h.quoteSvc = NewQuoteService(h.quotes, h.events, h.summaries, h.commerce, h.idem, nil, log)
	h.quoteSvc.now = func() time.Time { return testNow }
	h.quoteSvc.followUp = &retry.RetryConfig{
		MaxAttempts:     2,
		BackoffStrategy: &retry.ConstantBackoff{Interval: time.Millisecond},
		Logger:          log,
	}
	h.shipping = NewShippingService(h.quotes, h.summaries, h.commerce, nil, log)
	h.orders = NewOrderService(h.quotes, h.commerce, nil, log)
	return h
}

// requestQuote creates a pending quote for variant_1 through the storefront flow
func (h *harness) requestQuote(t *testing.T, quantity int) *QuoteView {
	t.Helper()
	v, err := h.quoteSvc.RequestQuote(context.Background(), RequestQuoteInput{
		CustomerID: "cus_known",
		RegionID:   "reg_1",
		VariantID:  "variant_1",
		Quantity:   quantity,
	})
	if err != nil {
		t.Fatalf("request quote: %v", err)
	}
	return v
}

func (h *harness) setStatus(t *testing.T, id string, status models.QuoteStatus) {
	t.Helper()
	q := h.quotes.get(id)
	if q == nil {
		t.Fatalf("quote %s not found", id)
	}
	q.Status = status
	h.quotes.put(q)
}

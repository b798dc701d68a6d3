package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/workflow"
	apperrors "github.com/vaidashi/quote-service/pkg/errors"
)

func requireBusinessError(t *testing.T, err error, message string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected an AppError, got %v", err)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.Equal(t, apperrors.CodeInvalidData, appErr.Code)
	assert.Equal(t, message, appErr.Message)
}

func TestRequestQuoteCreatesCustomerCartAndDraftOrder(t *testing.T) {
	h := newHarness(t)

	v, err := h.quoteSvc.RequestQuote(context.Background(), RequestQuoteInput{
		Email:     "new@example.com",
		FirstName: "Ada",
		RegionID:  "reg_1",
		VariantID: "variant_1",
		Quantity:  3,
		Notes:     "need it by friday",
	})

	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusPending, v.Status)
	assert.NotEmpty(t, v.CustomerID)
	assert.NotEmpty(t, v.CartID)
	assert.NotEmpty(t, v.DraftOrderID)
	assert.NotEmpty(t, v.OrderChangeID)
	require.NotNil(t, v.Notes)
	assert.Equal(t, "need it by friday", *v.Notes)

	assert.Equal(t, 1, h.commerce.called("CreateCustomer"))
	order := h.commerce.order(v.DraftOrderID)
	require.NotNil(t, order)
	assert.True(t, order.IsDraftOrder)
	assert.Equal(t, clients.OrderStatusDraft, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, v.CustomerID, order.CustomerID)

	assert.Equal(t, []string{models.EventQuoteCreated}, h.events.types())
}

func TestRequestQuoteReusesCustomerFoundByEmail(t *testing.T) {
	h := newHarness(t)

	v, err := h.quoteSvc.RequestQuote(context.Background(), RequestQuoteInput{
		Email:     "known@example.com",
		RegionID:  "reg_1",
		VariantID: "variant_1",
		Quantity:  1,
	})

	require.NoError(t, err)
	assert.Equal(t, "cus_known", v.CustomerID)
	assert.Zero(t, h.commerce.called("CreateCustomer"))
}

func TestRequestQuoteAcceptsZeroQuantity(t *testing.T) {
	h := newHarness(t)

	v := h.requestQuote(t, 0)

	order := h.commerce.order(v.DraftOrderID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 0, order.Items[0].Quantity)
}

func TestRequestQuoteRequiresCustomerOrEmail(t *testing.T) {
	h := newHarness(t)

	_, err := h.quoteSvc.RequestQuote(context.Background(), RequestQuoteInput{RegionID: "reg_1"})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Empty(t, h.quotes.live())
}

func TestRequestQuoteUndoesEveryCreatedStep(t *testing.T) {
	h := newHarness(t)
	h.commerce.fail["BeginOrderEdit"] = apperrors.NewTemporaryError("order module unavailable")

	_, err := h.quoteSvc.RequestQuote(context.Background(), RequestQuoteInput{
		Email:     "fresh@example.com",
		RegionID:  "reg_1",
		VariantID: "variant_1",
		Quantity:  2,
	})

	require.Error(t, err)
	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "begin-order-edit", stepErr.Step)
	assert.NoError(t, stepErr.UndoErr)

	assert.Equal(t, 1, h.commerce.called("CancelOrder"))
	assert.Equal(t, 1, h.commerce.called("DeleteCart"))
	assert.Equal(t, 1, h.commerce.called("DeleteCustomer"))
	assert.Zero(t, h.commerce.called("CancelOrderEdit"))
	assert.Empty(t, h.quotes.live())
	assert.Empty(t, h.events.types())
}

func TestRequestQuoteKeepsSuppliedCustomerAndCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cart, err := h.commerce.CreateCart(ctx, clients.CreateCartInput{
		RegionID:   "reg_1",
		CustomerID: "cus_known",
		Items:      []clients.LineItemInput{{VariantID: "variant_2", Quantity: 4}},
	})
	require.NoError(t, err)
	h.quotes.failCreate = errors.New("database is down")

	_, err = h.quoteSvc.RequestQuote(ctx, RequestQuoteInput{CustomerID: "cus_known", CartID: cart.ID})

	require.Error(t, err)
	assert.Equal(t, 1, h.commerce.called("CancelOrderEdit"))
	assert.Equal(t, 1, h.commerce.called("CancelOrder"))
	assert.Zero(t, h.commerce.called("DeleteCart"))
	assert.Zero(t, h.commerce.called("DeleteCustomer"))
	assert.NotNil(t, h.commerce.cart(cart.ID))
}

func TestRequestQuoteRejectsCartOfAnotherCustomer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cart, err := h.commerce.CreateCart(ctx, clients.CreateCartInput{RegionID: "reg_1", CustomerID: "cus_other"})
	require.NoError(t, err)

	_, err = h.quoteSvc.RequestQuote(ctx, RequestQuoteInput{CustomerID: "cus_known", CartID: cart.ID})

	assert.ErrorIs(t, err, apperrors.ErrInvalidData)
	assert.Zero(t, h.commerce.called("CreateOrder"))
}

func TestRequestQuoteReplaysIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := RequestQuoteInput{
		CustomerID:     "cus_known",
		RegionID:       "reg_1",
		VariantID:      "variant_1",
		Quantity:       1,
		IdempotencyKey: "key-1",
	}

	first, err := h.quoteSvc.RequestQuote(ctx, in)
	require.NoError(t, err)
	second, err := h.quoteSvc.RequestQuote(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.commerce.called("CreateOrder"))
	assert.Len(t, h.quotes.live(), 1)
}

func TestRequestQuoteInFlightKeyConflicts(t *testing.T) {
	h := newHarness(t)
	h.idem.keys["store:cus_known/key-2"] = ""

	_, err := h.quoteSvc.RequestQuote(context.Background(), RequestQuoteInput{
		CustomerID:     "cus_known",
		RegionID:       "reg_1",
		IdempotencyKey: "key-2",
	})

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Zero(t, h.commerce.called("GetCustomer"))
}

func TestRequestQuoteReleasesKeyOnFailure(t *testing.T) {
	h := newHarness(t)
	h.commerce.fail["CreateOrder"] = apperrors.NewTemporaryError("busy")

	_, err := h.quoteSvc.RequestQuote(context.Background(), RequestQuoteInput{
		CustomerID:     "cus_known",
		RegionID:       "reg_1",
		VariantID:      "variant_1",
		IdempotencyKey: "key-3",
	})

	require.Error(t, err)
	_, held := h.idem.keys["store:cus_known/key-3"]
	assert.False(t, held)
}

func TestSendQuoteAcceptsAndPromotesDraftOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.requestQuote(t, 2)

	price := decimal.NewFromInt(500)
	_, err := h.quoteSvc.UpdateItem(ctx, v.ID, v.DraftOrder.Items[0].ID, UpdateItemInput{Quantity: 2, UnitPrice: &price})
	require.NoError(t, err)

	sent, err := h.quoteSvc.SendQuote(ctx, v.ID)

	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusAccepted, sent.Status)
	assert.Equal(t, models.QuoteStatusAccepted, h.quotes.get(v.ID).Status)

	order := h.commerce.order(v.DraftOrderID)
	assert.Equal(t, clients.OrderStatusPending, order.Status)
	assert.False(t, order.IsDraftOrder)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.True(t, order.Items[0].UnitPrice.Equal(price))

	msg := h.events.last(models.EventQuoteSent)
	require.NotNil(t, msg)
	event, err := models.DecodeEvent(msg.Payload)
	require.NoError(t, err)
	var data models.QuoteTransitionData
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, v.DraftOrderID, data.ID)
	assert.Equal(t, v.ID, data.QuoteID)

	cart := h.commerce.cart(v.CartID)
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.Items[0].UnitPrice.Equal(price), "cart price follows the quote")
}

func TestSendQuoteLeavesMatchingCartAlone(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 2)

	_, err := h.quoteSvc.SendQuote(context.Background(), v.ID)

	require.NoError(t, err)
	assert.Zero(t, h.commerce.called("UpdateCartLineItem"))
}

func TestSendQuoteRejectsExpiredQuote(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 1)
	q := h.quotes.get(v.ID)
	past := testNow.Add(-time.Hour)
	q.ValidTill = &past
	h.quotes.put(q)
	h.commerce.resetCalls()

	_, err := h.quoteSvc.SendQuote(context.Background(), v.ID)

	requireBusinessError(t, err, "Cannot send quote when quote status is expired")
	assert.Zero(t, h.commerce.called("UpdateOrder"))
	assert.Equal(t, models.QuoteStatusPending, h.quotes.get(v.ID).Status)
}

func TestSendQuoteRestoresStateWhenConfirmFails(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 1)
	h.commerce.fail["ConfirmOrderEdit"] = apperrors.NewTemporaryError("edit locked")

	_, err := h.quoteSvc.SendQuote(context.Background(), v.ID)

	require.Error(t, err)
	assert.Equal(t, models.QuoteStatusPending, h.quotes.get(v.ID).Status)
	order := h.commerce.order(v.DraftOrderID)
	assert.Equal(t, clients.OrderStatusDraft, order.Status)
	assert.True(t, order.IsDraftOrder)
	assert.Nil(t, h.events.last(models.EventQuoteSent))
}

func TestSendQuoteSucceedsWhenEventQueueFails(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 1)
	h.events.fail = errors.New("outbox unavailable")

	sent, err := h.quoteSvc.SendQuote(context.Background(), v.ID)

	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusAccepted, sent.Status)
}

func TestTerminalQuotesRejectEveryMutation(t *testing.T) {
	for _, status := range []models.QuoteStatus{models.QuoteStatusAccepted, models.QuoteStatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			v := h.requestQuote(t, 2)
			h.setStatus(t, v.ID, status)
			before := h.quotes.get(v.ID)
			orderBefore := h.commerce.order(v.DraftOrderID)
			cartBefore := h.commerce.cart(v.CartID)
			h.commerce.resetCalls()

			_, err := h.quoteSvc.UpdateItem(ctx, v.ID, v.DraftOrder.Items[0].ID, UpdateItemInput{Quantity: 5})
			requireBusinessError(t, err, "Cannot update quote item when quote status is "+string(status))

			_, err = h.quoteSvc.UpdateValidity(ctx, v.ID, testNow.Add(48*time.Hour))
			requireBusinessError(t, err, "Cannot update quote validity when quote status is "+string(status))

			_, err = h.quoteSvc.MerchantRejectQuote(ctx, v.ID)
			requireBusinessError(t, err, "Cannot reject quote when quote status is "+string(status))

			_, err = h.quoteSvc.SendQuote(ctx, v.ID)
			requireBusinessError(t, err, "Cannot send quote when quote status is "+string(status))

			_, err = h.shipping.ReplaceShippingMethod(ctx, ReplaceShippingInput{OrderID: v.DraftOrderID, ShippingOptionID: "so_express"})
			requireBusinessError(t, err, "Cannot update quote shipping method when quote status is "+string(status))

			assert.Equal(t, before, h.quotes.get(v.ID))
			assert.Equal(t, orderBefore, h.commerce.order(v.DraftOrderID))
			assert.Equal(t, cartBefore, h.commerce.cart(v.CartID))
			for _, op := range []string{"UpdateOrderEditItem", "UpdateOrder", "CreateOrderShippingMethods", "ConfirmOrderEdit"} {
				assert.Zero(t, h.commerce.called(op), op)
			}
		})
	}
}

func TestMutationsOnMissingQuoteAreNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.quoteSvc.SendQuote(context.Background(), "quote_missing")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateItemRequiresQuantityAboveFulfilled(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 3)
	itemID := v.DraftOrder.Items[0].ID
	h.commerce.orders[v.DraftOrderID].Items[0].FulfilledQuantity = 2

	_, err := h.quoteSvc.UpdateItem(context.Background(), v.ID, itemID, UpdateItemInput{Quantity: 2})

	require.ErrorIs(t, err, apperrors.ErrInvalidData)
	assert.Zero(t, h.commerce.called("UpdateOrderEditItem"))
	assert.Equal(t, 3, h.commerce.order(v.DraftOrderID).Items[0].Quantity)
}

func TestUpdateItemRewritesOrderSummary(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 1)
	price := decimal.NewFromInt(450)

	preview, err := h.quoteSvc.UpdateItem(context.Background(), v.ID, v.DraftOrder.Items[0].ID, UpdateItemInput{Quantity: 4, UnitPrice: &price})

	require.NoError(t, err)
	assert.True(t, preview.Total.Equal(decimal.NewFromInt(1800)))
	totals := h.summaries.totals[v.DraftOrderID]
	assert.True(t, totals.CurrentOrderTotal.Equal(decimal.NewFromInt(1800)))
	assert.True(t, totals.PendingDifference.Equal(decimal.NewFromInt(1800)))
	assert.Equal(t, "1800", totals.RawAccountingTotal.Value)
}

func TestUpdateItemUnknownItemIsNotFound(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 1)

	_, err := h.quoteSvc.UpdateItem(context.Background(), v.ID, "item_nope", UpdateItemInput{Quantity: 2})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateValidityExtendsExpiredQuote(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 1)
	q := h.quotes.get(v.ID)
	past := testNow.Add(-time.Hour)
	q.ValidTill = &past
	h.quotes.put(q)

	next := testNow.Add(72 * time.Hour)
	updated, err := h.quoteSvc.UpdateValidity(context.Background(), v.ID, next)

	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusPending, updated.Status)
	require.NotNil(t, updated.ValidTill)
	assert.True(t, updated.ValidTill.Equal(next))
	assert.NotNil(t, h.events.last(models.EventQuoteValidityUpdated))
}

func TestUpdateValidityRejectsPastDate(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 1)

	_, err := h.quoteSvc.UpdateValidity(context.Background(), v.ID, testNow.Add(-time.Minute))

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCustomerRejectQuote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.requestQuote(t, 1)

	_, err := h.quoteSvc.CustomerRejectQuote(ctx, "cus_other", v.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, models.QuoteStatusPending, h.quotes.get(v.ID).Status)

	rejected, err := h.quoteSvc.CustomerRejectQuote(ctx, "cus_known", v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusRejected, rejected.Status)
	assert.NotNil(t, h.events.last(models.EventQuoteRejected))

	_, err = h.quoteSvc.CustomerRejectQuote(ctx, "cus_known", v.ID)
	requireBusinessError(t, err, "Cannot reject quote when quote status is rejected")
}

func TestGetQuoteDerivesExpiryAndPaymentStatus(t *testing.T) {
	h := newHarness(t)
	v := h.requestQuote(t, 1)
	q := h.quotes.get(v.ID)
	past := testNow.Add(-time.Minute)
	q.ValidTill = &past
	h.quotes.put(q)

	got, err := h.quoteSvc.GetQuote(context.Background(), v.ID)

	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusExpired, got.Status)
	assert.Equal(t, models.QuoteStatusPending, h.quotes.get(v.ID).Status, "expiry is never written")
	require.NotNil(t, got.DraftOrder)
	assert.Equal(t, clients.PaymentNotPaid, got.DraftOrder.PaymentStatus)
}

func TestListQuotesValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.quoteSvc.ListQuotes(ctx, ListQuotesInput{Order: "id"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = h.quoteSvc.ListQuotes(ctx, ListQuotesInput{Status: "pending_customer"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	list, err := h.quoteSvc.ListQuotes(ctx, ListQuotesInput{})
	require.NoError(t, err)
	assert.Equal(t, DefaultListLimit, list.Limit)
	assert.Zero(t, list.Offset)
}

func TestListCustomerQuotesAttachesPreviews(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.requestQuote(t, 1)
	h.requestQuote(t, 2)
	_, err := h.quoteSvc.RequestQuote(ctx, RequestQuoteInput{Email: "someone@example.com", RegionID: "reg_1"})
	require.NoError(t, err)

	list, err := h.quoteSvc.ListCustomerQuotes(ctx, "cus_known", ListQuotesInput{})

	require.NoError(t, err)
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Quotes, 2)
	for _, q := range list.Quotes {
		require.NotNil(t, q.DraftOrder)
		assert.Equal(t, q.DraftOrderID, q.DraftOrder.ID)
		assert.Equal(t, clients.PaymentNotPaid, q.DraftOrder.PaymentStatus)
	}
}

func TestCreateMerchantQuoteSendsPricedQuote(t *testing.T) {
	h := newHarness(t)

	v, err := h.quoteSvc.CreateMerchantQuote(context.Background(), MerchantQuoteInput{
		CustomerID: "cus_known",
		RegionID:   "reg_1",
		VariantID:  "variant_1",
		Quantity:   2,
		UnitPrice:  decimal.NewFromInt(500),
		ValidTill:  testNow.Add(7 * 24 * time.Hour),
	})

	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusAccepted, v.Status)
	require.NotNil(t, v.ValidTill)

	order := h.commerce.order(v.DraftOrderID)
	assert.Equal(t, clients.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.NewFromInt(500)))

	assert.Equal(t, []string{
		models.EventQuoteCreated,
		models.EventQuoteValidityUpdated,
		models.EventQuoteSent,
	}, h.events.types())
}

func TestCreateMerchantQuoteUndoesCreationWhenSendFails(t *testing.T) {
	h := newHarness(t)
	h.commerce.fail["UpdateOrder"] = apperrors.NewBusinessError("order is locked")

	_, err := h.quoteSvc.CreateMerchantQuote(context.Background(), MerchantQuoteInput{
		CustomerID: "cus_known",
		RegionID:   "reg_1",
		VariantID:  "variant_1",
		Quantity:   2,
		UnitPrice:  decimal.NewFromInt(500),
		ValidTill:  testNow.Add(time.Hour),
	})

	require.ErrorIs(t, err, apperrors.ErrInvalidData)
	assert.Empty(t, h.quotes.live())
	assert.Equal(t, 1, h.commerce.called("CancelOrderEdit"))
	assert.Equal(t, 1, h.commerce.called("CancelOrder"))
	assert.Equal(t, 1, h.commerce.called("DeleteCart"))
	assert.Zero(t, h.commerce.called("DeleteCustomer"))
}

func TestCreateMerchantQuoteValidatesInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.quoteSvc.CreateMerchantQuote(context.Background(), MerchantQuoteInput{
		CustomerID: "cus_known",
		ValidTill:  testNow.Add(-time.Hour),
	})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Zero(t, h.commerce.called("CreateCart"))
}

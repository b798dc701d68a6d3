package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vaidashi/quote-service/internal/idempotency"
	"github.com/vaidashi/quote-service/internal/service"
)

// requestQuoteRequest is a storefront quote request. A signed-in customer is
// taken from the actor header; a guest is identified by email.
type requestQuoteRequest struct {
	Email           string          `json:"email" validate:"omitempty,email"`
	FirstName       string          `json:"first_name" validate:"omitempty,max=100"`
	LastName        string          `json:"last_name" validate:"omitempty,max=100"`
	Phone           string          `json:"phone" validate:"omitempty,max=30"`
	CartID          string          `json:"cart_id"`
	RegionID        string          `json:"region_id" validate:"required_without=CartID"`
	VariantID       string          `json:"variant_id" validate:"required_without=CartID"`
	Quantity        int             `json:"quantity" validate:"gte=0"`
	ShippingAddress *addressRequest `json:"shipping_address" validate:"omitempty"`
	BillingAddress  *addressRequest `json:"billing_address" validate:"omitempty"`
	Notes           string          `json:"notes" validate:"omitempty,max=2000"`
}

type updateDraftOrderRequest struct {
	Email           *string                `json:"email" validate:"omitempty,email"`
	ShippingAddress *addressRequest        `json:"shipping_address" validate:"omitempty"`
	BillingAddress  *addressRequest        `json:"billing_address" validate:"omitempty"`
	Metadata        map[string]interface{} `json:"metadata"`
}

type shippingMethodRequest struct {
	ShippingOptionID string `json:"shipping_option_id" validate:"required"`
	CartID           string `json:"cart_id"`
}

type paymentCollectionRequest struct {
	CartID string `json:"cart_id"`
}

type authorizePaymentRequest struct {
	PaymentSessionID string `json:"payment_session_id" validate:"required"`
}

// requestQuoteHandler turns a cart, or a variant and region, into a pending quote
func (s *Server) requestQuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req requestQuoteRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	view, err := s.quotes.RequestQuote(r.Context(), service.RequestQuoteInput{
		CustomerID:      actorID(r),
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Phone:           req.Phone,
		CartID:          req.CartID,
		RegionID:        req.RegionID,
		VariantID:       req.VariantID,
		Quantity:        req.Quantity,
		ShippingAddress: req.ShippingAddress.toClient(),
		BillingAddress:  req.BillingAddress.toClient(),
		Notes:           req.Notes,
		IdempotencyKey:  idempotency.Key(r),
	})
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: view})
}

// listCustomerQuotesHandler returns the signed-in customer's quotes with
// order previews
func (s *Server) listCustomerQuotesHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	in, err := listInput(r)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	list, err := s.quotes.ListCustomerQuotes(r.Context(), customerID, in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: list})
}

func (s *Server) getCustomerQuoteHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	view, err := s.quotes.GetCustomerQuote(r.Context(), customerID, mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view})
}

func (s *Server) customerRejectQuoteHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	view, err := s.quotes.CustomerRejectQuote(r.Context(), customerID, mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view})
}

// updateDraftOrderHandler patches addresses, email and metadata on a quote's
// draft order and returns the order preview
func (s *Server) updateDraftOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req updateDraftOrderRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	preview, err := s.orders.UpdateDraftOrder(r.Context(), service.UpdateDraftOrderInput{
		OrderID:         mux.Vars(r)["id"],
		CustomerID:      actorID(r),
		Email:           req.Email,
		ShippingAddress: req.ShippingAddress.toClient(),
		BillingAddress:  req.BillingAddress.toClient(),
		Metadata:        req.Metadata,
	})
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: preview})
}

// replaceShippingMethodHandler attaches a shipping option to a quote's draft
// order, replacing the current one
func (s *Server) replaceShippingMethodHandler(w http.ResponseWriter, r *http.Request) {
	var req shippingMethodRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	order, err := s.shipping.ReplaceShippingMethod(r.Context(), service.ReplaceShippingInput{
		OrderID:          mux.Vars(r)["id"],
		ShippingOptionID: req.ShippingOptionID,
		CartID:           req.CartID,
		CustomerID:       actorID(r),
	})
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

// paymentCollectionHandler makes sure the draft order has a payment
// collection linked to it and to the cart
func (s *Server) paymentCollectionHandler(w http.ResponseWriter, r *http.Request) {
	var req paymentCollectionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	id, err := s.orders.EnsurePaymentCollection(r.Context(), mux.Vars(r)["id"], req.CartID, actorID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]string{"payment_collection_id": id},
	})
}

func (s *Server) authorizePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req authorizePaymentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	order, err := s.orders.AuthorizePayment(r.Context(), mux.Vars(r)["id"], req.PaymentSessionID, actorID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/idempotency"
	"github.com/vaidashi/quote-service/internal/service"
)

// addressRequest is a postal address in a request body
type addressRequest struct {
	FirstName   string                 `json:"first_name" validate:"omitempty,max=100"`
	LastName    string                 `json:"last_name" validate:"omitempty,max=100"`
	Company     string                 `json:"company" validate:"omitempty,max=200"`
	Address1    string                 `json:"address_1" validate:"omitempty,max=255"`
	Address2    string                 `json:"address_2" validate:"omitempty,max=255"`
	City        string                 `json:"city" validate:"omitempty,max=100"`
	CountryCode string                 `json:"country_code" validate:"omitempty,len=2,alpha"`
	Province    string                 `json:"province" validate:"omitempty,max=100"`
	PostalCode  string                 `json:"postal_code" validate:"omitempty,max=20"`
	Phone       string                 `json:"phone" validate:"omitempty,max=30"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (a *addressRequest) toClient() *clients.Address {
	if a == nil {
		return nil
	}
	return &clients.Address{
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Company:     a.Company,
		Address1:    a.Address1,
		Address2:    a.Address2,
		City:        a.City,
		CountryCode: a.CountryCode,
		Province:    a.Province,
		PostalCode:  a.PostalCode,
		Phone:       a.Phone,
		Metadata:    a.Metadata,
	}
}

type createQuoteRequest struct {
	CustomerID      string           `json:"customer_id" validate:"required"`
	RegionID        string           `json:"region_id" validate:"required"`
	VariantID       string           `json:"variant_id" validate:"required"`
	Quantity        int              `json:"quantity" validate:"required,gte=1"`
	UnitPrice       *decimal.Decimal `json:"unit_price" validate:"required"`
	ValidTill       *time.Time       `json:"valid_till" validate:"required"`
	ShippingAddress *addressRequest  `json:"shipping_address" validate:"omitempty"`
	BillingAddress  *addressRequest  `json:"billing_address" validate:"omitempty"`
	Notes           string           `json:"notes" validate:"omitempty,max=2000"`
}

type updateQuoteRequest struct {
	ValidTill *time.Time `json:"valid_till" validate:"required"`
}

type updateQuoteItemRequest struct {
	Quantity  int              `json:"quantity" validate:"required,gte=1"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

// listQuotesHandler returns a page of quotes
func (s *Server) listQuotesHandler(w http.ResponseWriter, r *http.Request) {
	in, err := listInput(r)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	in.CustomerID = r.URL.Query().Get("customer_id")

	list, err := s.quotes.ListQuotes(r.Context(), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: list})
}

func listInput(r *http.Request) (service.ListQuotesInput, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return service.ListQuotesInput{}, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return service.ListQuotesInput{}, err
	}

	q := r.URL.Query()
	return service.ListQuotesInput{
		Status: q.Get("status"),
		Limit:  limit,
		Offset: offset,
		Order:  q.Get("order"),
	}, nil
}

// createQuoteHandler creates a priced quote for a customer and sends it
func (s *Server) createQuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req createQuoteRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	view, err := s.quotes.CreateMerchantQuote(r.Context(), service.MerchantQuoteInput{
		CustomerID:      req.CustomerID,
		RegionID:        req.RegionID,
		VariantID:       req.VariantID,
		Quantity:        req.Quantity,
		UnitPrice:       *req.UnitPrice,
		ValidTill:       *req.ValidTill,
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

// getQuoteHandler returns a quote with its draft order and payment status
func (s *Server) getQuoteHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.quotes.GetQuote(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view})
}

// sendQuoteHandler accepts the quote on the merchant's side and turns the
// draft order into a pending order
func (s *Server) sendQuoteHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.quotes.SendQuote(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view})
}

func (s *Server) rejectQuoteHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.quotes.MerchantRejectQuote(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view})
}

// updateQuoteHandler changes a quote's validity
func (s *Server) updateQuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req updateQuoteRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	view, err := s.quotes.UpdateValidity(r.Context(), mux.Vars(r)["id"], *req.ValidTill)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view})
}

// updateQuoteItemHandler reprices or resizes a line item in the open order edit
func (s *Server) updateQuoteItemHandler(w http.ResponseWriter, r *http.Request) {
	var req updateQuoteItemRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	preview, err := s.quotes.UpdateItem(r.Context(), vars["id"], vars["item_id"], service.UpdateItemInput{
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
	})
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: preview})
}

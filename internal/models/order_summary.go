package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// rawPrecision matches the precision the host stores raw big numbers with
const rawPrecision = 20

// RawAmount is the host's serialized big-number form
type RawAmount struct {
	Value     string `json:"value"`
	Precision int    `json:"precision"`
}

// NewRawAmount formats d the way the host writes raw amounts
func NewRawAmount(d decimal.Decimal) RawAmount {
	return RawAmount{Value: d.String(), Precision: rawPrecision}
}

// SummaryTotals is the slice of the cached order summary this service owns.
// It is always recomputed from the authoritative order totals, never patched
// field by field.
type SummaryTotals struct {
	PendingDifference    decimal.Decimal `json:"pending_difference"`
	RawPendingDifference RawAmount       `json:"raw_pending_difference"`
	CurrentOrderTotal    decimal.Decimal `json:"current_order_total"`
	RawCurrentOrderTotal RawAmount       `json:"raw_current_order_total"`
	AccountingTotal      decimal.Decimal `json:"accounting_total"`
	RawAccountingTotal   RawAmount       `json:"raw_accounting_total"`
}

// NewSummaryTotals derives the projection from an order total and what has
// already been paid against it
func NewSummaryTotals(orderTotal, paidTotal decimal.Decimal) SummaryTotals {
	pending := orderTotal.Sub(paidTotal)

	return SummaryTotals{
		PendingDifference:    pending,
		RawPendingDifference: NewRawAmount(pending),
		CurrentOrderTotal:    orderTotal,
		RawCurrentOrderTotal: NewRawAmount(orderTotal),
		AccountingTotal:      orderTotal,
		RawAccountingTotal:   NewRawAmount(orderTotal),
	}
}

// MarshalJSON writes amounts as JSON numbers, as the host's summary does
func (t SummaryTotals) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"pending_difference":      json.Number(t.PendingDifference.String()),
		"raw_pending_difference":  t.RawPendingDifference,
		"current_order_total":     json.Number(t.CurrentOrderTotal.String()),
		"raw_current_order_total": t.RawCurrentOrderTotal,
		"accounting_total":        json.Number(t.AccountingTotal.String()),
		"raw_accounting_total":    t.RawAccountingTotal,
	})
}

package models

import (
	"fmt"
	"time"
)

// QuoteStatus is the persisted lifecycle state of a quote
type QuoteStatus string

const (
	QuoteStatusPending  QuoteStatus = "pending"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusRejected QuoteStatus = "rejected"
	// QuoteStatusExpired is derived at read time from ValidTill and never written
	QuoteStatusExpired QuoteStatus = "expired"
)

// transitions lists every legal status change. Accepted and rejected are terminal.
var transitions = map[QuoteStatus][]QuoteStatus{
	QuoteStatusPending: {QuoteStatusAccepted, QuoteStatusRejected, QuoteStatusExpired},
}

// AllQuoteStatuses returns the canonical statuses
func AllQuoteStatuses() []QuoteStatus {
	return []QuoteStatus{QuoteStatusPending, QuoteStatusAccepted, QuoteStatusRejected, QuoteStatusExpired}
}

// ParseQuoteStatus parses a canonical status. Legacy values such as
// pending_merchant or customer_rejected are rejected; they only exist in
// rows older than the canonical status migration.
func ParseQuoteStatus(s string) (QuoteStatus, error) {
	for _, st := range AllQuoteStatuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown quote status %q", s)
}

// CanTransition reports whether from -> to is a legal change
func CanTransition(from, to QuoteStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s QuoteStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s QuoteStatus) String() string {
	return string(s)
}

// Quote links a customer, a cart, a draft order and its open order change
type Quote struct {
	ID            string      `db:"id" json:"id"`
	Status        QuoteStatus `db:"status" json:"status"`
	CustomerID    string      `db:"customer_id" json:"customer_id"`
	DraftOrderID  string      `db:"draft_order_id" json:"draft_order_id"`
	OrderChangeID string      `db:"order_change_id" json:"order_change_id"`
	CartID        string      `db:"cart_id" json:"cart_id"`
	ValidTill     *time.Time  `db:"valid_till" json:"valid_till,omitempty"`
	Notes         *string     `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// NewQuoteParams are the references a new quote is created from
type NewQuoteParams struct {
	CustomerID    string
	DraftOrderID  string
	OrderChangeID string
	CartID        string
	Notes         string
}

// NewQuote creates a pending quote
func NewQuote(p NewQuoteParams) *Quote {
	now := GetCurrentTime()

	q := &Quote{
		ID:            GenerateID("quote"),
		Status:        QuoteStatusPending,
		CustomerID:    p.CustomerID,
		DraftOrderID:  p.DraftOrderID,
		OrderChangeID: p.OrderChangeID,
		CartID:        p.CartID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.Notes != "" {
		notes := p.Notes
		q.Notes = &notes
	}
	return q
}

// IsExpired reports whether a pending quote's offer has lapsed at now
func (q *Quote) IsExpired(now time.Time) bool {
	return q.Status == QuoteStatusPending && q.ValidTill != nil && now.After(*q.ValidTill)
}

// EffectiveStatus is the status shown to callers: a lapsed pending quote reads as expired
func (q *Quote) EffectiveStatus(now time.Time) QuoteStatus {
	if q.IsExpired(now) {
		return QuoteStatusExpired
	}
	return q.Status
}

// Clone returns a copy that shares no pointers with q
func (q *Quote) Clone() *Quote {
	c := *q
	if q.ValidTill != nil {
		v := *q.ValidTill
		c.ValidTill = &v
	}
	if q.Notes != nil {
		n := *q.Notes
		c.Notes = &n
	}
	if q.DeletedAt != nil {
		d := *q.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

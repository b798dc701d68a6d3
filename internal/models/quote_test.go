package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionClosure(t *testing.T) {
	reachable := map[QuoteStatus]bool{}
	for _, to := range AllQuoteStatuses() {
		if CanTransition(QuoteStatusPending, to) {
			reachable[to] = true
		}
	}

	assert.Equal(t, map[QuoteStatus]bool{
		QuoteStatusAccepted: true,
		QuoteStatusRejected: true,
		QuoteStatusExpired:  true,
	}, reachable)

	for _, terminal := range []QuoteStatus{QuoteStatusAccepted, QuoteStatusRejected} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range AllQuoteStatuses() {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
	assert.False(t, CanTransition(QuoteStatusPending, QuoteStatusPending))
}

func TestParseQuoteStatusRejectsLegacyValues(t *testing.T) {
	for _, legacy := range []string{"pending_merchant", "pending_customer", "customer_rejected", "merchant_rejected"} {
		_, err := ParseQuoteStatus(legacy)
		assert.Error(t, err, legacy)
	}

	st, err := ParseQuoteStatus("accepted")
	require.NoError(t, err)
	assert.Equal(t, QuoteStatusAccepted, st)
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		status    QuoteStatus
		validTill *time.Time
		want      QuoteStatus
	}{
		{"pending without validity", QuoteStatusPending, nil, QuoteStatusPending},
		{"pending still valid", QuoteStatusPending, &future, QuoteStatusPending},
		{"pending lapsed", QuoteStatusPending, &past, QuoteStatusExpired},
		{"accepted lapsed stays accepted", QuoteStatusAccepted, &past, QuoteStatusAccepted},
		{"rejected lapsed stays rejected", QuoteStatusRejected, &past, QuoteStatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &Quote{Status: tt.status, ValidTill: tt.validTill}
			assert.Equal(t, tt.want, q.EffectiveStatus(now))
		})
	}
}

func TestNewQuote(t *testing.T) {
	q := NewQuote(NewQuoteParams{
		CustomerID:    "cus_1",
		DraftOrderID:  "order_1",
		OrderChangeID: "ordch_1",
		CartID:        "cart_1",
		Notes:         "bulk order",
	})

	assert.True(t, strings.HasPrefix(q.ID, "quote_"))
	assert.Equal(t, QuoteStatusPending, q.Status)
	require.NotNil(t, q.Notes)
	assert.Equal(t, "bulk order", *q.Notes)
	assert.Nil(t, NewQuote(NewQuoteParams{}).Notes)
}

func TestCloneIsDeep(t *testing.T) {
	v := time.Now()
	q := &Quote{ID: "quote_1", ValidTill: &v}

	c := q.Clone()
	*c.ValidTill = v.Add(time.Hour)

	assert.Equal(t, v, *q.ValidTill)
}

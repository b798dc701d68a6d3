package clients

// PaymentStatus is the coarse payment state of an order
type PaymentStatus string

const (
	PaymentNotPaid             PaymentStatus = "not_paid"
	PaymentAwaiting            PaymentStatus = "awaiting"
	PaymentCaptured            PaymentStatus = "captured"
	PaymentPartiallyCaptured   PaymentStatus = "partially_captured"
	PaymentRefunded            PaymentStatus = "refunded"
	PaymentPartiallyRefunded   PaymentStatus = "partially_refunded"
	PaymentCanceled            PaymentStatus = "canceled"
	PaymentRequiresAction      PaymentStatus = "requires_action"
	PaymentAuthorized          PaymentStatus = "authorized"
	PaymentPartiallyAuthorized PaymentStatus = "partially_authorized"
)

// DerivePaymentStatus folds an order's payment collections into one status.
//
// Each collection counts once under its own status. Two synthetic buckets,
// captured and refunded, add 1 for a collection whose captured (refunded)
// amount equals its amount and 0.5 for a partial one; a zero-amount
// collection counts as captured. The first matching rule wins:
// requires_action, refunded, captured, authorized, canceled (all canceled
// only), awaiting, not_paid.
func DerivePaymentStatus(collections []PaymentCollection) PaymentStatus {
	tally := make(map[PaymentStatus]float64)

	for _, pc := range collections {
		if pc.CapturedAmount.IsPositive() || pc.Amount.IsZero() {
			if pc.CapturedAmount.Equal(pc.Amount) {
				tally[PaymentCaptured]++
			} else {
				tally[PaymentCaptured] += 0.5
			}
		}

		if pc.RefundedAmount.IsPositive() {
			if pc.RefundedAmount.Equal(pc.Amount) {
				tally[PaymentRefunded]++
			} else {
				tally[PaymentRefunded] += 0.5
			}
		}

		tally[PaymentStatus(pc.Status)]++
	}

	total := float64(len(collections))
	exceptCanceled := total - tally[PaymentCanceled]

	switch {
	case tally[PaymentRequiresAction] > 0:
		return PaymentRequiresAction
	case tally[PaymentRefunded] > 0:
		if tally[PaymentRefunded] == tally[PaymentCaptured] {
			return PaymentRefunded
		}
		return PaymentPartiallyRefunded
	case tally[PaymentCaptured] > 0:
		if tally[PaymentCaptured] == exceptCanceled {
			return PaymentCaptured
		}
		return PaymentPartiallyCaptured
	case tally[PaymentAuthorized] > 0:
		if tally[PaymentAuthorized] == exceptCanceled {
			return PaymentAuthorized
		}
		return PaymentPartiallyAuthorized
	case tally[PaymentCanceled] > 0 && tally[PaymentCanceled] == total:
		return PaymentCanceled
	case tally[PaymentAwaiting] > 0:
		return PaymentAwaiting
	default:
		return PaymentNotPaid
	}
}

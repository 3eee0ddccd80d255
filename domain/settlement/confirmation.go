// Package settlement provides payment-confirmation value types and the
// pure credit-amount resolution rules. All functions are deterministic
// with no side effects; the dedup gate and ledger writes live in app.
package settlement

import (
	"errors"
	"strings"
)

// Confirmation is a payment-confirmation event pushed by the gateway.
// Delivery is at-least-once: the same confirmation may arrive multiple
// times and out of order. Either Amount or OrderRef may be present.
type Confirmation struct {
	PaymentID  string // external payment id, the dedup key
	AccountID  string // paying account
	PayerEmail string // payer identity hint from the gateway, may be empty
	Amount     *int64 // explicit credit amount, nil if absent
	OrderRef   string // order reference for follow-up lookup, empty if absent
}

// Validate checks the fields settlement cannot proceed without.
func (c Confirmation) Validate() error {
	if strings.TrimSpace(c.PaymentID) == "" {
		return errors.New("confirmation: payment id is required")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return errors.New("confirmation: account id is required")
	}
	return nil
}

// Pack maps a gateway line-item code to a fixed credit amount.
type Pack struct {
	ItemCode   string
	Credits    int64
	PriceCents int64
}

// PackTable is the static item-code to credit-amount mapping.
type PackTable map[string]Pack

// NewPackTable builds a lookup table keyed by item code.
func NewPackTable(packs []Pack) PackTable {
	t := make(PackTable, len(packs))
	for _, p := range packs {
		t[p.ItemCode] = p
	}
	return t
}

// ErrUnresolvedAmount is returned when neither the confirmation payload
// nor the order lookup yields a positive credit amount. This indicates a
// data problem requiring operator attention, not a retryable failure.
var ErrUnresolvedAmount = errors.New("unresolved credit amount")

// ErrSelfPayment is returned when the payer identity matches a
// configured operator identity. Operators must not grant themselves
// credit through the payment flow.
var ErrSelfPayment = errors.New("self payment rejected")

// ErrDuplicateEvent is returned when the payment id has already been
// settled. Callers treat it as an idempotent no-op and acknowledge the
// delivery so the gateway stops retrying.
var ErrDuplicateEvent = errors.New("duplicate payment event")

// PaymentReference returns the ledger reference id for the purchase
// grant of a payment. The payment_events row dedups deliveries; this
// reference is the second, independent guard on the ledger itself.
// This is a PURE function.
func PaymentReference(paymentID string) string {
	return "payment_" + paymentID
}

// ResolveExplicit returns the credit amount carried directly in the
// confirmation, or 0 if absent or non-positive.
// This is a PURE function.
func ResolveExplicit(c Confirmation) int64 {
	if c.Amount != nil && *c.Amount > 0 {
		return *c.Amount
	}
	return 0
}

// ResolveFromItemCode maps a line-item code to a credit amount via the
// pack table. Returns ErrUnresolvedAmount for unknown codes or packs
// with no positive credit amount.
// This is a PURE function.
func ResolveFromItemCode(itemCode string, packs PackTable) (int64, error) {
	p, ok := packs[itemCode]
	if !ok || p.Credits <= 0 {
		return 0, ErrUnresolvedAmount
	}
	return p.Credits, nil
}

// IsOperator reports whether the payer identity hint matches one of the
// configured operator identities. Comparison is case-insensitive.
// This is a PURE function.
func IsOperator(payerEmail string, operators []string) bool {
	if payerEmail == "" {
		return false
	}
	for _, op := range operators {
		if strings.EqualFold(strings.TrimSpace(op), strings.TrimSpace(payerEmail)) {
			return true
		}
	}
	return false
}

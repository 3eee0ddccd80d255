// Package ledger provides the append-only credit ledger value types and
// pure balance functions. All functions are deterministic with no side
// effects; persistence and serialization live in adapters.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	// TypePurchase is a credit grant from a settled payment.
	TypePurchase EntryType = "purchase"
	// TypeUsage is a debit for a consumed calculation.
	TypeUsage EntryType = "usage"
	// TypeReferralBonus is a credit grant from a referral.
	TypeReferralBonus EntryType = "referral_bonus"
	// TypeSignupBonus is an optional welcome grant at registration.
	TypeSignupBonus EntryType = "signup_bonus"
)

// IsGrant reports whether the entry type increases balance.
func (t EntryType) IsGrant() bool {
	return t == TypePurchase || t == TypeReferralBonus || t == TypeSignupBonus
}

// Valid reports whether the entry type is known.
func (t EntryType) Valid() bool {
	return t == TypeUsage || t.IsGrant()
}

// Entry is one immutable row of the credit ledger (value type).
// Entries are never mutated or deleted; corrections are new offsetting
// entries. Amount is positive for grants and negative for usage.
// BalanceAfter = BalanceBefore + Amount, computed at append time under
// the store's per-account serialization.
type Entry struct {
	ID            string
	AccountID     string
	Type          EntryType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Description   string
	ReferenceID   string     // external reference, empty if none
	ExpiresAt     *time.Time // nil for usage entries
	CreatedAt     time.Time
}

// Active reports whether a grant entry still counts toward available
// balance at the given time. Usage entries are never "active".
func (e Entry) Active(asOf time.Time) bool {
	if !e.Type.IsGrant() {
		return false
	}
	if e.ExpiresAt == nil {
		return true
	}
	return asOf.Before(*e.ExpiresAt)
}

// Grant describes a credit grant to append. Amount must be positive.
type Grant struct {
	ID          string
	AccountID   string
	Type        EntryType // TypePurchase or TypeReferralBonus
	Amount      int64
	Description string
	ReferenceID string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Validate checks grant invariants before append.
func (g Grant) Validate() error {
	if g.AccountID == "" {
		return errors.New("grant: account id is required")
	}
	if !g.Type.IsGrant() {
		return fmt.Errorf("grant: %q is not a grant type", g.Type)
	}
	if g.Amount <= 0 {
		return fmt.Errorf("grant: amount must be positive, got %d", g.Amount)
	}
	if g.ExpiresAt.IsZero() {
		return errors.New("grant: expiry is required")
	}
	return nil
}

// Usage describes a debit to append. Units must be positive.
type Usage struct {
	ID          string
	AccountID   string
	Units       int64
	Description string
	ReferenceID string
	CreatedAt   time.Time
}

// Validate checks usage invariants before append.
func (u Usage) Validate() error {
	if u.AccountID == "" {
		return errors.New("usage: account id is required")
	}
	if u.Units <= 0 {
		return fmt.Errorf("usage: units must be positive, got %d", u.Units)
	}
	return nil
}

// ErrInsufficientCredits is returned when a debit would exceed the
// available balance.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrDuplicateReference is returned when a grant's reference id is
// already present in the ledger. Reference ids make grant appends
// idempotent under racing retries.
var ErrDuplicateReference = errors.New("duplicate ledger reference")

// AvailableBalance computes the spendable balance from raw entries:
// the sum of grant amounts whose expiry is after asOf, minus the
// absolute sum of all usage amounts, floored at zero for display.
// Usage permanently reduces balance even after the grant that funded it
// expires; grants do not expire out from under consumed credit.
// This is a PURE function.
func AvailableBalance(entries []Entry, asOf time.Time) int64 {
	var granted, used int64
	for _, e := range entries {
		switch {
		case e.Type == TypeUsage:
			used += -e.Amount
		case e.Active(asOf):
			granted += e.Amount
		}
	}
	balance := granted - used
	if balance < 0 {
		return 0
	}
	return balance
}

// Replay verifies the per-account before/after chain of a sequence of
// entries in append order. Every entry must satisfy
// BalanceAfter = BalanceBefore + Amount. Snapshots record the available
// balance at append time, so between two appends the base can only drop
// (grants expiring); it can never rise without a ledger entry. Replay
// enforces both. This is a PURE function, used for audit.
func Replay(entries []Entry) error {
	last := make(map[string]int64)
	seen := make(map[string]bool)
	for i, e := range entries {
		if e.BalanceAfter != e.BalanceBefore+e.Amount {
			return fmt.Errorf("entry %d (%s): balance_after %d != balance_before %d + amount %d",
				i, e.ID, e.BalanceAfter, e.BalanceBefore, e.Amount)
		}
		if seen[e.AccountID] && e.BalanceBefore > last[e.AccountID] {
			return fmt.Errorf("entry %d (%s): balance_before %d exceeds previous balance_after %d",
				i, e.ID, e.BalanceBefore, last[e.AccountID])
		}
		seen[e.AccountID] = true
		last[e.AccountID] = e.BalanceAfter
	}
	return nil
}

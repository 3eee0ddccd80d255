// Package credit provides the grant expiry policy.
// All functions are pure - no side effects.
package credit

import (
	"time"

	"github.com/torresproject/creditd/domain/ledger"
)

// Policy maps grant types to validity windows.
type Policy struct {
	PurchaseDays      int
	ReferralBonusDays int
}

// DefaultPolicy returns the standard validity windows: purchased credits
// are spendable for 40 days, referral bonus credits for 60.
func DefaultPolicy() Policy {
	return Policy{
		PurchaseDays:      40,
		ReferralBonusDays: 60,
	}
}

// ExpiryFor returns the expiry timestamp for a grant of the given type
// created at the given time. Usage entries carry no expiry; calling
// ExpiryFor with a non-grant type returns the zero time.
// This is a PURE function.
func (p Policy) ExpiryFor(t ledger.EntryType, createdAt time.Time) time.Time {
	switch t {
	case ledger.TypePurchase, ledger.TypeSignupBonus:
		return createdAt.AddDate(0, 0, p.PurchaseDays)
	case ledger.TypeReferralBonus:
		return createdAt.AddDate(0, 0, p.ReferralBonusDays)
	default:
		return time.Time{}
	}
}

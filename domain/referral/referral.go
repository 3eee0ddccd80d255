// Package referral provides referral code value types and pure helpers.
package referral

import (
	"errors"
	"strings"
	"time"
)

// CodeLength is the length of generated referral codes.
const CodeLength = 8

// Code is a single-use referral code (value type).
// A code transitions unredeemed -> redeemed exactly once, globally; the
// transition is atomic with recording the redeeming account.
type Code struct {
	Code       string
	AccountID  string     // owning account (the referrer)
	RedeemedBy *string    // redeeming account, nil while unredeemed
	RedeemedAt *time.Time // nil while unredeemed
	CreatedAt  time.Time
}

// Redeemed reports whether the code has been used.
func (c Code) Redeemed() bool {
	return c.RedeemedBy != nil
}

// ErrCodeNotFound is returned when no code matches.
var ErrCodeNotFound = errors.New("referral code not found")

// ErrAlreadyRedeemed is returned to every redemption loser after the
// code's single use is consumed.
var ErrAlreadyRedeemed = errors.New("referral code already redeemed")

// ErrSelfReferral is returned when an account tries to redeem its own code.
var ErrSelfReferral = errors.New("cannot redeem own referral code")

// ErrAlreadyReferred is returned when the redeeming account already has
// an immutable referred-by link.
var ErrAlreadyReferred = errors.New("account already has a referrer")

// Normalize canonicalizes user-entered code strings.
// This is a PURE function.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FromRandom maps random bytes to a referral code string. Uses an
// unambiguous upper-case alphabet (no 0/O, 1/I/L).
// This is a PURE function of its input.
func FromRandom(b []byte) string {
	const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(out)
}

// BonusReference returns the ledger reference id that dedups the
// referred side of the bonus for a referred account's first purchase,
// mirroring how payment references dedup purchase grants.
// This is a PURE function.
func BonusReference(referredAccountID string) string {
	return "referral_" + referredAccountID
}

// ReferrerBonusReference returns the ledger reference id for the
// referrer side of the bonus. It is keyed on the referrer, not the
// referred account, so the ledger's unique reference id holds the
// one-bonus-ever cap even when two referred accounts' first purchases
// settle at the same time.
// This is a PURE function.
func ReferrerBonusReference(referrerID string) string {
	return "referral_" + referrerID + "_referrer"
}

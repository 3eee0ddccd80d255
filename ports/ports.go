// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/domain/referral"
)

// ErrNotFound is returned by stores when an entity does not exist.
// Adapters surface this sentinel so callers can errors.Is across
// storage backends.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by stores when a uniqueness rule is violated.
var ErrDuplicate = errors.New("already exists")

// ErrOrderNotFound is returned by OrderLookup when the gateway has no
// order for the reference.
var ErrOrderNotFound = errors.New("order not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes. Referral code generation maps
	// these through the code alphabet.
	Bytes(n int) ([]byte, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// Account represents a credit account.
// Balance is never stored on the account; it is always derived from the
// ledger. ReferredBy is set at most once, at registration.
type Account struct {
	ID         string
	Email      string
	ReferredBy string // account ID of the referrer, empty if none
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AccountStore persists credit accounts.
type AccountStore interface {
	// Get retrieves an account by ID.
	Get(ctx context.Context, id string) (Account, error)

	// GetByEmail retrieves an account by email.
	GetByEmail(ctx context.Context, email string) (Account, error)

	// Create stores a new account.
	Create(ctx context.Context, a Account) error

	// SetReferredBy sets the referred-by link. It fails if the link is
	// already set; the link is immutable once written.
	SetReferredBy(ctx context.Context, id, referrerID string, at time.Time) error

	// CountReferred returns how many accounts name the given account as
	// their referrer.
	CountReferred(ctx context.Context, referrerID string) (int, error)
}

// LedgerStore persists the append-only credit ledger.
// Appends to the same account are serialized by the store so that
// balance-before/balance-after snapshots never interleave.
type LedgerStore interface {
	// AppendGrant appends a credit grant (purchase or referral bonus).
	// BalanceBefore/BalanceAfter are computed inside the store's
	// per-account serialization scope.
	AppendGrant(ctx context.Context, g ledger.Grant) (ledger.Entry, error)

	// AppendUsage appends a usage entry debiting the account, but only if
	// the available balance at the given time covers the debit. Returns
	// ledger.ErrInsufficientCredits otherwise. The balance check and the
	// append are one serialized operation.
	AppendUsage(ctx context.Context, u ledger.Usage) (ledger.Entry, error)

	// AvailableBalance returns the spendable balance as of the given time:
	// unexpired grants minus all usage, floored at zero.
	AvailableBalance(ctx context.Context, accountID string, asOf time.Time) (int64, error)

	// History returns ledger entries for an account, newest first.
	History(ctx context.Context, accountID string, limit, offset int) ([]ledger.Entry, error)

	// CountByTypeAndAccount counts entries of a given type for an account.
	// Used to enforce the referrer bonus cap.
	CountByTypeAndAccount(ctx context.Context, accountID string, t ledger.EntryType) (int, error)

	// HasReference reports whether an entry with the given reference ID
	// exists. Used for idempotent bonus application.
	HasReference(ctx context.Context, referenceID string) (bool, error)
}

// ReferralStore persists referral codes.
type ReferralStore interface {
	// Create stores a new referral code.
	Create(ctx context.Context, c referral.Code) error

	// GetByAccount retrieves the code owned by an account.
	GetByAccount(ctx context.Context, accountID string) (referral.Code, error)

	// GetByCode retrieves a code by its string value.
	GetByCode(ctx context.Context, code string) (referral.Code, error)

	// Redeem atomically transitions a code from unredeemed to redeemed and
	// records the redeeming account. Exactly one concurrent caller wins;
	// the rest get referral.ErrAlreadyRedeemed. An unknown code yields
	// referral.ErrCodeNotFound.
	Redeem(ctx context.Context, code, redeemingAccountID string, at time.Time) error

	// Release hands back a redemption that could not complete, restoring
	// the code's single use. The reversal is conditional on the code
	// still being held by the given account; it never frees another
	// account's redemption.
	Release(ctx context.Context, code, redeemingAccountID string) error
}

// PaymentEventStatus is the processing state of an external payment event.
type PaymentEventStatus string

const (
	// PaymentEventSeen means the event id has been recorded but no credit
	// has been granted yet.
	PaymentEventSeen PaymentEventStatus = "seen"
	// PaymentEventSettled means the grant for this event is durable.
	PaymentEventSettled PaymentEventStatus = "settled"
	// PaymentEventFailed means the dedup mark is set but the grant failed;
	// the event needs operator reconciliation.
	PaymentEventFailed PaymentEventStatus = "failed"
)

// PaymentEvent is the dedup record for an external payment id.
type PaymentEvent struct {
	PaymentID      string
	AccountID      string
	Status         PaymentEventStatus
	CreditedAmount int64 // resolved credit amount, 0 until settled
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PaymentEventStore is the idempotency gate in front of settlement.
type PaymentEventStore interface {
	// RecordIfNew atomically records the payment id if it has not been seen
	// before. Under concurrent calls with the same id exactly one caller
	// observes isNew = true. The check-and-mark is a single atomic insert,
	// never read-then-write.
	RecordIfNew(ctx context.Context, paymentID, accountID string, at time.Time) (isNew bool, err error)

	// Get retrieves the event record for a payment id.
	Get(ctx context.Context, paymentID string) (PaymentEvent, error)

	// MarkSettled records the resolved credit amount and settled state.
	MarkSettled(ctx context.Context, paymentID string, creditedAmount int64, at time.Time) error

	// MarkFailed flags the event for reconciliation after a post-dedup
	// failure. The id stays consumed; retries with the same id are no-ops.
	MarkFailed(ctx context.Context, paymentID string, at time.Time) error

	// ListByStatus returns events in a given state, newest first.
	// Used by operators to find events needing reconciliation.
	ListByStatus(ctx context.Context, status PaymentEventStatus, limit int) ([]PaymentEvent, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// OrderLookup resolves an order reference from the payment gateway to the
// purchased line-item code. Used when a payment confirmation carries no
// explicit amount.
type OrderLookup interface {
	// ItemCode returns the line-item code for an order reference.
	ItemCode(ctx context.Context, orderRef string) (string, error)
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/torresproject/creditd/domain/referral"
	"github.com/torresproject/creditd/ports"
)

// ReferralStore implements ports.ReferralStore in memory.
type ReferralStore struct {
	mu        sync.Mutex
	byCode    map[string]referral.Code
	byAccount map[string]string // account id -> code
}

// NewReferralStore creates an empty in-memory referral store.
func NewReferralStore() *ReferralStore {
	return &ReferralStore{
		byCode:    make(map[string]referral.Code),
		byAccount: make(map[string]string),
	}
}

// Create stores a new referral code.
func (s *ReferralStore) Create(ctx context.Context, c referral.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCode[c.Code]; ok {
		return ErrDuplicate
	}
	if _, ok := s.byAccount[c.AccountID]; ok {
		return ErrDuplicate
	}

	s.byCode[c.Code] = c
	s.byAccount[c.AccountID] = c.Code
	return nil
}

// GetByAccount retrieves the code owned by an account.
func (s *ReferralStore) GetByAccount(ctx context.Context, accountID string) (referral.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.byAccount[accountID]
	if !ok {
		return referral.Code{}, referral.ErrCodeNotFound
	}
	return s.byCode[code], nil
}

// GetByCode retrieves a code by its string value.
func (s *ReferralStore) GetByCode(ctx context.Context, code string) (referral.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCode[code]
	if !ok {
		return referral.Code{}, referral.ErrCodeNotFound
	}
	return c, nil
}

// Redeem atomically consumes the code's single use. The check and the
// state transition happen under one lock; concurrent attempts see
// exactly one winner.
func (s *ReferralStore) Redeem(ctx context.Context, code, redeemingAccountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCode[code]
	if !ok {
		return referral.ErrCodeNotFound
	}
	if c.RedeemedBy != nil {
		return referral.ErrAlreadyRedeemed
	}

	redeemedAt := at
	c.RedeemedBy = &redeemingAccountID
	c.RedeemedAt = &redeemedAt
	s.byCode[code] = c
	return nil
}

// Release reverses a redemption held by the given account, restoring
// the code's single use. A code held by anyone else, or not held at
// all, is left alone.
func (s *ReferralStore) Release(ctx context.Context, code, redeemingAccountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCode[code]
	if !ok {
		return nil
	}
	if c.RedeemedBy == nil || *c.RedeemedBy != redeemingAccountID {
		return nil
	}

	c.RedeemedBy = nil
	c.RedeemedAt = nil
	s.byCode[code] = c
	return nil
}

// Ensure interface compliance.
var _ ports.ReferralStore = (*ReferralStore)(nil)

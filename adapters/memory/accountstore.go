// Package memory provides in-memory implementations of storage ports.
// Used for tests and single-process development runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/torresproject/creditd/domain/referral"
	"github.com/torresproject/creditd/ports"
)

// ErrNotFound is returned when an entity is not found.
var ErrNotFound = ports.ErrNotFound

// ErrDuplicate is returned when a uniqueness rule is violated.
var ErrDuplicate = ports.ErrDuplicate

// AccountStore implements ports.AccountStore in memory.
type AccountStore struct {
	mu      sync.RWMutex
	byID    map[string]ports.Account
	byEmail map[string]string // email -> id
}

// NewAccountStore creates an empty in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		byID:    make(map[string]ports.Account),
		byEmail: make(map[string]string),
	}
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (ports.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return ports.Account{}, ErrNotFound
	}
	return a, nil
}

// GetByEmail retrieves an account by email.
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (ports.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return ports.Account{}, ErrNotFound
	}
	return s.byID[id], nil
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a ports.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[a.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := s.byEmail[a.Email]; ok {
		return ErrDuplicate
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}

	s.byID[a.ID] = a
	s.byEmail[a.Email] = a.ID
	return nil
}

// SetReferredBy sets the referred-by link, exactly once.
func (s *AccountStore) SetReferredBy(ctx context.Context, id, referrerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if a.ReferredBy != "" {
		return referral.ErrAlreadyReferred
	}

	a.ReferredBy = referrerID
	a.UpdatedAt = at
	s.byID[id] = a
	return nil
}

// CountReferred returns how many accounts were referred by the given account.
func (s *AccountStore) CountReferred(ctx context.Context, referrerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, a := range s.byID {
		if a.ReferredBy == referrerID {
			count++
		}
	}
	return count, nil
}

// Ensure interface compliance.
var _ ports.AccountStore = (*AccountStore)(nil)

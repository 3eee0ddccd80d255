package memory

import (
	"context"
	"sync"
	"time"

	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/ports"
)

// LedgerStore implements ports.LedgerStore in memory.
//
// One mutex guards the whole log: every append reads its balance
// snapshot and writes its entry under the same critical section, which
// gives the per-account total order the ledger requires.
type LedgerStore struct {
	mu        sync.RWMutex
	entries   []ledger.Entry
	byAccount map[string][]int // account id -> indexes into entries, append order
	byRef     map[string]int   // reference id -> index into entries
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		byAccount: make(map[string][]int),
		byRef:     make(map[string]int),
	}
}

// AppendGrant appends a credit grant.
func (s *LedgerStore) AppendGrant(ctx context.Context, g ledger.Grant) (ledger.Entry, error) {
	if err := g.Validate(); err != nil {
		return ledger.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ReferenceID != "" {
		if _, ok := s.byRef[g.ReferenceID]; ok {
			return ledger.Entry{}, ledger.ErrDuplicateReference
		}
	}

	balance := s.availableLocked(g.AccountID, g.CreatedAt)
	expiresAt := g.ExpiresAt
	e := ledger.Entry{
		ID:            g.ID,
		AccountID:     g.AccountID,
		Type:          g.Type,
		Amount:        g.Amount,
		BalanceBefore: balance,
		BalanceAfter:  balance + g.Amount,
		Description:   g.Description,
		ReferenceID:   g.ReferenceID,
		ExpiresAt:     &expiresAt,
		CreatedAt:     g.CreatedAt,
	}
	s.appendLocked(e)
	return e, nil
}

// AppendUsage appends a debit if the balance covers it.
func (s *LedgerStore) AppendUsage(ctx context.Context, u ledger.Usage) (ledger.Entry, error) {
	if err := u.Validate(); err != nil {
		return ledger.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.availableLocked(u.AccountID, u.CreatedAt)
	if balance < u.Units {
		return ledger.Entry{}, ledger.ErrInsufficientCredits
	}

	e := ledger.Entry{
		ID:            u.ID,
		AccountID:     u.AccountID,
		Type:          ledger.TypeUsage,
		Amount:        -u.Units,
		BalanceBefore: balance,
		BalanceAfter:  balance - u.Units,
		Description:   u.Description,
		ReferenceID:   u.ReferenceID,
		CreatedAt:     u.CreatedAt,
	}
	s.appendLocked(e)
	return e, nil
}

// AvailableBalance returns the spendable balance as of the given time.
func (s *LedgerStore) AvailableBalance(ctx context.Context, accountID string, asOf time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availableLocked(accountID, asOf), nil
}

// History returns ledger entries for an account, newest first.
func (s *LedgerStore) History(ctx context.Context, accountID string, limit, offset int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idxs := s.byAccount[accountID]
	var out []ledger.Entry
	// Walk newest to oldest.
	for i := len(idxs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[idxs[i]])
	}
	return out, nil
}

// CountByTypeAndAccount counts entries of a given type for an account.
func (s *LedgerStore) CountByTypeAndAccount(ctx context.Context, accountID string, t ledger.EntryType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, i := range s.byAccount[accountID] {
		if s.entries[i].Type == t {
			count++
		}
	}
	return count, nil
}

// HasReference reports whether an entry with the given reference exists.
func (s *LedgerStore) HasReference(ctx context.Context, referenceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byRef[referenceID]
	return ok, nil
}

// All returns a copy of the full log in append order, for audit replay.
func (s *LedgerStore) All() []ledger.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *LedgerStore) availableLocked(accountID string, asOf time.Time) int64 {
	var granted, used int64
	for _, i := range s.byAccount[accountID] {
		e := s.entries[i]
		switch {
		case e.Type == ledger.TypeUsage:
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

func (s *LedgerStore) appendLocked(e ledger.Entry) {
	idx := len(s.entries)
	s.entries = append(s.entries, e)
	s.byAccount[e.AccountID] = append(s.byAccount[e.AccountID], idx)
	if e.ReferenceID != "" {
		s.byRef[e.ReferenceID] = idx
	}
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)

package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/ports"
)

// History paging bounds. Callers asking for more than historyLimitMax
// entries per page are clamped, not rejected.
const (
	historyLimitDefault = 50
	historyLimitMax     = 200
)

// LedgerService answers balance and history queries. All writes go
// through SettlementService, ReferralService, and ConsumptionService;
// this service is read-only.
type LedgerService struct {
	accounts ports.AccountStore
	entries  ports.LedgerStore
	clock    ports.Clock
	logger   zerolog.Logger
}

// NewLedgerService creates a new ledger query service.
func NewLedgerService(
	accounts ports.AccountStore,
	entries ports.LedgerStore,
	clock ports.Clock,
	logger zerolog.Logger,
) *LedgerService {
	return &LedgerService{
		accounts: accounts,
		entries:  entries,
		clock:    clock,
		logger:   logger,
	}
}

// Balance returns the account's available credits as of now: unexpired
// grants minus all usage, floored at zero.
func (s *LedgerService) Balance(ctx context.Context, accountID string) (int64, error) {
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return 0, fmt.Errorf("load account: %w", err)
	}
	return s.entries.AvailableBalance(ctx, accountID, s.clock.Now().UTC())
}

// History returns a page of the account's ledger, newest first, and
// whether more entries remain beyond the page.
func (s *LedgerService) History(ctx context.Context, accountID string, limit, offset int) ([]ledger.Entry, bool, error) {
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return nil, false, fmt.Errorf("load account: %w", err)
	}

	if limit <= 0 {
		limit = historyLimitDefault
	}
	if limit > historyLimitMax {
		limit = historyLimitMax
	}
	if offset < 0 {
		offset = 0
	}

	// Fetch one past the page to learn whether more remain.
	entries, err := s.entries.History(ctx, accountID, limit+1, offset)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}
	return entries, hasMore, nil
}

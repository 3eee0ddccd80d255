package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/torresproject/creditd/adapters/metrics"
	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/ports"
)

// ConsumptionService debits credits for performed calculations.
//
// The balance precondition and the usage append are one serialized
// operation inside the store, so concurrent calculations from the same
// account can never overdraw the balance between check and debit.
type ConsumptionService struct {
	accounts ports.AccountStore
	entries  ports.LedgerStore
	clock    ports.Clock
	idGen    ports.IDGenerator
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// NewConsumptionService creates a new consumption service.
func NewConsumptionService(
	accounts ports.AccountStore,
	entries ports.LedgerStore,
	clock ports.Clock,
	idGen ports.IDGenerator,
	m *metrics.Collector,
	logger zerolog.Logger,
) *ConsumptionService {
	return &ConsumptionService{
		accounts: accounts,
		entries:  entries,
		clock:    clock,
		idGen:    idGen,
		metrics:  m,
		logger:   logger,
	}
}

// Consume debits units credits from the account and returns the new
// ledger entry. Zero units means one calculation. Returns
// ledger.ErrInsufficientCredits when the available balance does not
// cover the debit; nothing is appended in that case.
func (s *ConsumptionService) Consume(ctx context.Context, accountID string, units int64, description string) (ledger.Entry, error) {
	if units == 0 {
		units = 1
	}
	if description == "" {
		description = "calculation"
	}

	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return ledger.Entry{}, fmt.Errorf("load account: %w", err)
	}

	entry, err := s.entries.AppendUsage(ctx, ledger.Usage{
		ID:          s.idGen.New(),
		AccountID:   accountID,
		Units:       units,
		Description: description,
		CreatedAt:   s.clock.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			s.metrics.InsufficientRejects.Inc()
			s.logger.Debug().
				Str("account_id", accountID).
				Int64("units", units).
				Msg("consumption rejected, insufficient credits")
		}
		return ledger.Entry{}, err
	}

	s.metrics.CreditsConsumed.Add(float64(units))
	s.logger.Info().
		Str("account_id", accountID).
		Int64("units", units).
		Int64("balance_after", entry.BalanceAfter).
		Msg("credits consumed")
	return entry, nil
}

// Package app contains application services orchestrating the domain
// logic over storage ports. All business rules are pure functions in
// domain/; I/O happens at the edges via injected stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/torresproject/creditd/adapters/metrics"
	"github.com/torresproject/creditd/domain/credit"
	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/domain/settlement"
	"github.com/torresproject/creditd/ports"
)

// SettlementService ingests payment-confirmation events and turns them
// into durable purchase grants, exactly once per payment id.
//
// The dedup gate is the payment_events table: RecordIfNew is a single
// atomic insert, and the ledger's unique reference id is a second,
// independent guard so that two deliveries racing through an unsettled
// event can never double-credit.
type SettlementService struct {
	events    ports.PaymentEventStore
	entries   ports.LedgerStore
	accounts  ports.AccountStore
	orders    ports.OrderLookup
	referrals *ReferralService
	policy    credit.Policy
	clock     ports.Clock
	idGen     ports.IDGenerator
	metrics   *metrics.Collector
	logger    zerolog.Logger

	mu        sync.RWMutex
	packs     settlement.PackTable
	operators []string
}

// NewSettlementService creates a new settlement service.
func NewSettlementService(
	events ports.PaymentEventStore,
	entries ports.LedgerStore,
	accounts ports.AccountStore,
	orders ports.OrderLookup,
	referrals *ReferralService,
	packs settlement.PackTable,
	operators []string,
	policy credit.Policy,
	clock ports.Clock,
	idGen ports.IDGenerator,
	m *metrics.Collector,
	logger zerolog.Logger,
) *SettlementService {
	return &SettlementService{
		events:    events,
		entries:   entries,
		accounts:  accounts,
		orders:    orders,
		referrals: referrals,
		packs:     packs,
		operators: operators,
		policy:    policy,
		clock:     clock,
		idGen:     idGen,
		metrics:   m,
		logger:    logger,
	}
}

// UpdateConfig swaps the pack table and operator list at runtime.
// Called by the config holder on reload.
func (s *SettlementService) UpdateConfig(packs settlement.PackTable, operators []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packs = packs
	s.operators = operators
}

func (s *SettlementService) currentPacks() settlement.PackTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packs
}

func (s *SettlementService) currentOperators() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operators
}

// Settle processes one payment confirmation. Duplicate deliveries of a
// settled payment return settlement.ErrDuplicateEvent and must be
// acknowledged to the gateway as success so it stops retrying.
//
// An unresolved amount leaves the event recorded but unsettled; the
// gateway may redeliver and will hit the same unresolved state until
// the pack table or the order is corrected. A ledger append failure
// after the dedup mark flags the event for operator reconciliation and
// is never retried automatically under the same key.
func (s *SettlementService) Settle(ctx context.Context, conf settlement.Confirmation) (ledger.Entry, error) {
	if err := conf.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	now := s.clock.Now().UTC()

	if settlement.IsOperator(conf.PayerEmail, s.currentOperators()) {
		s.metrics.SettlementsTotal.WithLabelValues("self_payment").Inc()
		s.logger.Warn().
			Str("payment_id", conf.PaymentID).
			Str("payer_email", conf.PayerEmail).
			Msg("payment from operator identity rejected")
		return ledger.Entry{}, settlement.ErrSelfPayment
	}

	// Checked before the dedup gate so a confirmation for an unknown
	// account does not consume its payment id.
	if _, err := s.accounts.Get(ctx, conf.AccountID); err != nil {
		return ledger.Entry{}, fmt.Errorf("load account: %w", err)
	}

	isNew, err := s.events.RecordIfNew(ctx, conf.PaymentID, conf.AccountID, now)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("record payment event: %w", err)
	}
	if !isNew {
		prior, err := s.events.Get(ctx, conf.PaymentID)
		if err != nil {
			return ledger.Entry{}, fmt.Errorf("load payment event: %w", err)
		}
		switch prior.Status {
		case ports.PaymentEventSettled:
			s.metrics.DuplicateEvents.Inc()
			s.metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
			s.logger.Debug().
				Str("payment_id", conf.PaymentID).
				Msg("duplicate delivery of settled payment, acknowledging")
			return ledger.Entry{}, settlement.ErrDuplicateEvent
		case ports.PaymentEventFailed:
			s.metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
			s.logger.Warn().
				Str("payment_id", conf.PaymentID).
				Msg("redelivery of failed payment event, needs reconciliation")
			return ledger.Entry{}, settlement.ErrDuplicateEvent
		}
		// Status "seen": an earlier delivery recorded the id but did not
		// settle (unresolved amount, or a crash mid-flight). Fall through
		// and re-attempt; the ledger reference id guards double-crediting.
	}

	amount, err := s.resolveAmount(ctx, conf)
	if err != nil {
		s.metrics.SettlementsTotal.WithLabelValues("unresolved").Inc()
		s.logger.Error().Err(err).
			Str("payment_id", conf.PaymentID).
			Str("order_ref", conf.OrderRef).
			Msg("could not resolve credit amount, payment left unsettled")
		return ledger.Entry{}, err
	}

	entry, err := s.entries.AppendGrant(ctx, ledger.Grant{
		ID:          s.idGen.New(),
		AccountID:   conf.AccountID,
		Type:        ledger.TypePurchase,
		Amount:      amount,
		Description: fmt.Sprintf("purchase of %d credits", amount),
		ReferenceID: settlement.PaymentReference(conf.PaymentID),
		ExpiresAt:   s.policy.ExpiryFor(ledger.TypePurchase, now),
		CreatedAt:   now,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateReference) {
			// A racing delivery of the same unsettled event won the append.
			s.metrics.DuplicateEvents.Inc()
			s.metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
			return ledger.Entry{}, settlement.ErrDuplicateEvent
		}
		s.metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		s.metrics.ReconciliationFlags.Inc()
		s.logger.Error().Err(err).
			Str("payment_id", conf.PaymentID).
			Str("account_id", conf.AccountID).
			Msg("ledger append failed after dedup mark, flagging for reconciliation")
		if markErr := s.events.MarkFailed(ctx, conf.PaymentID, s.clock.Now().UTC()); markErr != nil {
			s.logger.Error().Err(markErr).
				Str("payment_id", conf.PaymentID).
				Msg("failed to flag payment event")
		}
		return ledger.Entry{}, fmt.Errorf("append purchase grant: %w", err)
	}

	if err := s.events.MarkSettled(ctx, conf.PaymentID, amount, s.clock.Now().UTC()); err != nil {
		// The grant is durable and the ledger reference blocks any
		// re-credit, so the delivery is still acknowledged.
		s.logger.Error().Err(err).
			Str("payment_id", conf.PaymentID).
			Msg("failed to mark payment event settled")
	}

	s.metrics.SettlementsTotal.WithLabelValues("settled").Inc()
	s.metrics.CreditsGranted.WithLabelValues(string(ledger.TypePurchase)).Add(float64(amount))
	s.logger.Info().
		Str("payment_id", conf.PaymentID).
		Str("account_id", conf.AccountID).
		Int64("credits", amount).
		Msg("payment settled")

	s.afterFirstPurchase(ctx, conf.AccountID)

	return entry, nil
}

// resolveAmount determines the credit amount for a confirmation: the
// explicit amount when present, otherwise the order's line-item code
// mapped through the pack table.
func (s *SettlementService) resolveAmount(ctx context.Context, conf settlement.Confirmation) (int64, error) {
	if amount := settlement.ResolveExplicit(conf); amount > 0 {
		return amount, nil
	}
	if conf.OrderRef == "" {
		return 0, settlement.ErrUnresolvedAmount
	}
	itemCode, err := s.orders.ItemCode(ctx, conf.OrderRef)
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			return 0, fmt.Errorf("order %q: %w", conf.OrderRef, settlement.ErrUnresolvedAmount)
		}
		return 0, fmt.Errorf("order lookup for %q: %w", conf.OrderRef, err)
	}
	return settlement.ResolveFromItemCode(itemCode, s.currentPacks())
}

// afterFirstPurchase issues the account's referral code and applies the
// referral bonus pair when this settlement was the account's first
// purchase. Both are best effort: the purchase grant is already durable
// and bonus application dedups on its own reference ids.
func (s *SettlementService) afterFirstPurchase(ctx context.Context, accountID string) {
	purchases, err := s.entries.CountByTypeAndAccount(ctx, accountID, ledger.TypePurchase)
	if err != nil {
		s.logger.Error().Err(err).
			Str("account_id", accountID).
			Msg("failed to count purchases after settlement")
		return
	}
	if purchases != 1 {
		return
	}

	if _, err := s.referrals.IssueCode(ctx, accountID); err != nil {
		s.logger.Error().Err(err).
			Str("account_id", accountID).
			Msg("failed to issue referral code on first purchase")
	}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("account_id", accountID).
			Msg("failed to load account for referral bonus")
		return
	}
	if account.ReferredBy == "" {
		return
	}
	if err := s.referrals.ApplyBonus(ctx, account.ReferredBy, accountID); err != nil {
		s.logger.Error().Err(err).
			Str("referrer_id", account.ReferredBy).
			Str("referred_id", accountID).
			Msg("failed to apply referral bonus")
	}
}

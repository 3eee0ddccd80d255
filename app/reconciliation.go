package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/torresproject/creditd/ports"
)

// reconciliationListLimit bounds the operator listing.
const reconciliationListLimit = 100

// ReconciliationService lists payment events that failed after the
// dedup mark was set. These need an operator: the payment id is
// consumed, so redelivery will never credit the account on its own.
type ReconciliationService struct {
	events ports.PaymentEventStore
	logger zerolog.Logger
}

// NewReconciliationService creates a new reconciliation service.
func NewReconciliationService(events ports.PaymentEventStore, logger zerolog.Logger) *ReconciliationService {
	return &ReconciliationService{events: events, logger: logger}
}

// ListFailed returns payment events flagged for reconciliation, newest
// first.
func (s *ReconciliationService) ListFailed(ctx context.Context) ([]ports.PaymentEvent, error) {
	events, err := s.events.ListByStatus(ctx, ports.PaymentEventFailed, reconciliationListLimit)
	if err != nil {
		return nil, fmt.Errorf("list failed payment events: %w", err)
	}
	return events, nil
}

// ListUnsettled returns payment events still in the seen state: the id
// was recorded but no grant was made, typically an unresolved amount.
func (s *ReconciliationService) ListUnsettled(ctx context.Context) ([]ports.PaymentEvent, error) {
	events, err := s.events.ListByStatus(ctx, ports.PaymentEventSeen, reconciliationListLimit)
	if err != nil {
		return nil, fmt.Errorf("list unsettled payment events: %w", err)
	}
	return events, nil
}

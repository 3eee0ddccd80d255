package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/torresproject/creditd/ports"
)

// PaymentEventStore implements ports.PaymentEventStore in memory.
type PaymentEventStore struct {
	mu     sync.Mutex
	events map[string]ports.PaymentEvent
}

// NewPaymentEventStore creates an empty in-memory payment event store.
func NewPaymentEventStore() *PaymentEventStore {
	return &PaymentEventStore{events: make(map[string]ports.PaymentEvent)}
}

// RecordIfNew atomically records a payment id. The existence check and
// the insert share one lock, so exactly one concurrent caller for a
// given id observes isNew = true.
func (s *PaymentEventStore) RecordIfNew(ctx context.Context, paymentID, accountID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[paymentID]; ok {
		return false, nil
	}

	s.events[paymentID] = ports.PaymentEvent{
		PaymentID: paymentID,
		AccountID: accountID,
		Status:    ports.PaymentEventSeen,
		CreatedAt: at,
		UpdatedAt: at,
	}
	return true, nil
}

// Get retrieves the event record for a payment id.
func (s *PaymentEventStore) Get(ctx context.Context, paymentID string) (ports.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[paymentID]
	if !ok {
		return ports.PaymentEvent{}, ErrNotFound
	}
	return e, nil
}

// MarkSettled records the resolved credit amount and settled state.
func (s *PaymentEventStore) MarkSettled(ctx context.Context, paymentID string, creditedAmount int64, at time.Time) error {
	return s.setStatus(paymentID, ports.PaymentEventSettled, creditedAmount, at)
}

// MarkFailed flags the event for operator reconciliation.
func (s *PaymentEventStore) MarkFailed(ctx context.Context, paymentID string, at time.Time) error {
	return s.setStatus(paymentID, ports.PaymentEventFailed, 0, at)
}

func (s *PaymentEventStore) setStatus(paymentID string, status ports.PaymentEventStatus, amount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[paymentID]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	e.CreditedAmount = amount
	e.UpdatedAt = at
	s.events[paymentID] = e
	return nil
}

// ListByStatus returns events in a given state, newest first.
func (s *PaymentEventStore) ListByStatus(ctx context.Context, status ports.PaymentEventStatus, limit int) ([]ports.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ports.PaymentEvent
	for _, e := range s.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.PaymentEventStore = (*PaymentEventStore)(nil)

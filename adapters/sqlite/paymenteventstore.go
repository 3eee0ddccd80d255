package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/torresproject/creditd/ports"
)

// PaymentEventStore implements ports.PaymentEventStore using SQLite.
type PaymentEventStore struct {
	db *DB
}

// NewPaymentEventStore creates a new SQLite payment event store.
func NewPaymentEventStore(db *DB) *PaymentEventStore {
	return &PaymentEventStore{db: db}
}

// RecordIfNew atomically records a payment id. The single INSERT OR
// IGNORE against the primary key is the whole check-and-mark; there is
// no read-then-write window.
func (s *PaymentEventStore) RecordIfNew(ctx context.Context, paymentID, accountID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO payment_events (payment_id, account_id, status, credited_amount, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, paymentID, accountID, string(ports.PaymentEventSeen), at.UTC(), at.UTC())
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Get retrieves the event record for a payment id.
func (s *PaymentEventStore) Get(ctx context.Context, paymentID string) (ports.PaymentEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payment_id, account_id, status, credited_amount, created_at, updated_at
		FROM payment_events
		WHERE payment_id = ?
	`, paymentID)

	var e ports.PaymentEvent
	var status string
	err := row.Scan(&e.PaymentID, &e.AccountID, &status, &e.CreditedAmount, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.PaymentEvent{}, ErrNotFound
	}
	if err != nil {
		return ports.PaymentEvent{}, err
	}
	e.Status = ports.PaymentEventStatus(status)
	return e, nil
}

// MarkSettled records the resolved credit amount and settled state.
func (s *PaymentEventStore) MarkSettled(ctx context.Context, paymentID string, creditedAmount int64, at time.Time) error {
	return s.setStatus(ctx, paymentID, ports.PaymentEventSettled, creditedAmount, at)
}

// MarkFailed flags the event for operator reconciliation.
func (s *PaymentEventStore) MarkFailed(ctx context.Context, paymentID string, at time.Time) error {
	return s.setStatus(ctx, paymentID, ports.PaymentEventFailed, 0, at)
}

func (s *PaymentEventStore) setStatus(ctx context.Context, paymentID string, status ports.PaymentEventStatus, amount int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_events
		SET status = ?, credited_amount = ?, updated_at = ?
		WHERE payment_id = ?
	`, string(status), amount, at.UTC(), paymentID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus returns events in a given state, newest first.
func (s *PaymentEventStore) ListByStatus(ctx context.Context, status ports.PaymentEventStatus, limit int) ([]ports.PaymentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_id, account_id, status, credited_amount, created_at, updated_at
		FROM payment_events
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ports.PaymentEvent
	for rows.Next() {
		var e ports.PaymentEvent
		var st string
		if err := rows.Scan(&e.PaymentID, &e.AccountID, &st, &e.CreditedAmount, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Status = ports.PaymentEventStatus(st)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Ensure interface compliance.
var _ ports.PaymentEventStore = (*PaymentEventStore)(nil)

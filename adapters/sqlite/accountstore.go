package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/torresproject/creditd/domain/referral"
	"github.com/torresproject/creditd/ports"
)

// AccountStore implements ports.AccountStore using SQLite.
type AccountStore struct {
	db *DB
}

// NewAccountStore creates a new SQLite account store.
func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db}
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (ports.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, referred_by, created_at, updated_at
		FROM accounts
		WHERE id = ?
	`, id)
	return scanAccount(row)
}

// GetByEmail retrieves an account by email.
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (ports.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, referred_by, created_at, updated_at
		FROM accounts
		WHERE email = ?
	`, email)
	return scanAccount(row)
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a ports.Account) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, referred_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.Email, nullString(a.ReferredBy), a.CreatedAt.UTC(), a.UpdatedAt.UTC())

	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// SetReferredBy sets the referred-by link, exactly once. The WHERE
// clause on referred_by IS NULL makes the write a compare-and-swap: a
// second attempt affects zero rows and fails.
func (s *AccountStore) SetReferredBy(ctx context.Context, id, referrerID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET referred_by = ?, updated_at = ?
		WHERE id = ? AND referred_by IS NULL
	`, referrerID, at.UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	// Distinguish "already linked" from "no such account".
	var existing sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT referred_by FROM accounts WHERE id = ?`, id).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return referral.ErrAlreadyReferred
}

// CountReferred returns how many accounts were referred by the given account.
func (s *AccountStore) CountReferred(ctx context.Context, referrerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM accounts WHERE referred_by = ?
	`, referrerID).Scan(&count)
	return count, err
}

func scanAccount(row *sql.Row) (ports.Account, error) {
	var a ports.Account
	var referredBy sql.NullString

	err := row.Scan(&a.ID, &a.Email, &referredBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Account{}, ErrNotFound
	}
	if err != nil {
		return ports.Account{}, err
	}

	a.ReferredBy = referredBy.String
	return a, nil
}

// Ensure interface compliance.
var _ ports.AccountStore = (*AccountStore)(nil)

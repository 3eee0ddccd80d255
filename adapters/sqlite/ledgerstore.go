package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/ports"
)

// LedgerStore implements ports.LedgerStore using SQLite.
//
// Appends run inside immediate transactions (see Open), so the balance
// snapshot read and the insert are one serialized operation; concurrent
// appends to the same account cannot interleave their before/after
// reads.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const timeFormat = "2006-01-02 15:04:05"

// AppendGrant appends a credit grant.
func (s *LedgerStore) AppendGrant(ctx context.Context, g ledger.Grant) (ledger.Entry, error) {
	if err := g.Validate(); err != nil {
		return ledger.Entry{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer tx.Rollback()

	balance, err := availableBalanceTx(ctx, tx, g.AccountID, g.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}

	expiresAt := g.ExpiresAt.UTC()
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
		CreatedAt:     g.CreatedAt.UTC(),
	}

	if err := insertEntry(ctx, tx, e); err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

// AppendUsage appends a debit after checking the available balance
// inside the same transaction.
func (s *LedgerStore) AppendUsage(ctx context.Context, u ledger.Usage) (ledger.Entry, error) {
	if err := u.Validate(); err != nil {
		return ledger.Entry{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer tx.Rollback()

	balance, err := availableBalanceTx(ctx, tx, u.AccountID, u.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
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
		CreatedAt:     u.CreatedAt.UTC(),
	}

	if err := insertEntry(ctx, tx, e); err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

// AvailableBalance returns the spendable balance as of the given time.
func (s *LedgerStore) AvailableBalance(ctx context.Context, accountID string, asOf time.Time) (int64, error) {
	return availableBalanceQ(ctx, s.db.DB, accountID, asOf)
}

// History returns ledger entries for an account, newest first.
func (s *LedgerStore) History(ctx context.Context, accountID string, limit, offset int) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, entry_type, amount, balance_before, balance_after,
		       description, reference_id, expires_at, created_at
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var description, referenceID sql.NullString
		var expiresAt sql.NullTime

		err := rows.Scan(
			&e.ID, &e.AccountID, &e.Type, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
			&description, &referenceID, &expiresAt, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		e.Description = description.String
		e.ReferenceID = referenceID.String
		if expiresAt.Valid {
			t := expiresAt.Time
			e.ExpiresAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByTypeAndAccount counts entries of a given type for an account.
func (s *LedgerStore) CountByTypeAndAccount(ctx context.Context, accountID string, t ledger.EntryType) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE account_id = ? AND entry_type = ?
	`, accountID, string(t)).Scan(&count)
	return count, err
}

// HasReference reports whether an entry with the given reference exists.
func (s *LedgerStore) HasReference(ctx context.Context, referenceID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries WHERE reference_id = ?
	`, referenceID).Scan(&count)
	return count > 0, err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func availableBalanceTx(ctx context.Context, tx *sql.Tx, accountID string, asOf time.Time) (int64, error) {
	return availableBalanceQ(ctx, tx, accountID, asOf)
}

// availableBalanceQ computes: unexpired grants minus all usage, floored
// at zero. Timestamps are stored in UTC; datetime() normalizes formats
// for the comparison.
func availableBalanceQ(ctx context.Context, q querier, accountID string, asOf time.Time) (int64, error) {
	asOfStr := asOf.UTC().Format(timeFormat)

	var granted, used int64
	err := q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN entry_type != 'usage' AND datetime(expires_at) > datetime(?) THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN entry_type = 'usage' THEN -amount ELSE 0 END), 0)
		FROM ledger_entries
		WHERE account_id = ?
	`, asOfStr, accountID).Scan(&granted, &used)
	if err != nil {
		return 0, err
	}

	balance := granted - used
	if balance < 0 {
		balance = 0
	}
	return balance, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e ledger.Entry) error {
	var expiresAt any
	if e.ExpiresAt != nil {
		expiresAt = e.ExpiresAt.UTC()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, account_id, entry_type, amount, balance_before, balance_after,
			description, reference_id, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountID, string(e.Type), e.Amount, e.BalanceBefore, e.BalanceAfter,
		nullString(e.Description), nullString(e.ReferenceID), expiresAt, e.CreatedAt)

	if err != nil && isUniqueConstraintError(err) {
		// The only unique columns are the primary key and reference_id;
		// ids are generated, so in practice this is the reference guard.
		return ledger.ErrDuplicateReference
	}
	return err
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/torresproject/creditd/domain/referral"
	"github.com/torresproject/creditd/ports"
)

// ReferralStore implements ports.ReferralStore using SQLite.
type ReferralStore struct {
	db *DB
}

// NewReferralStore creates a new SQLite referral store.
func NewReferralStore(db *DB) *ReferralStore {
	return &ReferralStore{db: db}
}

// Create stores a new referral code.
func (s *ReferralStore) Create(ctx context.Context, c referral.Code) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO referral_codes (code, account_id, redeemed_by, redeemed_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.Code, c.AccountID, nullStringPtr(c.RedeemedBy), nullTimePtr(c.RedeemedAt), c.CreatedAt.UTC())

	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// GetByAccount retrieves the code owned by an account.
func (s *ReferralStore) GetByAccount(ctx context.Context, accountID string) (referral.Code, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, account_id, redeemed_by, redeemed_at, created_at
		FROM referral_codes
		WHERE account_id = ?
	`, accountID)
	return scanCode(row)
}

// GetByCode retrieves a code by its string value.
func (s *ReferralStore) GetByCode(ctx context.Context, code string) (referral.Code, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, account_id, redeemed_by, redeemed_at, created_at
		FROM referral_codes
		WHERE code = ?
	`, code)
	return scanCode(row)
}

// Redeem atomically consumes the code's single use. The conditional
// UPDATE is the compare-and-swap: under concurrent attempts exactly one
// caller affects a row, every other caller sees zero rows and gets
// ErrAlreadyRedeemed.
func (s *ReferralStore) Redeem(ctx context.Context, code, redeemingAccountID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE referral_codes
		SET redeemed_by = ?, redeemed_at = ?
		WHERE code = ? AND redeemed_by IS NULL
	`, redeemingAccountID, at.UTC(), code)
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

	// Zero rows: either the code never existed or it is already spent.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM referral_codes WHERE code = ?`, code).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return referral.ErrCodeNotFound
	}
	return referral.ErrAlreadyRedeemed
}

// Release reverses a redemption held by the given account, restoring
// the code's single use. The condition on redeemed_by means it can
// never free another account's redemption.
func (s *ReferralStore) Release(ctx context.Context, code, redeemingAccountID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE referral_codes
		SET redeemed_by = NULL, redeemed_at = NULL
		WHERE code = ? AND redeemed_by = ?
	`, code, redeemingAccountID)
	return err
}

func scanCode(row *sql.Row) (referral.Code, error) {
	var c referral.Code
	var redeemedBy sql.NullString
	var redeemedAt sql.NullTime

	err := row.Scan(&c.Code, &c.AccountID, &redeemedBy, &redeemedAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return referral.Code{}, referral.ErrCodeNotFound
	}
	if err != nil {
		return referral.Code{}, err
	}

	if redeemedBy.Valid {
		c.RedeemedBy = &redeemedBy.String
	}
	if redeemedAt.Valid {
		c.RedeemedAt = &redeemedAt.Time
	}
	return c, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Ensure interface compliance.
var _ ports.ReferralStore = (*ReferralStore)(nil)

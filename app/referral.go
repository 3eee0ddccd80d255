package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/torresproject/creditd/adapters/metrics"
	"github.com/torresproject/creditd/domain/credit"
	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/domain/referral"
	"github.com/torresproject/creditd/ports"
)

// bonusAmount is the referral bonus credited to each side when a
// referred account completes its first purchase.
const bonusAmount = 1

// codeAttempts bounds retries when a generated code collides with an
// existing one. With an 8-character code over a 31-letter alphabet a
// second collision in a row is effectively unreachable.
const codeAttempts = 5

// ReferralStats is the outward view of an account's referral standing.
type ReferralStats struct {
	Code          string // empty until the account's first purchase
	TotalReferred int
	BonusEarned   int // 0 or 1, the referrer cap
}

// ReferralService manages referral codes, their single-use redemption,
// and the bonus pair paid on a referred account's first purchase.
type ReferralService struct {
	codes    ports.ReferralStore
	accounts ports.AccountStore
	entries  ports.LedgerStore
	policy   credit.Policy
	random   ports.Random
	clock    ports.Clock
	idGen    ports.IDGenerator
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// NewReferralService creates a new referral service.
func NewReferralService(
	codes ports.ReferralStore,
	accounts ports.AccountStore,
	entries ports.LedgerStore,
	policy credit.Policy,
	random ports.Random,
	clock ports.Clock,
	idGen ports.IDGenerator,
	m *metrics.Collector,
	logger zerolog.Logger,
) *ReferralService {
	return &ReferralService{
		codes:    codes,
		accounts: accounts,
		entries:  entries,
		policy:   policy,
		random:   random,
		clock:    clock,
		idGen:    idGen,
		metrics:  m,
		logger:   logger,
	}
}

// IssueCode returns the account's referral code, creating it on first
// call. Issuing is idempotent: concurrent callers converge on the one
// stored code.
func (s *ReferralService) IssueCode(ctx context.Context, accountID string) (referral.Code, error) {
	existing, err := s.codes.GetByAccount(ctx, accountID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, referral.ErrCodeNotFound) {
		return referral.Code{}, fmt.Errorf("load referral code: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		b, err := s.random.Bytes(referral.CodeLength)
		if err != nil {
			return referral.Code{}, fmt.Errorf("generate referral code: %w", err)
		}
		c := referral.Code{
			Code:      referral.FromRandom(b),
			AccountID: accountID,
			CreatedAt: s.clock.Now().UTC(),
		}
		if err := s.codes.Create(ctx, c); err != nil {
			// Either the code string collided or a concurrent caller
			// created the account's code first. Re-check, then retry.
			if stored, getErr := s.codes.GetByAccount(ctx, accountID); getErr == nil {
				return stored, nil
			}
			lastErr = err
			continue
		}
		s.logger.Info().
			Str("account_id", accountID).
			Str("code", c.Code).
			Msg("referral code issued")
		return c, nil
	}
	return referral.Code{}, fmt.Errorf("issue referral code: %w", lastErr)
}

// Redeem consumes a referral code for the redeeming account and links
// the account to the referrer. The code transition is a single atomic
// compare-and-swap in the store; of all concurrent attempts exactly one
// wins and the rest observe referral.ErrAlreadyRedeemed.
func (s *ReferralService) Redeem(ctx context.Context, code, accountID string) error {
	code = referral.Normalize(code)

	c, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, referral.ErrCodeNotFound) {
			s.metrics.ReferralRedemptions.WithLabelValues("not_found").Inc()
		}
		return err
	}
	if c.AccountID == accountID {
		s.metrics.ReferralRedemptions.WithLabelValues("self_referral").Inc()
		return referral.ErrSelfReferral
	}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load redeeming account: %w", err)
	}
	if account.ReferredBy != "" {
		s.metrics.ReferralRedemptions.WithLabelValues("already_referred").Inc()
		return referral.ErrAlreadyReferred
	}

	now := s.clock.Now().UTC()
	if err := s.codes.Redeem(ctx, code, accountID, now); err != nil {
		if errors.Is(err, referral.ErrAlreadyRedeemed) {
			s.metrics.ReferralRedemptions.WithLabelValues("already_redeemed").Inc()
		}
		return err
	}

	if err := s.accounts.SetReferredBy(ctx, accountID, c.AccountID, now); err != nil {
		// The link did not stick: the account raced another code to its
		// settable-once referred-by, or storage failed. Hand the code's
		// single use back so another account can still redeem it.
		if relErr := s.codes.Release(ctx, code, accountID); relErr != nil {
			s.logger.Error().Err(relErr).
				Str("code", code).
				Str("account_id", accountID).
				Msg("failed to release code after link failure")
		}
		s.logger.Warn().Err(err).
			Str("code", code).
			Str("account_id", accountID).
			Str("referrer_id", c.AccountID).
			Msg("referred-by link failed, code released")
		return fmt.Errorf("link referred account: %w", err)
	}

	s.metrics.ReferralRedemptions.WithLabelValues("redeemed").Inc()
	s.logger.Info().
		Str("code", code).
		Str("account_id", accountID).
		Str("referrer_id", c.AccountID).
		Msg("referral code redeemed")
	return nil
}

// ApplyBonus grants the referral bonus pair after the referred
// account's first purchase: one credit to the referred account and, if
// the referrer has not yet earned a referral bonus, one credit to the
// referrer. Idempotent via the bonus reference ids; safe to call again
// after a partial failure.
func (s *ReferralService) ApplyBonus(ctx context.Context, referrerID, referredID string) error {
	applied, err := s.entries.HasReference(ctx, referral.BonusReference(referredID))
	if err != nil {
		return fmt.Errorf("check bonus reference: %w", err)
	}
	if applied {
		return nil
	}

	now := s.clock.Now().UTC()
	expiresAt := s.policy.ExpiryFor(ledger.TypeReferralBonus, now)

	// Referrer side first, gated by the hard cap of one referral bonus
	// ever, regardless of how many accounts they refer. The count covers
	// a referrer who already received a bonus as a referred account; the
	// per-referrer reference id is what holds the cap when two referred
	// accounts' first purchases settle concurrently.
	earned, err := s.entries.CountByTypeAndAccount(ctx, referrerID, ledger.TypeReferralBonus)
	if err != nil {
		return fmt.Errorf("count referrer bonuses: %w", err)
	}
	if earned == 0 {
		_, err := s.entries.AppendGrant(ctx, ledger.Grant{
			ID:          s.idGen.New(),
			AccountID:   referrerID,
			Type:        ledger.TypeReferralBonus,
			Amount:      bonusAmount,
			Description: "referral bonus",
			ReferenceID: referral.ReferrerBonusReference(referrerID),
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
			return fmt.Errorf("grant referrer bonus: %w", err)
		}
		if err == nil {
			s.metrics.CreditsGranted.WithLabelValues(string(ledger.TypeReferralBonus)).Add(bonusAmount)
		}
	}

	_, err = s.entries.AppendGrant(ctx, ledger.Grant{
		ID:          s.idGen.New(),
		AccountID:   referredID,
		Type:        ledger.TypeReferralBonus,
		Amount:      bonusAmount,
		Description: "referral bonus",
		ReferenceID: referral.BonusReference(referredID),
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		return fmt.Errorf("grant referred bonus: %w", err)
	}
	if err == nil {
		s.metrics.CreditsGranted.WithLabelValues(string(ledger.TypeReferralBonus)).Add(bonusAmount)
	}

	s.metrics.ReferralBonuses.Inc()
	s.logger.Info().
		Str("referrer_id", referrerID).
		Str("referred_id", referredID).
		Msg("referral bonus applied")
	return nil
}

// Stats returns the account's referral standing: its code (empty until
// first purchase), how many accounts it referred, and whether it has
// earned its one referral bonus.
func (s *ReferralService) Stats(ctx context.Context, accountID string) (ReferralStats, error) {
	var stats ReferralStats

	c, err := s.codes.GetByAccount(ctx, accountID)
	switch {
	case err == nil:
		stats.Code = c.Code
	case errors.Is(err, referral.ErrCodeNotFound):
		// No code until the first purchase.
	default:
		return ReferralStats{}, fmt.Errorf("load referral code: %w", err)
	}

	referred, err := s.accounts.CountReferred(ctx, accountID)
	if err != nil {
		return ReferralStats{}, fmt.Errorf("count referred accounts: %w", err)
	}
	stats.TotalReferred = referred

	earned, err := s.entries.CountByTypeAndAccount(ctx, accountID, ledger.TypeReferralBonus)
	if err != nil {
		return ReferralStats{}, fmt.Errorf("count earned bonuses: %w", err)
	}
	if earned > 1 {
		earned = 1
	}
	stats.BonusEarned = earned

	return stats, nil
}

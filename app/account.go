package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/torresproject/creditd/adapters/metrics"
	"github.com/torresproject/creditd/domain/credit"
	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/ports"
)

// ErrEmailTaken is returned when registering an email that already has
// an account.
var ErrEmailTaken = errors.New("email already registered")

// ErrInvalidEmail is returned for an empty or malformed email.
var ErrInvalidEmail = errors.New("invalid email")

// AccountService creates and looks up credit accounts.
type AccountService struct {
	accounts    ports.AccountStore
	entries     ports.LedgerStore
	policy      credit.Policy
	signupBonus int64
	clock       ports.Clock
	idGen       ports.IDGenerator
	metrics     *metrics.Collector
	logger      zerolog.Logger
}

// NewAccountService creates a new account service. signupBonus credits
// are granted at registration; 0 disables the welcome grant.
func NewAccountService(
	accounts ports.AccountStore,
	entries ports.LedgerStore,
	policy credit.Policy,
	signupBonus int64,
	clock ports.Clock,
	idGen ports.IDGenerator,
	m *metrics.Collector,
	logger zerolog.Logger,
) *AccountService {
	return &AccountService{
		accounts:    accounts,
		entries:     entries,
		policy:      policy,
		signupBonus: signupBonus,
		clock:       clock,
		idGen:       idGen,
		metrics:     m,
		logger:      logger,
	}
}

// Register creates a new account for the email. Emails are normalized
// to lower case; a second registration with the same email fails with
// ErrEmailTaken.
func (s *AccountService) Register(ctx context.Context, email string) (ports.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return ports.Account{}, ErrInvalidEmail
	}

	now := s.clock.Now().UTC()
	account := ports.Account{
		ID:        s.idGen.New(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if _, getErr := s.accounts.GetByEmail(ctx, email); getErr == nil {
			return ports.Account{}, ErrEmailTaken
		}
		return ports.Account{}, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info().
		Str("account_id", account.ID).
		Str("email", email).
		Msg("account registered")

	if s.signupBonus > 0 {
		s.grantSignupBonus(ctx, account.ID, now)
	}

	return account, nil
}

// Get retrieves an account by id.
func (s *AccountService) Get(ctx context.Context, id string) (ports.Account, error) {
	return s.accounts.Get(ctx, id)
}

// GetByEmail retrieves an account by its normalized email.
func (s *AccountService) GetByEmail(ctx context.Context, email string) (ports.Account, error) {
	return s.accounts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// grantSignupBonus appends the welcome grant. Best effort: the account
// exists either way, and the signup reference id keeps a retry from
// granting twice.
func (s *AccountService) grantSignupBonus(ctx context.Context, accountID string, now time.Time) {
	_, err := s.entries.AppendGrant(ctx, ledger.Grant{
		ID:          s.idGen.New(),
		AccountID:   accountID,
		Type:        ledger.TypeSignupBonus,
		Amount:      s.signupBonus,
		Description: "signup bonus",
		ReferenceID: "signup_" + accountID,
		ExpiresAt:   s.policy.ExpiryFor(ledger.TypeSignupBonus, now),
		CreatedAt:   now,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		s.logger.Error().Err(err).
			Str("account_id", accountID).
			Msg("failed to grant signup bonus")
		return
	}
	if err == nil {
		s.metrics.CreditsGranted.WithLabelValues(string(ledger.TypeSignupBonus)).Add(float64(s.signupBonus))
	}
}

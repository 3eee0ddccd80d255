package app_test

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/torresproject/creditd/adapters/clock"
	"github.com/torresproject/creditd/adapters/gateway"
	"github.com/torresproject/creditd/adapters/idgen"
	"github.com/torresproject/creditd/adapters/memory"
	"github.com/torresproject/creditd/adapters/metrics"
	"github.com/torresproject/creditd/adapters/random"
	"github.com/torresproject/creditd/app"
	"github.com/torresproject/creditd/domain/credit"
	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/domain/settlement"
	"github.com/torresproject/creditd/ports"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// env wires every service over in-memory stores with a fake clock, so
// tests can drive time and inspect state directly.
type env struct {
	accounts *memory.AccountStore
	entries  *memory.LedgerStore
	events   *memory.PaymentEventStore
	codes    *memory.ReferralStore
	clock    *clock.Fake

	settlements    *app.SettlementService
	referrals      *app.ReferralService
	consumption    *app.ConsumptionService
	ledger         *app.LedgerService
	reconciliation *app.ReconciliationService
}

func newEnv() *env {
	e := &env{
		accounts: memory.NewAccountStore(),
		entries:  memory.NewLedgerStore(),
		events:   memory.NewPaymentEventStore(),
		codes:    memory.NewReferralStore(),
		clock:    clock.NewFake(testStart),
	}

	logger := zerolog.Nop()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	ids := idgen.NewSequential("t")
	policy := credit.DefaultPolicy()

	e.referrals = app.NewReferralService(
		e.codes, e.accounts, e.entries, policy,
		random.NewFake(), e.clock, ids, m, logger,
	)

	packs := settlement.NewPackTable([]settlement.Pack{
		{ItemCode: "credits_3", Credits: 3, PriceCents: 500},
		{ItemCode: "credits_10", Credits: 10, PriceCents: 1500},
	})
	orders := &gateway.StaticLookup{Orders: map[string]string{
		"order-10": "credits_10",
	}}
	e.settlements = app.NewSettlementService(
		e.events, e.entries, e.accounts, orders, e.referrals,
		packs, []string{"admin@example.com"}, policy,
		e.clock, ids, m, logger,
	)

	e.consumption = app.NewConsumptionService(e.accounts, e.entries, e.clock, ids, m, logger)
	e.ledger = app.NewLedgerService(e.accounts, e.entries, e.clock, logger)
	e.reconciliation = app.NewReconciliationService(e.events, logger)

	return e
}

func (e *env) createAccount(id, email string) {
	err := e.accounts.Create(context.Background(), ports.Account{
		ID:        id,
		Email:     email,
		CreatedAt: e.clock.Now(),
		UpdatedAt: e.clock.Now(),
	})
	if err != nil {
		panic(err)
	}
}

func amount(v int64) *int64 { return &v }

// failingLedger rejects every append. Wraps a real store so reads keep
// working.
type failingLedger struct {
	ports.LedgerStore
}

var errStorage = errors.New("storage unavailable")

func (f *failingLedger) AppendGrant(ctx context.Context, g ledger.Grant) (ledger.Entry, error) {
	return ledger.Entry{}, errStorage
}

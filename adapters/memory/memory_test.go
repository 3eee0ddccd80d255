package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torresproject/creditd/adapters/memory"
	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/domain/referral"
	"github.com/torresproject/creditd/ports"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// -----------------------------------------------------------------------------
// AccountStore
// -----------------------------------------------------------------------------

func TestAccountStore_CreateAndGet(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	account := ports.Account{ID: "a1", Email: "user@example.com", CreatedAt: base, UpdatedAt: base}
	if err := store.Create(ctx, account); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Email != "user@example.com" {
		t.Errorf("Email = %s", got.Email)
	}

	byEmail, err := store.GetByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != "a1" {
		t.Errorf("ID = %s", byEmail.ID)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := store.Create(ctx, ports.Account{ID: "a2", Email: "user@example.com"}); !errors.Is(err, memory.ErrDuplicate) {
		t.Errorf("duplicate email error = %v, want ErrDuplicate", err)
	}
}

func TestAccountStore_SetReferredByOnce(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	for _, a := range []ports.Account{
		{ID: "referrer", Email: "referrer@example.com"},
		{ID: "other", Email: "other@example.com"},
		{ID: "referred", Email: "referred@example.com"},
	} {
		if err := store.Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.ID, err)
		}
	}

	if err := store.SetReferredBy(ctx, "referred", "referrer", base); err != nil {
		t.Fatalf("set referred by: %v", err)
	}
	if err := store.SetReferredBy(ctx, "referred", "other", base); !errors.Is(err, referral.ErrAlreadyReferred) {
		t.Errorf("second set error = %v, want ErrAlreadyReferred", err)
	}
	if err := store.SetReferredBy(ctx, "missing", "referrer", base); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("unknown account error = %v, want ErrNotFound", err)
	}

	count, err := store.CountReferred(ctx, "referrer")
	if err != nil {
		t.Fatalf("count referred: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

// -----------------------------------------------------------------------------
// LedgerStore
// -----------------------------------------------------------------------------

func TestLedgerStore_GrantsAndUsage(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()

	entry, err := store.AppendGrant(ctx, ledger.Grant{
		ID:        "e1",
		AccountID: "a1",
		Type:      ledger.TypePurchase,
		Amount:    3,
		ExpiresAt: base.AddDate(0, 0, 40),
		CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("append grant: %v", err)
	}
	if entry.BalanceBefore != 0 || entry.BalanceAfter != 3 {
		t.Errorf("balances = %d/%d, want 0/3", entry.BalanceBefore, entry.BalanceAfter)
	}

	usage, err := store.AppendUsage(ctx, ledger.Usage{
		ID:        "u1",
		AccountID: "a1",
		Units:     2,
		CreatedAt: base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("append usage: %v", err)
	}
	if usage.Amount != -2 || usage.BalanceAfter != 1 {
		t.Errorf("usage entry wrong: %+v", usage)
	}

	if _, err := store.AppendUsage(ctx, ledger.Usage{
		ID:        "u2",
		AccountID: "a1",
		Units:     5,
		CreatedAt: base.Add(2 * time.Minute),
	}); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Errorf("error = %v, want ErrInsufficientCredits", err)
	}

	balance, err := store.AvailableBalance(ctx, "a1", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 1 {
		t.Errorf("balance = %d, want 1", balance)
	}
}

func TestLedgerStore_DuplicateReference(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()

	grant := ledger.Grant{
		ID:          "e1",
		AccountID:   "a1",
		Type:        ledger.TypePurchase,
		Amount:      3,
		ReferenceID: "payment_123",
		ExpiresAt:   base.AddDate(0, 0, 40),
		CreatedAt:   base,
	}
	if _, err := store.AppendGrant(ctx, grant); err != nil {
		t.Fatalf("append grant: %v", err)
	}

	grant.ID = "e2"
	if _, err := store.AppendGrant(ctx, grant); !errors.Is(err, ledger.ErrDuplicateReference) {
		t.Errorf("error = %v, want ErrDuplicateReference", err)
	}

	has, err := store.HasReference(ctx, "payment_123")
	if err != nil {
		t.Fatalf("has reference: %v", err)
	}
	if !has {
		t.Error("reference should exist")
	}
}

func TestLedgerStore_ExpiryAwareBalance(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()

	_, err := store.AppendGrant(ctx, ledger.Grant{
		ID:        "e1",
		AccountID: "a1",
		Type:      ledger.TypePurchase,
		Amount:    3,
		ExpiresAt: base.AddDate(0, 0, 40),
		CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("append grant: %v", err)
	}

	balance, err := store.AvailableBalance(ctx, "a1", base.AddDate(0, 0, 41))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance after expiry = %d, want 0", balance)
	}
}

func TestLedgerStore_HistoryNewestFirst(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()

	for i, id := range []string{"e1", "e2", "e3"} {
		_, err := store.AppendGrant(ctx, ledger.Grant{
			ID:        id,
			AccountID: "a1",
			Type:      ledger.TypePurchase,
			Amount:    1,
			ExpiresAt: base.AddDate(0, 0, 40),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	entries, err := store.History(ctx, "a1", 2, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "e3" || entries[1].ID != "e2" {
		t.Errorf("first page wrong: %+v", entries)
	}

	entries, err = store.History(ctx, "a1", 2, 2)
	if err != nil {
		t.Fatalf("history offset: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "e1" {
		t.Errorf("second page wrong: %+v", entries)
	}
}

func TestLedgerStore_CountByTypeAndAccount(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()

	grants := []ledger.Grant{
		{ID: "e1", AccountID: "a1", Type: ledger.TypePurchase, Amount: 3, ExpiresAt: base.AddDate(0, 0, 40), CreatedAt: base},
		{ID: "e2", AccountID: "a1", Type: ledger.TypeReferralBonus, Amount: 1, ExpiresAt: base.AddDate(0, 0, 60), CreatedAt: base},
		{ID: "e3", AccountID: "a2", Type: ledger.TypePurchase, Amount: 3, ExpiresAt: base.AddDate(0, 0, 40), CreatedAt: base},
	}
	for _, g := range grants {
		if _, err := store.AppendGrant(ctx, g); err != nil {
			t.Fatalf("append %s: %v", g.ID, err)
		}
	}

	count, err := store.CountByTypeAndAccount(ctx, "a1", ledger.TypePurchase)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("purchase count = %d, want 1", count)
	}

	count, err = store.CountByTypeAndAccount(ctx, "a2", ledger.TypeReferralBonus)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("bonus count = %d, want 0", count)
	}
}

func TestLedgerStore_ConcurrentUsageNeverOverdraws(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()

	_, err := store.AppendGrant(ctx, ledger.Grant{
		ID:        "grant",
		AccountID: "a1",
		Type:      ledger.TypePurchase,
		Amount:    5,
		ExpiresAt: base.AddDate(0, 0, 40),
		CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("append grant: %v", err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.AppendUsage(ctx, ledger.Usage{
				ID:        "u" + string(rune('a'+n)),
				AccountID: "a1",
				Units:     1,
				CreatedAt: base.Add(time.Minute),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientCredits):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 5 {
		t.Errorf("successful usages = %d, want 5", ok)
	}

	if err := ledger.Replay(store.All()); err != nil {
		t.Errorf("replay after concurrent usage: %v", err)
	}
}

// -----------------------------------------------------------------------------
// ReferralStore
// -----------------------------------------------------------------------------

func TestReferralStore_Lifecycle(t *testing.T) {
	store := memory.NewReferralStore()
	ctx := context.Background()

	code := referral.Code{Code: "ABCD2345", AccountID: "a1", CreatedAt: base}
	if err := store.Create(ctx, code); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, code); !errors.Is(err, memory.ErrDuplicate) {
		t.Errorf("duplicate create error = %v, want ErrDuplicate", err)
	}

	byAccount, err := store.GetByAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("get by account: %v", err)
	}
	if byAccount.Code != "ABCD2345" {
		t.Errorf("code = %s", byAccount.Code)
	}
	if _, err := store.GetByCode(ctx, "MISSING2"); !errors.Is(err, referral.ErrCodeNotFound) {
		t.Errorf("error = %v, want ErrCodeNotFound", err)
	}

	if err := store.Redeem(ctx, "ABCD2345", "a2", base); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := store.Redeem(ctx, "ABCD2345", "a3", base); !errors.Is(err, referral.ErrAlreadyRedeemed) {
		t.Errorf("second redeem error = %v, want ErrAlreadyRedeemed", err)
	}

	got, err := store.GetByCode(ctx, "ABCD2345")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Redeemed() || *got.RedeemedBy != "a2" {
		t.Errorf("code state wrong: %+v", got)
	}
}

func TestReferralStore_ReleaseRestoresSingleUse(t *testing.T) {
	store := memory.NewReferralStore()
	ctx := context.Background()

	if err := store.Create(ctx, referral.Code{Code: "ABCD2345", AccountID: "a1", CreatedAt: base}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Redeem(ctx, "ABCD2345", "a2", base); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// A release by anyone but the holder leaves the redemption alone.
	if err := store.Release(ctx, "ABCD2345", "a3"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	got, err := store.GetByCode(ctx, "ABCD2345")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Redeemed() {
		t.Fatal("foreign release freed the code")
	}

	// The holder's release restores the single use for the next account.
	if err := store.Release(ctx, "ABCD2345", "a2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := store.Redeem(ctx, "ABCD2345", "a3", base); err != nil {
		t.Errorf("redeem after release: %v", err)
	}
	if err := store.Release(ctx, "MISSING2", "a3"); err != nil {
		t.Errorf("unknown code release: %v", err)
	}
}

func TestReferralStore_ConcurrentRedeemSingleWinner(t *testing.T) {
	store := memory.NewReferralStore()
	ctx := context.Background()

	if err := store.Create(ctx, referral.Code{Code: "ABCD2345", AccountID: "owner", CreatedAt: base}); err != nil {
		t.Fatalf("create: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results <- store.Redeem(ctx, "ABCD2345", "r"+string(rune('a'+n)), time.Now().UTC())
		}(i)
	}
	wg.Wait()
	close(results)

	var winners int
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, referral.ErrAlreadyRedeemed):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

// -----------------------------------------------------------------------------
// PaymentEventStore
// -----------------------------------------------------------------------------

func TestPaymentEventStore_RecordIfNew(t *testing.T) {
	store := memory.NewPaymentEventStore()
	ctx := context.Background()

	isNew, err := store.RecordIfNew(ctx, "pay-1", "a1", base)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !isNew {
		t.Error("first record should be new")
	}

	isNew, err = store.RecordIfNew(ctx, "pay-1", "a1", base)
	if err != nil {
		t.Fatalf("record again: %v", err)
	}
	if isNew {
		t.Error("second record must not be new")
	}

	event, err := store.Get(ctx, "pay-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if event.Status != ports.PaymentEventSeen {
		t.Errorf("status = %s, want seen", event.Status)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPaymentEventStore_ConcurrentRecordSingleWinner(t *testing.T) {
	store := memory.NewPaymentEventStore()
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := store.RecordIfNew(ctx, "pay-1", "a1", time.Now().UTC())
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			results <- isNew
		}()
	}
	wg.Wait()
	close(results)

	var news int
	for isNew := range results {
		if isNew {
			news++
		}
	}
	if news != 1 {
		t.Errorf("new observations = %d, want exactly 1", news)
	}
}

func TestPaymentEventStore_StatusTransitions(t *testing.T) {
	store := memory.NewPaymentEventStore()
	ctx := context.Background()

	if _, err := store.RecordIfNew(ctx, "pay-1", "a1", base); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := store.RecordIfNew(ctx, "pay-2", "a2", base.Add(time.Minute)); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := store.MarkSettled(ctx, "pay-1", 3, base.Add(time.Hour)); err != nil {
		t.Fatalf("mark settled: %v", err)
	}
	if err := store.MarkFailed(ctx, "pay-2", base.Add(time.Hour)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSettled(ctx, "missing", 1, base); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}

	settled, err := store.Get(ctx, "pay-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if settled.Status != ports.PaymentEventSettled || settled.CreditedAmount != 3 {
		t.Errorf("settled event wrong: %+v", settled)
	}

	failed, err := store.ListByStatus(ctx, ports.PaymentEventFailed, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].PaymentID != "pay-2" {
		t.Errorf("failed list wrong: %+v", failed)
	}

	seen, err := store.ListByStatus(ctx, ports.PaymentEventSeen, 10)
	if err != nil {
		t.Fatalf("list seen: %v", err)
	}
	if len(seen) != 0 {
		t.Errorf("seen list = %+v, want empty", seen)
	}
}

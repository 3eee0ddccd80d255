package settlement_test

import (
	"errors"
	"testing"

	"github.com/torresproject/creditd/domain/settlement"
)

func amount(v int64) *int64 { return &v }

func TestConfirmationValidate(t *testing.T) {
	valid := settlement.Confirmation{PaymentID: "pay-1", AccountID: "a1"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid confirmation rejected: %v", err)
	}

	if err := (settlement.Confirmation{AccountID: "a1"}).Validate(); err == nil {
		t.Error("expected error for missing payment id")
	}
	if err := (settlement.Confirmation{PaymentID: "pay-1"}).Validate(); err == nil {
		t.Error("expected error for missing account id")
	}
	if err := (settlement.Confirmation{PaymentID: "  ", AccountID: "a1"}).Validate(); err == nil {
		t.Error("expected error for blank payment id")
	}
}

func TestResolveExplicit(t *testing.T) {
	if got := settlement.ResolveExplicit(settlement.Confirmation{Amount: amount(3)}); got != 3 {
		t.Errorf("explicit amount = %d, want 3", got)
	}
	if got := settlement.ResolveExplicit(settlement.Confirmation{}); got != 0 {
		t.Errorf("absent amount = %d, want 0", got)
	}
	if got := settlement.ResolveExplicit(settlement.Confirmation{Amount: amount(0)}); got != 0 {
		t.Errorf("zero amount = %d, want 0", got)
	}
	if got := settlement.ResolveExplicit(settlement.Confirmation{Amount: amount(-5)}); got != 0 {
		t.Errorf("negative amount = %d, want 0", got)
	}
}

func TestResolveFromItemCode(t *testing.T) {
	packs := settlement.NewPackTable([]settlement.Pack{
		{ItemCode: "credits_3", Credits: 3, PriceCents: 500},
		{ItemCode: "credits_10", Credits: 10, PriceCents: 1500},
		{ItemCode: "broken", Credits: 0},
	})

	got, err := settlement.ResolveFromItemCode("credits_10", packs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != 10 {
		t.Errorf("credits = %d, want 10", got)
	}

	if _, err := settlement.ResolveFromItemCode("unknown", packs); !errors.Is(err, settlement.ErrUnresolvedAmount) {
		t.Errorf("unknown code error = %v, want ErrUnresolvedAmount", err)
	}
	if _, err := settlement.ResolveFromItemCode("broken", packs); !errors.Is(err, settlement.ErrUnresolvedAmount) {
		t.Errorf("zero-credit pack error = %v, want ErrUnresolvedAmount", err)
	}
}

func TestIsOperator(t *testing.T) {
	operators := []string{"admin@example.com", " Ops@Example.com "}

	if !settlement.IsOperator("admin@example.com", operators) {
		t.Error("exact match should be operator")
	}
	if !settlement.IsOperator("OPS@example.com", operators) {
		t.Error("match should be case-insensitive")
	}
	if settlement.IsOperator("user@example.com", operators) {
		t.Error("non-operator matched")
	}
	if settlement.IsOperator("", operators) {
		t.Error("empty payer must never match")
	}
	if settlement.IsOperator("admin@example.com", nil) {
		t.Error("no operators configured, nothing matches")
	}
}

func TestPaymentReference(t *testing.T) {
	if got := settlement.PaymentReference("123"); got != "payment_123" {
		t.Errorf("reference = %q", got)
	}
}

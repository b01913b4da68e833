package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassifyCashFlow(t *testing.T) {
	cases := []struct {
		kind   CashMovementKind
		amount string
		want   CashFlowDirection
	}{
		{CashMovementKindOpeningDeposit, "10", CashFlowIn},
		{CashMovementKindInflow, "10", CashFlowIn},
		{CashMovementKindSaleCollection, "10", CashFlowIn},
		{CashMovementKindClosingWithdrawal, "10", CashFlowOut},
		{CashMovementKindOutflow, "10", CashFlowOut},
		{CashMovementKindSupplierPayment, "10", CashFlowOut},
		{CashMovementKindAdjustment, "5", CashFlowIn},
		{CashMovementKindAdjustment, "-5", CashFlowOut},
	}
	for _, c := range cases {
		got, err := ClassifyCashFlow(c.kind, decimal.RequireFromString(c.amount))
		if err != nil {
			t.Fatalf("ClassifyCashFlow(%s, %s): %v", c.kind, c.amount, err)
		}
		if got != c.want {
			t.Errorf("ClassifyCashFlow(%s, %s) = %s, want %s", c.kind, c.amount, got, c.want)
		}
	}

	if _, err := ClassifyCashFlow(CashMovementKind("Bogus"), decimal.Zero); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestSignedCashAmount(t *testing.T) {
	cases := []struct {
		kind   CashMovementKind
		amount string
		want   string
	}{
		{CashMovementKindSaleCollection, "25.50", "25.50"},
		{CashMovementKindSupplierPayment, "25.50", "-25.50"},
		{CashMovementKindOutflow, "3", "-3"},
		{CashMovementKindAdjustment, "-1.25", "-1.25"},
		{CashMovementKindAdjustment, "1.25", "1.25"},
	}
	for _, c := range cases {
		got, err := SignedCashAmount(c.kind, decimal.RequireFromString(c.amount))
		if err != nil {
			t.Fatalf("SignedCashAmount(%s, %s): %v", c.kind, c.amount, err)
		}
		if !got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("SignedCashAmount(%s, %s) = %s, want %s", c.kind, c.amount, got, c.want)
		}
	}
}

func TestOrderStateReservable(t *testing.T) {
	reservable := map[OrderState]bool{
		OrderStateDraft:         false,
		OrderStateConfirmed:     true,
		OrderStateInPreparation: true,
		OrderStateReady:         true,
		OrderStateDelivered:     false,
		OrderStateCancelled:     false,
	}
	for state, want := range reservable {
		if got := state.IsReservable(); got != want {
			t.Errorf("%s.IsReservable() = %v, want %v", state, got, want)
		}
	}
}

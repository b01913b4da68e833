package models

import (
	"testing"

	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	zero := decimal.Zero
	paid := decimal.NewFromInt(50)

	allowed := []struct {
		from, to OrderState
		netPaid  decimal.Decimal
	}{
		{OrderStateDraft, OrderStateConfirmed, zero},
		{OrderStateDraft, OrderStateCancelled, zero},
		{OrderStateConfirmed, OrderStateInPreparation, paid},
		{OrderStateConfirmed, OrderStateCancelled, paid},
		{OrderStateInPreparation, OrderStateReady, zero},
		{OrderStateInPreparation, OrderStateCancelled, zero},
		{OrderStateReady, OrderStateDelivered, paid},
		{OrderStateReady, OrderStateCancelled, zero},
		{OrderStateCancelled, OrderStateDraft, zero},
		{OrderStateCancelled, OrderStateConfirmed, paid},
	}
	for _, c := range allowed {
		if err := CanTransition(c.from, c.to, c.netPaid); err != nil {
			t.Errorf("CanTransition(%s -> %s, netPaid=%s) = %v, want nil", c.from, c.to, c.netPaid, err)
		}
	}

	denied := []struct {
		from, to OrderState
		netPaid  decimal.Decimal
	}{
		{OrderStateDraft, OrderStateReady, zero},
		{OrderStateDraft, OrderStateDelivered, zero},
		{OrderStateConfirmed, OrderStateReady, zero},
		{OrderStateDelivered, OrderStateCancelled, zero},
		{OrderStateDelivered, OrderStateDraft, zero},
		// skipping a stage
		{OrderStateConfirmed, OrderStateDelivered, paid},
		// re-activation targets depend on held funds
		{OrderStateCancelled, OrderStateDraft, paid},
		{OrderStateCancelled, OrderStateConfirmed, zero},
	}
	for _, c := range denied {
		err := CanTransition(c.from, c.to, c.netPaid)
		if err == nil {
			t.Errorf("CanTransition(%s -> %s, netPaid=%s) = nil, want InvalidTransition", c.from, c.to, c.netPaid)
			continue
		}
		if !utils.IsConflict(err, utils.ConflictInvalidTransition) {
			t.Errorf("CanTransition(%s -> %s) returned %v, want InvalidTransition conflict", c.from, c.to, err)
		}
	}
}

func TestCheckCollection(t *testing.T) {
	total := decimal.NewFromInt(100)
	sums := PaymentSums{Collected: decimal.NewFromInt(70), Refunded: decimal.NewFromInt(10)}

	// net paid 60, room 40
	if err := CheckCollection(total, sums, decimal.NewFromInt(40)); err != nil {
		t.Errorf("collection filling the room exactly should pass: %v", err)
	}
	err := CheckCollection(total, sums, decimal.NewFromInt(41))
	if err == nil {
		t.Fatal("collection past the total should fail")
	}
	conflict, ok := utils.AsConflict(err)
	if !ok || conflict.Kind != utils.ConflictPaymentExceedsTotal {
		t.Fatalf("got %v, want PaymentExceedsTotal", err)
	}
	if !conflict.Available.Equal(decimal.NewFromInt(40)) || !conflict.Requested.Equal(decimal.NewFromInt(41)) {
		t.Errorf("conflict carries available=%s requested=%s, want 40/41", conflict.Available, conflict.Requested)
	}
}

func TestCheckRefund(t *testing.T) {
	sums := PaymentSums{Collected: decimal.NewFromInt(80), Refunded: decimal.NewFromInt(30)}

	// net paid 50
	if err := CheckRefund(sums, decimal.NewFromInt(50), nil); err != nil {
		t.Errorf("refund of the full net paid should pass: %v", err)
	}
	err := CheckRefund(sums, decimal.NewFromInt(51), nil)
	if !utils.IsConflict(err, utils.ConflictRefundExceedsCollected) {
		t.Errorf("refund past net paid returned %v, want RefundExceedsCollected", err)
	}

	// linked refund is capped by the collection's unrefunded remainder
	remainder := decimal.NewFromInt(20)
	if err := CheckRefund(sums, decimal.NewFromInt(20), &remainder); err != nil {
		t.Errorf("linked refund within remainder should pass: %v", err)
	}
	err = CheckRefund(sums, decimal.NewFromInt(21), &remainder)
	if !utils.IsConflict(err, utils.ConflictRefundExceedsCollected) {
		t.Errorf("linked refund past remainder returned %v, want RefundExceedsCollected", err)
	}
}

func TestPaymentSumsNetPaid(t *testing.T) {
	sums := PaymentSums{Collected: decimal.NewFromFloat(12.5), Refunded: decimal.NewFromFloat(2.5)}
	if !sums.NetPaid().Equal(decimal.NewFromInt(10)) {
		t.Errorf("NetPaid = %s, want 10", sums.NetPaid())
	}
}

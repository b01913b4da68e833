package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

/* cash ledger */

type CashMovementKind string

const (
	CashMovementKindOpeningDeposit    CashMovementKind = "OpeningDeposit"
	CashMovementKindClosingWithdrawal CashMovementKind = "ClosingWithdrawal"
	CashMovementKindInflow            CashMovementKind = "Inflow"
	CashMovementKindOutflow           CashMovementKind = "Outflow"
	CashMovementKindSaleCollection    CashMovementKind = "SaleCollection"
	CashMovementKindSupplierPayment   CashMovementKind = "SupplierPayment"
	CashMovementKindAdjustment        CashMovementKind = "Adjustment"
)

func (k CashMovementKind) IsValid() bool {
	switch k {
	case CashMovementKindOpeningDeposit, CashMovementKindClosingWithdrawal,
		CashMovementKindInflow, CashMovementKindOutflow,
		CashMovementKindSaleCollection, CashMovementKindSupplierPayment,
		CashMovementKindAdjustment:
		return true
	}
	return false
}

// CashFlowDirection is the tagged result of classifying a movement.
// The balance calculator is the only consumer; no call site re-implements
// the kind switch.
type CashFlowDirection string

const (
	CashFlowIn  CashFlowDirection = "In"
	CashFlowOut CashFlowDirection = "Out"
)

// ClassifyCashFlow maps a movement kind (and, for adjustments, the sign of
// its amount) onto a flow direction.
func ClassifyCashFlow(kind CashMovementKind, amount decimal.Decimal) (CashFlowDirection, error) {
	switch kind {
	case CashMovementKindOpeningDeposit, CashMovementKindInflow, CashMovementKindSaleCollection:
		return CashFlowIn, nil
	case CashMovementKindClosingWithdrawal, CashMovementKindOutflow, CashMovementKindSupplierPayment:
		return CashFlowOut, nil
	case CashMovementKindAdjustment:
		if amount.IsNegative() {
			return CashFlowOut, nil
		}
		return CashFlowIn, nil
	}
	return "", errors.New("invalid cash movement kind")
}

// SignedCashAmount returns the amount with the sign its direction implies.
// Adjustments already carry their own sign.
func SignedCashAmount(kind CashMovementKind, amount decimal.Decimal) (decimal.Decimal, error) {
	if kind == CashMovementKindAdjustment {
		return amount, nil
	}
	direction, err := ClassifyCashFlow(kind, amount)
	if err != nil {
		return decimal.Zero, err
	}
	if direction == CashFlowOut {
		return amount.Neg(), nil
	}
	return amount, nil
}

/* stock ledger */

type InventoryMovementKind string

const (
	InventoryMovementKindInbound    InventoryMovementKind = "Inbound"
	InventoryMovementKindOutbound   InventoryMovementKind = "Outbound"
	InventoryMovementKindAdjustment InventoryMovementKind = "Adjustment"
)

// DocumentReferenceType tags what a ledger movement points back to.
type DocumentReferenceType string

const (
	DocumentReferenceTypeSale            DocumentReferenceType = "SALE"
	DocumentReferenceTypePurchaseReceipt DocumentReferenceType = "PURCHASE"
	DocumentReferenceTypeReturn          DocumentReferenceType = "RETURN"
	DocumentReferenceTypeOrder           DocumentReferenceType = "ORDER"
	DocumentReferenceTypeSession         DocumentReferenceType = "SESSION"
	DocumentReferenceTypeManual          DocumentReferenceType = "MANUAL"
)

/* documents */

type DocumentStatus string

const (
	DocumentStatusRegistered DocumentStatus = "Registered"
	DocumentStatusVoided     DocumentStatus = "Voided"
)

/* customer orders */

type OrderState string

const (
	OrderStateDraft         OrderState = "Draft"
	OrderStateConfirmed     OrderState = "Confirmed"
	OrderStateInPreparation OrderState = "InPreparation"
	OrderStateReady         OrderState = "Ready"
	OrderStateDelivered     OrderState = "Delivered"
	OrderStateCancelled     OrderState = "Cancelled"
)

func (s OrderState) IsValid() bool {
	switch s {
	case OrderStateDraft, OrderStateConfirmed, OrderStateInPreparation,
		OrderStateReady, OrderStateDelivered, OrderStateCancelled:
		return true
	}
	return false
}

func (s OrderState) IsTerminal() bool {
	return s == OrderStateDelivered || s == OrderStateCancelled
}

var reservableOrderStates = []OrderState{OrderStateConfirmed, OrderStateInPreparation, OrderStateReady}

// IsReservable reports whether line quantities are held against availability
// while the order sits in this state.
func (s OrderState) IsReservable() bool {
	switch s {
	case OrderStateConfirmed, OrderStateInPreparation, OrderStateReady:
		return true
	}
	return false
}

// OrderKind distinguishes orders that hold stock from quotes that do not.
type OrderKind string

const (
	OrderKindStandard OrderKind = "Standard"
	OrderKindQuote    OrderKind = "Quote"
)

func (k OrderKind) RequiresReservation() bool {
	return k == OrderKindStandard
}

/* order payments */

type OrderPaymentKind string

const (
	OrderPaymentKindCollection OrderPaymentKind = "Collection"
	OrderPaymentKindRefund     OrderPaymentKind = "Refund"
)

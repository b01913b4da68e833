package workflow_test

import (
	"context"
	"testing"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/models"
	"bitbucket.org/mercavio/retail_backend/utils"
	"bitbucket.org/mercavio/retail_backend/workflow"
	"github.com/shopspring/decimal"
)

func mustBalance(t *testing.T, want string) {
	t.Helper()
	state, err := models.SessionState(context.Background())
	if err != nil {
		t.Fatalf("SessionState: %v", err)
	}
	if !state.Balance.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("session balance = %s, want %s", state.Balance, want)
	}
}

func mustOnHand(t *testing.T, unitId int, want string) {
	t.Helper()
	item, err := models.GetStockItem(context.Background(), unitId)
	if err != nil {
		t.Fatalf("GetStockItem: %v", err)
	}
	if !item.Quantity.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("on-hand = %s, want %s", item.Quantity, want)
	}
}

// A sale and its void are single atomic units across the stock and cash
// ledgers: a failed check leaves no partial postings, and a void replays the
// frozen costs exactly.
func TestSaleLifecycle_AtomicAcrossLedgers(t *testing.T) {
	ctx := setupIntegration(t)
	fx := seedCatalog(t)
	db := config.GetDB()

	if _, err := models.OpenRegisterSession(ctx, &models.NewRegisterSession{
		OpeningFloat: decimal.NewFromInt(100),
		CashierName:  "Test Cashier",
	}); err != nil {
		t.Fatalf("OpenRegisterSession: %v", err)
	}

	receipt, err := workflow.CreatePurchaseReceipt(ctx, &models.NewPurchaseReceipt{
		SupplierId:      fx.Supplier.ID,
		PaymentMethodId: fx.Cash.ID,
		Lines: []models.NewPurchaseReceiptLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(10), UnitCost: decimal.NewFromInt(4)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseReceipt: %v", err)
	}
	mustOnHand(t, fx.Unit.ID, "10")
	mustBalance(t, "60") // 100 float - 40 supplier payment

	item, err := models.GetStockItem(context.Background(), fx.Unit.ID)
	if err != nil {
		t.Fatalf("GetStockItem: %v", err)
	}
	if !item.AverageCost.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("average cost = %s, want 4", item.AverageCost)
	}

	sale, err := workflow.CreateSale(ctx, &models.NewSale{
		ClientId:        fx.Client.ID,
		PaymentMethodId: fx.Cash.ID,
		Lines: []models.NewSaleLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(12)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if sale.SaleNumber == "" {
		t.Fatal("sale has no document number")
	}
	if !sale.Lines[0].UnitCost.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("frozen line cost = %s, want 4", sale.Lines[0].UnitCost)
	}
	mustOnHand(t, fx.Unit.ID, "7")
	mustBalance(t, "96") // 60 + 36 collection

	// an oversell rolls back everything: no sale row, no stock or cash change
	_, err = workflow.CreateSale(ctx, &models.NewSale{
		PaymentMethodId: fx.Cash.ID,
		Lines: []models.NewSaleLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(100), UnitPrice: decimal.NewFromInt(12)},
		},
	})
	if !utils.IsConflict(err, utils.ConflictInsufficientAvailable) {
		t.Fatalf("oversell returned %v, want InsufficientAvailable", err)
	}
	var saleCount int64
	if err := db.Model(&models.Sale{}).Count(&saleCount).Error; err != nil {
		t.Fatalf("count sales: %v", err)
	}
	if saleCount != 1 {
		t.Fatalf("sale count after failed oversell = %d, want 1", saleCount)
	}
	mustOnHand(t, fx.Unit.ID, "7")
	mustBalance(t, "96")

	// the receipt cannot be voided while part of its goods is sold
	_, err = workflow.VoidPurchaseReceipt(ctx, receipt.ID, "wrong supplier")
	if !utils.IsConflict(err, utils.ConflictInsufficientStock) {
		t.Fatalf("void of partially-sold receipt returned %v, want InsufficientStock", err)
	}
	refetched, err := models.GetPurchaseReceipt(ctx, receipt.ID)
	if err != nil {
		t.Fatalf("GetPurchaseReceipt: %v", err)
	}
	if refetched.Status != models.DocumentStatusRegistered {
		t.Fatalf("receipt status after failed void = %s, want Registered", refetched.Status)
	}

	// void restores stock at the frozen cost and pulls the collection back out
	if _, err := workflow.VoidSale(ctx, sale.ID, "customer changed mind"); err != nil {
		t.Fatalf("VoidSale: %v", err)
	}
	mustOnHand(t, fx.Unit.ID, "10")
	mustBalance(t, "60")

	_, err = workflow.VoidSale(ctx, sale.ID, "again")
	if !utils.IsConflict(err, utils.ConflictAlreadyVoided) {
		t.Fatalf("second void returned %v, want AlreadyVoided", err)
	}

	closed, err := models.CloseRegisterSession(ctx, &models.CloseRegisterSessionInput{
		DeclaredClosingAmount: decimal.NewFromInt(61),
	})
	if err != nil {
		t.Fatalf("CloseRegisterSession: %v", err)
	}
	if closed.ClosingDeviation == nil || !closed.ClosingDeviation.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("closing deviation = %v, want 1", closed.ClosingDeviation)
	}

	mismatches, err := workflow.RunReconciliationChecks(ctx)
	if err != nil {
		t.Fatalf("RunReconciliationChecks: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("reconciliation found %d mismatch(es): %+v", len(mismatches), mismatches)
	}
}

// Confirmed orders hold stock: availability shrinks without any physical
// movement, direct sales cannot eat into the held quantity, and cancelling
// frees it again.
func TestOrderReservations_HoldAvailability(t *testing.T) {
	ctx := setupIntegration(t)
	fx := seedCatalog(t)

	if _, err := workflow.CreatePurchaseReceipt(ctx, &models.NewPurchaseReceipt{
		SupplierId:      fx.Supplier.ID,
		PaymentMethodId: fx.Credit.ID,
		Lines: []models.NewPurchaseReceiptLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(10), UnitCost: decimal.NewFromInt(4)},
		},
	}); err != nil {
		t.Fatalf("CreatePurchaseReceipt: %v", err)
	}

	order, err := models.CreateCustomerOrder(ctx, &models.NewCustomerOrder{
		ClientId: fx.Client.ID,
		Lines: []models.NewOrderLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(8), UnitPrice: decimal.NewFromInt(12)},
		},
	})
	if err != nil {
		t.Fatalf("CreateCustomerOrder: %v", err)
	}

	// a draft holds nothing
	available, err := models.AvailableQuantity(ctx, fx.Unit.ID, 0)
	if err != nil {
		t.Fatalf("AvailableQuantity: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("availability with draft order = %s, want 10", available)
	}

	if _, err := workflow.ChangeOrderState(ctx, order.ID, models.OrderStateConfirmed); err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	available, err = models.AvailableQuantity(ctx, fx.Unit.ID, 0)
	if err != nil {
		t.Fatalf("AvailableQuantity: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("availability with confirmed order = %s, want 2", available)
	}
	mustOnHand(t, fx.Unit.ID, "10") // holds are not movements

	// a direct sale cannot take what the order holds
	_, err = workflow.CreateSale(ctx, &models.NewSale{
		PaymentMethodId: fx.Credit.ID,
		Lines: []models.NewSaleLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(5), UnitPrice: decimal.NewFromInt(12)},
		},
	})
	conflict, ok := utils.AsConflict(err)
	if !ok || conflict.Kind != utils.ConflictInsufficientAvailable {
		t.Fatalf("sale into held stock returned %v, want InsufficientAvailable", err)
	}
	if !conflict.Requested.Equal(decimal.NewFromInt(5)) || !conflict.Available.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("conflict carries requested=%s available=%s, want 5/2", conflict.Requested, conflict.Available)
	}

	if _, err := workflow.ChangeOrderState(ctx, order.ID, models.OrderStateCancelled); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if _, err := workflow.CreateSale(ctx, &models.NewSale{
		PaymentMethodId: fx.Credit.ID,
		Lines: []models.NewSaleLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(5), UnitPrice: decimal.NewFromInt(12)},
		},
	}); err != nil {
		t.Fatalf("sale after cancel: %v", err)
	}
	mustOnHand(t, fx.Unit.ID, "5")
}

// Line edits are a Draft-only operation, decided under the same isolation as
// the lifecycle transitions: once an order is Confirmed its reservation rows
// always mirror the lines it was confirmed with.
func TestOrderLineEdit_DraftOnly(t *testing.T) {
	ctx := setupIntegration(t)
	fx := seedCatalog(t)
	db := config.GetDB()

	if _, err := workflow.CreatePurchaseReceipt(ctx, &models.NewPurchaseReceipt{
		SupplierId:      fx.Supplier.ID,
		PaymentMethodId: fx.Credit.ID,
		Lines: []models.NewPurchaseReceiptLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(10), UnitCost: decimal.NewFromInt(4)},
		},
	}); err != nil {
		t.Fatalf("CreatePurchaseReceipt: %v", err)
	}

	order, err := models.CreateCustomerOrder(ctx, &models.NewCustomerOrder{
		ClientId: fx.Client.ID,
		Lines: []models.NewOrderLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(8), UnitPrice: decimal.NewFromInt(12)},
		},
	})
	if err != nil {
		t.Fatalf("CreateCustomerOrder: %v", err)
	}

	// drafts are editable; the replacement drives the totals
	edited, err := models.UpdateCustomerOrderLines(ctx, order.ID, &models.NewCustomerOrder{
		ClientId: fx.Client.ID,
		Lines: []models.NewOrderLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(12)},
		},
	})
	if err != nil {
		t.Fatalf("UpdateCustomerOrderLines: %v", err)
	}
	if !edited.Total.Equal(decimal.NewFromInt(36)) {
		t.Fatalf("total after edit = %s, want 36", edited.Total)
	}

	if _, err := workflow.ChangeOrderState(ctx, order.ID, models.OrderStateConfirmed); err != nil {
		t.Fatalf("confirm order: %v", err)
	}

	_, err = models.UpdateCustomerOrderLines(ctx, order.ID, &models.NewCustomerOrder{
		ClientId: fx.Client.ID,
		Lines: []models.NewOrderLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(9), UnitPrice: decimal.NewFromInt(12)},
		},
	})
	if err == nil {
		t.Fatal("edit of confirmed order succeeded, want refusal")
	}

	// the hold still mirrors the lines the order was confirmed with
	var hold models.Reservation
	if err := db.Where("order_id = ?", order.ID).First(&hold).Error; err != nil {
		t.Fatalf("fetch reservation: %v", err)
	}
	if !hold.Qty.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("reservation qty = %s, want 3", hold.Qty)
	}
}

// Delivery converts holds into physical issues once, and the transition
// table refuses everything after a terminal state.
func TestOrderDelivery_IssuesStockOnce(t *testing.T) {
	ctx := setupIntegration(t)
	fx := seedCatalog(t)

	if _, err := workflow.CreatePurchaseReceipt(ctx, &models.NewPurchaseReceipt{
		SupplierId:      fx.Supplier.ID,
		PaymentMethodId: fx.Credit.ID,
		Lines: []models.NewPurchaseReceiptLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(10), UnitCost: decimal.NewFromInt(4)},
		},
	}); err != nil {
		t.Fatalf("CreatePurchaseReceipt: %v", err)
	}

	order, err := models.CreateCustomerOrder(ctx, &models.NewCustomerOrder{
		Lines: []models.NewOrderLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(4), UnitPrice: decimal.NewFromInt(12)},
		},
	})
	if err != nil {
		t.Fatalf("CreateCustomerOrder: %v", err)
	}

	for _, state := range []models.OrderState{
		models.OrderStateConfirmed,
		models.OrderStateInPreparation,
		models.OrderStateReady,
		models.OrderStateDelivered,
	} {
		if _, err := workflow.ChangeOrderState(ctx, order.ID, state); err != nil {
			t.Fatalf("transition to %s: %v", state, err)
		}
	}
	mustOnHand(t, fx.Unit.ID, "6")

	// delivery released the hold; nothing is double-counted
	available, err := models.AvailableQuantity(ctx, fx.Unit.ID, 0)
	if err != nil {
		t.Fatalf("AvailableQuantity: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("availability after delivery = %s, want 6", available)
	}

	_, err = workflow.ChangeOrderState(ctx, order.ID, models.OrderStateCancelled)
	if !utils.IsConflict(err, utils.ConflictInvalidTransition) {
		t.Fatalf("transition out of Delivered returned %v, want InvalidTransition", err)
	}
}

// Delivery refuses to issue stock when the whole cost fallback chain comes up
// empty, the same way a sale does: nothing moves and the order keeps its state.
func TestOrderDelivery_RejectsUnresolvedCost(t *testing.T) {
	ctx := setupIntegration(t)
	fx := seedCatalog(t)
	db := config.GetDB()

	product := models.Product{Name: "Mystery Box"}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	unit := models.Unit{ProductId: product.ID, Name: "Box", SalePrice: decimal.NewFromInt(15)}
	if err := db.Create(&unit).Error; err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	// on-hand without any priced receipt: the average stays zero
	if _, err := workflow.AdjustStock(ctx, &workflow.StockAdjustmentInput{
		UnitId: unit.ID,
		Qty:    decimal.NewFromInt(5),
		Reason: "initial count",
	}); err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}

	order, err := models.CreateCustomerOrder(ctx, &models.NewCustomerOrder{
		ClientId: fx.Client.ID,
		Lines: []models.NewOrderLine{
			{UnitId: unit.ID, Qty: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(15)},
		},
	})
	if err != nil {
		t.Fatalf("CreateCustomerOrder: %v", err)
	}
	for _, state := range []models.OrderState{
		models.OrderStateConfirmed,
		models.OrderStateInPreparation,
		models.OrderStateReady,
	} {
		if _, err := workflow.ChangeOrderState(ctx, order.ID, state); err != nil {
			t.Fatalf("transition to %s: %v", state, err)
		}
	}

	_, err = workflow.ChangeOrderState(ctx, order.ID, models.OrderStateDelivered)
	if err == nil {
		t.Fatal("delivery with unresolved cost succeeded, want refusal")
	}
	mustOnHand(t, unit.ID, "5")
	kept, err := models.GetCustomerOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetCustomerOrder: %v", err)
	}
	if kept.State != models.OrderStateReady {
		t.Fatalf("order state after refused delivery = %s, want Ready", kept.State)
	}
}

// The payment sub-ledger: collections cap at the total, refunds cap at net
// paid, a cash refund needs drawer cover, and crossing the zero boundary
// moves the order between Draft and Confirmed automatically.
func TestOrderPayments_RefundNeedsDrawerCover(t *testing.T) {
	ctx := setupIntegration(t)
	fx := seedCatalog(t)
	db := config.GetDB()

	if _, err := workflow.CreatePurchaseReceipt(ctx, &models.NewPurchaseReceipt{
		SupplierId:      fx.Supplier.ID,
		PaymentMethodId: fx.Credit.ID,
		Lines: []models.NewPurchaseReceiptLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(10), UnitCost: decimal.NewFromInt(4)},
		},
	}); err != nil {
		t.Fatalf("CreatePurchaseReceipt: %v", err)
	}
	if _, err := models.OpenRegisterSession(ctx, &models.NewRegisterSession{
		OpeningFloat: decimal.NewFromInt(20),
	}); err != nil {
		t.Fatalf("OpenRegisterSession: %v", err)
	}

	order, err := models.CreateCustomerOrder(ctx, &models.NewCustomerOrder{
		ClientId: fx.Client.ID,
		Lines: []models.NewOrderLine{
			{UnitId: fx.Unit.ID, Qty: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(12)},
		},
	})
	if err != nil {
		t.Fatalf("CreateCustomerOrder: %v", err)
	}
	// order total 24

	_, err = workflow.AddOrderPayment(ctx, order.ID, &workflow.OrderPaymentInput{
		Amount:          decimal.NewFromInt(25),
		PaymentMethodId: fx.Cash.ID,
	})
	if !utils.IsConflict(err, utils.ConflictPaymentExceedsTotal) {
		t.Fatalf("overpayment returned %v, want PaymentExceedsTotal", err)
	}

	if _, err := workflow.AddOrderPayment(ctx, order.ID, &workflow.OrderPaymentInput{
		Amount:          decimal.NewFromInt(24),
		PaymentMethodId: fx.Cash.ID,
	}); err != nil {
		t.Fatalf("AddOrderPayment: %v", err)
	}
	mustBalance(t, "44") // 20 float + 24 collection

	// the first collection confirmed the order and created its hold
	confirmed, err := models.GetCustomerOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetCustomerOrder: %v", err)
	}
	if confirmed.State != models.OrderStateConfirmed {
		t.Fatalf("order state after first collection = %s, want Confirmed", confirmed.State)
	}
	var holds int64
	if err := db.Model(&models.Reservation{}).Where("order_id = ?", order.ID).Count(&holds).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if holds != 1 {
		t.Fatalf("reservation count = %d, want 1", holds)
	}

	// drain the drawer below the refund amount
	if _, err := models.RecordCashMovement(ctx, nil, &models.NewCashMovement{
		Kind:   models.CashMovementKindOutflow,
		Amount: decimal.NewFromInt(40),
		Memo:   "bank drop",
	}); err != nil {
		t.Fatalf("RecordCashMovement: %v", err)
	}
	mustBalance(t, "4")

	// a cash refund without drawer cover fails whole: no payment row either
	_, err = workflow.AddOrderRefund(ctx, order.ID, &workflow.OrderRefundInput{
		Amount:          decimal.NewFromInt(24),
		PaymentMethodId: fx.Cash.ID,
	})
	if !utils.IsConflict(err, utils.ConflictInsufficientFunds) {
		t.Fatalf("uncovered refund returned %v, want InsufficientFunds", err)
	}
	var refunds int64
	if err := db.Model(&models.OrderPayment{}).
		Where("order_id = ? AND kind = ?", order.ID, models.OrderPaymentKindRefund).
		Count(&refunds).Error; err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if refunds != 0 {
		t.Fatalf("refund rows after failed refund = %d, want 0", refunds)
	}
	mustBalance(t, "4")

	// top the drawer back up, then the refund clears and empties the order
	if _, err := models.RecordCashMovement(ctx, nil, &models.NewCashMovement{
		Kind:   models.CashMovementKindInflow,
		Amount: decimal.NewFromInt(40),
		Memo:   "change from bank",
	}); err != nil {
		t.Fatalf("RecordCashMovement: %v", err)
	}
	if _, err := workflow.AddOrderRefund(ctx, order.ID, &workflow.OrderRefundInput{
		Amount:          decimal.NewFromInt(24),
		PaymentMethodId: fx.Cash.ID,
	}); err != nil {
		t.Fatalf("AddOrderRefund: %v", err)
	}
	mustBalance(t, "20")

	drained, err := models.GetCustomerOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetCustomerOrder: %v", err)
	}
	if drained.State != models.OrderStateDraft {
		t.Fatalf("order state after full refund = %s, want Draft", drained.State)
	}
	if err := db.Model(&models.Reservation{}).Where("order_id = ?", order.ID).Count(&holds).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if holds != 0 {
		t.Fatalf("reservation count after full refund = %d, want 0", holds)
	}

	_, err = workflow.AddOrderRefund(ctx, order.ID, &workflow.OrderRefundInput{
		Amount:          decimal.NewFromInt(1),
		PaymentMethodId: fx.Cash.ID,
	})
	if !utils.IsConflict(err, utils.ConflictRefundExceedsCollected) {
		t.Fatalf("refund past net paid returned %v, want RefundExceedsCollected", err)
	}
}

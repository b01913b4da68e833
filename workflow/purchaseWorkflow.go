package workflow

import (
	"context"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/models"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreatePurchaseReceipt registers goods received from a supplier. Stock
// enters at the supplier's line cost and the weighted average is recomputed;
// a drawer-affecting payment leaves the open session in the same transaction,
// so a drawer short on cash blocks the whole receipt.
func CreatePurchaseReceipt(ctx context.Context, input *models.NewPurchaseReceipt) (*models.PurchaseReceipt, error) {
	if err := input.Validate(ctx); err != nil {
		return nil, err
	}
	method, err := models.GetPaymentMethod(ctx, input.PaymentMethodId)
	if err != nil {
		return nil, err
	}
	affectsCash := utils.DereferencePtr(method.AffectsCashLedger)
	actorName, _ := utils.GetActorNameFromContext(ctx)

	db := config.GetDB()
	var receipt *models.PurchaseReceipt
	err = runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		if affectsCash {
			if _, err := models.OpenSessionTx(tx); err != nil {
				return err
			}
		}

		lines := make([]models.PurchaseReceiptLine, 0, len(input.Lines))
		total := decimal.Zero
		for _, l := range input.Lines {
			lineTotal := utils.RoundMoney(l.UnitCost.Mul(l.Qty))
			lines = append(lines, models.PurchaseReceiptLine{
				UnitId:    l.UnitId,
				Qty:       l.Qty,
				UnitCost:  l.UnitCost,
				LineTotal: lineTotal,
			})
			total = total.Add(lineTotal)
		}

		number, err := models.NextDocumentNumber(ctx, tx, models.ModulePurchaseReceipt)
		if err != nil {
			return err
		}
		created := models.PurchaseReceipt{
			ReceiptNumber:    number,
			SupplierId:       input.SupplierId,
			SupplierOrderRef: input.SupplierOrderRef,
			PaymentMethodId:  input.PaymentMethodId,
			Status:           models.DocumentStatusRegistered,
			ReceiptDate:      time.Now().UTC(),
			Total:            total,
			Lines:            lines,
			ActorName:        actorName,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}

		ref := models.StockMutationRef{
			ReferenceType: models.DocumentReferenceTypePurchaseReceipt,
			ReferenceId:   created.ID,
			Memo:          number,
		}
		for _, line := range created.Lines {
			if _, err := models.ApplyInboundStock(ctx, tx, line.UnitId, line.Qty, line.UnitCost, ref); err != nil {
				return err
			}
		}

		if affectsCash && created.Total.IsPositive() {
			_, err := models.RecordCashMovement(ctx, tx, &models.NewCashMovement{
				Kind:          models.CashMovementKindSupplierPayment,
				Amount:        created.Total,
				Memo:          number,
				ReferenceType: models.DocumentReferenceTypePurchaseReceipt,
				ReferenceId:   created.ID,
			})
			if err != nil {
				return err
			}
		}

		receipt = &created
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "purchaseWorkflow.go", "CreatePurchaseReceipt", "runSerializableTx", input, err)
		return nil, err
	}
	logEntry(ctx).WithField("receipt_number", receipt.ReceiptNumber).Info("purchase receipt registered")
	return receipt, nil
}

// VoidPurchaseReceipt reverses a registered receipt: the received quantities
// leave stock at the original line cost. If part of the goods was already
// sold, the sufficiency check fails the void instead of driving stock
// negative. A drawer-affecting payment flows back into the open session.
func VoidPurchaseReceipt(ctx context.Context, id int, reason string) (*models.PurchaseReceipt, error) {
	db := config.GetDB()
	var receipt *models.PurchaseReceipt
	err := runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		fetched, err := utils.FetchModelTx[models.PurchaseReceipt](tx, id, "Lines")
		if err != nil {
			return err
		}
		if fetched.Status == models.DocumentStatusVoided {
			return utils.NewAlreadyVoided()
		}

		ref := models.StockMutationRef{
			ReferenceType: models.DocumentReferenceTypePurchaseReceipt,
			ReferenceId:   fetched.ID,
			Memo:          "void " + fetched.ReceiptNumber,
		}
		for _, line := range fetched.Lines {
			if _, err := models.ApplyOutboundStockAtCost(ctx, tx, line.UnitId, line.Qty, line.UnitCost, ref); err != nil {
				return err
			}
		}

		method, err := models.GetPaymentMethod(ctx, fetched.PaymentMethodId)
		if err != nil {
			return err
		}
		if utils.DereferencePtr(method.AffectsCashLedger) && fetched.Total.IsPositive() {
			_, err := models.RecordCashMovement(ctx, tx, &models.NewCashMovement{
				Kind:          models.CashMovementKindInflow,
				Amount:        fetched.Total,
				Memo:          "void " + fetched.ReceiptNumber,
				ReferenceType: models.DocumentReferenceTypePurchaseReceipt,
				ReferenceId:   fetched.ID,
			})
			if err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(fetched).Updates(map[string]interface{}{
			"Status":     models.DocumentStatusVoided,
			"VoidedAt":   &now,
			"VoidReason": reason,
		}).Error; err != nil {
			return err
		}
		receipt = fetched
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "purchaseWorkflow.go", "VoidPurchaseReceipt", "runSerializableTx", id, err)
		return nil, err
	}
	logEntry(ctx).WithField("receipt_number", receipt.ReceiptNumber).Info("purchase receipt voided")
	return receipt, nil
}

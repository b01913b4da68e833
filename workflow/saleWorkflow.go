package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/models"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreateSale registers a point-of-sale transaction: cost snapshots frozen,
// stock issued, and (for drawer-affecting payment methods) the collection
// posted to the open session, all in one serializable transaction. Any
// failed check rolls back every posting.
func CreateSale(ctx context.Context, input *models.NewSale) (*models.Sale, error) {
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
	var sale *models.Sale
	err = runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		sessionId := 0
		if affectsCash {
			session, err := models.OpenSessionTx(tx)
			if err != nil {
				return err
			}
			sessionId = session.ID
		}

		// freeze costs and verify availability before touching any ledger
		lines := make([]models.SaleLine, 0, len(input.Lines))
		subtotal := decimal.Zero
		discount := decimal.Zero
		neededByUnit := make(map[int]decimal.Decimal, len(input.Lines))
		for _, l := range input.Lines {
			unit, err := utils.FetchModelTx[models.Unit](tx, l.UnitId)
			if err != nil {
				return err
			}
			item, err := models.StockItemTx(tx, l.UnitId)
			if err != nil {
				return err
			}
			cost, err := models.UnitCostFallback(ctx, item.AverageCost, unit)
			if err != nil {
				return err
			}
			if cost.IsZero() && !config.AllowZeroCostSnapshot() {
				return fmt.Errorf("no cost could be resolved for unit %d", l.UnitId)
			}
			gross := utils.RoundMoney(l.UnitPrice.Mul(l.Qty))
			lineDiscount := utils.RoundMoney(gross.Mul(l.DiscountPct).Div(decimal.NewFromInt(100)))
			lines = append(lines, models.SaleLine{
				UnitId:      l.UnitId,
				Qty:         l.Qty,
				UnitPrice:   utils.RoundMoney(l.UnitPrice),
				DiscountPct: l.DiscountPct,
				UnitCost:    cost,
				LineTotal:   gross.Sub(lineDiscount),
			})
			subtotal = subtotal.Add(gross)
			discount = discount.Add(lineDiscount)
			neededByUnit[l.UnitId] = neededByUnit[l.UnitId].Add(l.Qty)
		}
		for unitId, needed := range neededByUnit {
			available, err := models.AvailableQtyTx(tx, unitId, 0)
			if err != nil {
				return err
			}
			if needed.GreaterThan(available) {
				return utils.NewInsufficientAvailable(unitId, needed, available)
			}
		}

		number, err := models.NextDocumentNumber(ctx, tx, models.ModuleSale)
		if err != nil {
			return err
		}
		created := models.Sale{
			SaleNumber:      number,
			SessionId:       sessionId,
			ClientId:        input.ClientId,
			PaymentMethodId: input.PaymentMethodId,
			Status:          models.DocumentStatusRegistered,
			SaleDate:        time.Now().UTC(),
			Subtotal:        subtotal,
			DiscountAmount:  discount,
			Total:           subtotal.Sub(discount),
			Lines:           lines,
			ActorName:       actorName,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}

		ref := models.StockMutationRef{
			ReferenceType: models.DocumentReferenceTypeSale,
			ReferenceId:   created.ID,
			Memo:          number,
		}
		for _, line := range created.Lines {
			if _, err := models.ApplyOutboundStockAtCost(ctx, tx, line.UnitId, line.Qty, line.UnitCost, ref); err != nil {
				return err
			}
		}

		if affectsCash && created.Total.IsPositive() {
			_, err := models.RecordCashMovement(ctx, tx, &models.NewCashMovement{
				Kind:          models.CashMovementKindSaleCollection,
				Amount:        created.Total,
				Memo:          number,
				ReferenceType: models.DocumentReferenceTypeSale,
				ReferenceId:   created.ID,
			})
			if err != nil {
				return err
			}
		}

		sale = &created
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "saleWorkflow.go", "CreateSale", "runSerializableTx", input, err)
		return nil, err
	}
	logEntry(ctx).WithField("sale_number", sale.SaleNumber).Info("sale registered")
	return sale, nil
}

// VoidSale reverses a registered sale: goods re-enter stock at the line's
// frozen cost (never the current average), and a drawer-affecting collection
// flows back out of the open session. Voiding twice fails AlreadyVoided; a
// drawer without enough cash for the reversal blocks the void.
func VoidSale(ctx context.Context, id int, reason string) (*models.Sale, error) {
	db := config.GetDB()
	var sale *models.Sale
	err := runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		fetched, err := utils.FetchModelTx[models.Sale](tx, id, "Lines")
		if err != nil {
			return err
		}
		if fetched.Status == models.DocumentStatusVoided {
			return utils.NewAlreadyVoided()
		}

		ref := models.StockMutationRef{
			ReferenceType: models.DocumentReferenceTypeSale,
			ReferenceId:   fetched.ID,
			Memo:          "void " + fetched.SaleNumber,
		}
		for _, line := range fetched.Lines {
			if _, err := models.ApplyInboundStock(ctx, tx, line.UnitId, line.Qty, line.UnitCost, ref); err != nil {
				return err
			}
		}

		method, err := models.GetPaymentMethod(ctx, fetched.PaymentMethodId)
		if err != nil {
			return err
		}
		if utils.DereferencePtr(method.AffectsCashLedger) && fetched.Total.IsPositive() {
			_, err := models.RecordCashMovement(ctx, tx, &models.NewCashMovement{
				Kind:          models.CashMovementKindOutflow,
				Amount:        fetched.Total,
				Memo:          "void " + fetched.SaleNumber,
				ReferenceType: models.DocumentReferenceTypeSale,
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
		sale = fetched
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "saleWorkflow.go", "VoidSale", "runSerializableTx", id, err)
		return nil, err
	}
	logEntry(ctx).WithField("sale_number", sale.SaleNumber).Info("sale voided")
	return sale, nil
}

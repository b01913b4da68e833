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

// returnLineCost resolves the cost a returned unit re-enters stock at. A
// return linked to a sale replays the sale line's frozen cost; otherwise the
// usual fallback chain applies (average, then unit default, then product
// default).
func returnLineCost(ctx context.Context, tx *gorm.DB, unitId int, saleLinesByUnit map[int]decimal.Decimal) (decimal.Decimal, error) {
	if cost, ok := saleLinesByUnit[unitId]; ok {
		return cost, nil
	}
	unit, err := utils.FetchModelTx[models.Unit](tx, unitId)
	if err != nil {
		return decimal.Zero, err
	}
	item, err := models.StockItemTx(tx, unitId)
	if err != nil {
		return decimal.Zero, err
	}
	return models.UnitCostFallback(ctx, item.AverageCost, unit)
}

// CreateReturn registers goods a customer brings back: stock re-enters at a
// frozen cost and the refund leaves the open session for drawer-affecting
// payment methods. A drawer short on cash blocks the whole return.
func CreateReturn(ctx context.Context, input *models.NewReturn) (*models.Return, error) {
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
	var ret *models.Return
	err = runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		if affectsCash {
			if _, err := models.OpenSessionTx(tx); err != nil {
				return err
			}
		}

		saleLinesByUnit := make(map[int]decimal.Decimal)
		if input.SaleId != nil {
			sale, err := utils.FetchModelTx[models.Sale](tx, *input.SaleId, "Lines")
			if err != nil {
				return err
			}
			for _, line := range sale.Lines {
				saleLinesByUnit[line.UnitId] = line.UnitCost
			}
		}

		lines := make([]models.ReturnLine, 0, len(input.Lines))
		total := decimal.Zero
		for _, l := range input.Lines {
			cost, err := returnLineCost(ctx, tx, l.UnitId, saleLinesByUnit)
			if err != nil {
				return err
			}
			if cost.IsZero() && !config.AllowZeroCostSnapshot() {
				return fmt.Errorf("no cost could be resolved for unit %d", l.UnitId)
			}
			lineTotal := utils.RoundMoney(l.UnitPrice.Mul(l.Qty))
			lines = append(lines, models.ReturnLine{
				UnitId:    l.UnitId,
				Qty:       l.Qty,
				UnitPrice: utils.RoundMoney(l.UnitPrice),
				UnitCost:  cost,
				LineTotal: lineTotal,
			})
			total = total.Add(lineTotal)
		}

		number, err := models.NextDocumentNumber(ctx, tx, models.ModuleReturn)
		if err != nil {
			return err
		}
		created := models.Return{
			ReturnNumber:    number,
			SaleId:          input.SaleId,
			ClientId:        input.ClientId,
			PaymentMethodId: input.PaymentMethodId,
			Status:          models.DocumentStatusRegistered,
			ReturnDate:      time.Now().UTC(),
			Total:           total,
			Reason:          input.Reason,
			Lines:           lines,
			ActorName:       actorName,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}

		ref := models.StockMutationRef{
			ReferenceType: models.DocumentReferenceTypeReturn,
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
				Kind:          models.CashMovementKindOutflow,
				Amount:        created.Total,
				Memo:          "refund " + number,
				ReferenceType: models.DocumentReferenceTypeReturn,
				ReferenceId:   created.ID,
			})
			if err != nil {
				return err
			}
		}

		ret = &created
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "returnWorkflow.go", "CreateReturn", "runSerializableTx", input, err)
		return nil, err
	}
	logEntry(ctx).WithField("return_number", ret.ReturnNumber).Info("return registered")
	return ret, nil
}

// VoidReturn reverses a registered return: the returned goods leave stock at
// the frozen line cost, and a drawer-affecting refund flows back into the
// open session.
func VoidReturn(ctx context.Context, id int, reason string) (*models.Return, error) {
	db := config.GetDB()
	var ret *models.Return
	err := runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		fetched, err := utils.FetchModelTx[models.Return](tx, id, "Lines")
		if err != nil {
			return err
		}
		if fetched.Status == models.DocumentStatusVoided {
			return utils.NewAlreadyVoided()
		}

		ref := models.StockMutationRef{
			ReferenceType: models.DocumentReferenceTypeReturn,
			ReferenceId:   fetched.ID,
			Memo:          "void " + fetched.ReturnNumber,
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
				Memo:          "void " + fetched.ReturnNumber,
				ReferenceType: models.DocumentReferenceTypeReturn,
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
		ret = fetched
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "returnWorkflow.go", "VoidReturn", "runSerializableTx", id, err)
		return nil, err
	}
	logEntry(ctx).WithField("return_number", ret.ReturnNumber).Info("return voided")
	return ret, nil
}

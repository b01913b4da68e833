package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/models"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ChangeOrderState moves an order through its lifecycle. The transition check
// and every entry action (reservation sync, release, stock issue on delivery)
// run in one serializable transaction: a failed action rolls the state change
// back too.
func ChangeOrderState(ctx context.Context, orderId int, target models.OrderState) (*models.CustomerOrder, error) {
	if !target.IsValid() {
		return nil, errors.New("invalid order state")
	}

	db := config.GetDB()
	var order *models.CustomerOrder
	err := runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		fetched, err := utils.FetchModelTx[models.CustomerOrder](tx, orderId, "Lines")
		if err != nil {
			return err
		}
		sums, err := models.OrderPaymentSumsTx(tx, fetched.ID)
		if err != nil {
			return err
		}
		if err := models.CanTransition(fetched.State, target, sums.NetPaid()); err != nil {
			return err
		}

		previous := fetched.State
		fetched.State = target
		updates := map[string]interface{}{"State": target}

		switch {
		case target == models.OrderStateDelivered:
			// holds convert into real stock issues
			if err := models.ReleaseOrderReservationsTx(tx, fetched.ID); err != nil {
				return err
			}
			if err := issueOrderStock(ctx, tx, fetched); err != nil {
				return err
			}
			now := time.Now().UTC()
			fetched.DeliveredAt = &now
			updates["DeliveredAt"] = &now
		case target == models.OrderStateCancelled, target == models.OrderStateDraft:
			if err := models.ReleaseOrderReservationsTx(tx, fetched.ID); err != nil {
				return err
			}
		case target.IsReservable():
			if err := models.SyncOrderReservationsTx(tx, fetched); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.CustomerOrder{}).Where("id = ?", fetched.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		order = fetched

		logEntry(ctx).WithFields(map[string]interface{}{
			"order_number": fetched.OrderNumber,
			"from":         previous,
			"to":           target,
		}).Info("order state changed")
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "orderWorkflow.go", "ChangeOrderState", "runSerializableTx", orderId, err)
		return nil, err
	}
	return order, nil
}

// issueOrderStock debits every line at a cost resolved through the fallback
// chain, frozen into the inventory movement.
func issueOrderStock(ctx context.Context, tx *gorm.DB, order *models.CustomerOrder) error {
	ref := models.StockMutationRef{
		ReferenceType: models.DocumentReferenceTypeOrder,
		ReferenceId:   order.ID,
		Memo:          order.OrderNumber,
	}
	for _, line := range order.Lines {
		unit, err := utils.FetchModelTx[models.Unit](tx, line.UnitId)
		if err != nil {
			return err
		}
		item, err := models.StockItemTx(tx, line.UnitId)
		if err != nil {
			return err
		}
		cost, err := models.UnitCostFallback(ctx, item.AverageCost, unit)
		if err != nil {
			return err
		}
		if cost.IsZero() && !config.AllowZeroCostSnapshot() {
			return fmt.Errorf("no cost could be resolved for unit %d", line.UnitId)
		}
		if _, err := models.ApplyOutboundStockAtCost(ctx, tx, line.UnitId, line.Qty, cost, ref); err != nil {
			return err
		}
	}
	return nil
}

type OrderPaymentInput struct {
	Amount           decimal.Decimal `json:"amount" binding:"required"`
	PaymentMethodId  int             `json:"payment_method_id" binding:"required"`
	PaymentReference string          `json:"payment_reference"`
	Memo             string          `json:"memo"`
}

type OrderRefundInput struct {
	Amount            decimal.Decimal `json:"amount" binding:"required"`
	PaymentMethodId   int             `json:"payment_method_id" binding:"required"`
	RefundOfPaymentId *int            `json:"refund_of_payment_id"`
	Memo              string          `json:"memo"`
}

// AddOrderPayment records a collection against an order. Collections never
// push net paid past the order total. The first collection on a Draft order
// confirms it, which creates its reservations; if the stock is no longer
// available the whole payment aborts.
func AddOrderPayment(ctx context.Context, orderId int, input *OrderPaymentInput) (*models.OrderPayment, error) {
	if !input.Amount.IsPositive() {
		return nil, errors.New("payment amount must be positive")
	}
	method, err := models.GetPaymentMethod(ctx, input.PaymentMethodId)
	if err != nil {
		return nil, err
	}
	if utils.DereferencePtr(method.RequiresReference) && input.PaymentReference == "" {
		return nil, errors.New("payment method requires a reference")
	}
	affectsCash := utils.DereferencePtr(method.AffectsCashLedger)
	actorName, _ := utils.GetActorNameFromContext(ctx)
	amount := utils.RoundMoney(input.Amount)

	db := config.GetDB()
	var payment *models.OrderPayment
	err = runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		order, err := utils.FetchModelTx[models.CustomerOrder](tx, orderId, "Lines")
		if err != nil {
			return err
		}
		if order.State == models.OrderStateCancelled {
			return errors.New("cancelled orders do not take payments")
		}

		sums, err := models.OrderPaymentSumsTx(tx, order.ID)
		if err != nil {
			return err
		}
		if err := models.CheckCollection(order.Total, sums, amount); err != nil {
			return err
		}

		created := models.OrderPayment{
			OrderId:          order.ID,
			Kind:             models.OrderPaymentKindCollection,
			Amount:           amount,
			PaymentMethodId:  input.PaymentMethodId,
			PaymentReference: input.PaymentReference,
			Memo:             input.Memo,
			ActorName:        actorName,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}

		if affectsCash {
			_, err := models.RecordCashMovement(ctx, tx, &models.NewCashMovement{
				Kind:          models.CashMovementKindSaleCollection,
				Amount:        amount,
				Memo:          "collection " + order.OrderNumber,
				ReferenceType: models.DocumentReferenceTypeOrder,
				ReferenceId:   order.ID,
			})
			if err != nil {
				return err
			}
		}

		// taking money commits the order
		if order.State == models.OrderStateDraft {
			order.State = models.OrderStateConfirmed
			if err := models.SyncOrderReservationsTx(tx, order); err != nil {
				return err
			}
			if err := tx.Model(&models.CustomerOrder{}).Where("id = ?", order.ID).
				Update("state", models.OrderStateConfirmed).Error; err != nil {
				return err
			}
		}

		payment = &created
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "orderWorkflow.go", "AddOrderPayment", "runSerializableTx", orderId, err)
		return nil, err
	}
	return payment, nil
}

// AddOrderRefund records a refund against an order. A refund never exceeds
// net paid, and a refund linked to one collection never exceeds that
// collection's unrefunded remainder. When a refund empties a Confirmed order
// it falls back to Draft and its reservations are released.
func AddOrderRefund(ctx context.Context, orderId int, input *OrderRefundInput) (*models.OrderPayment, error) {
	if !input.Amount.IsPositive() {
		return nil, errors.New("refund amount must be positive")
	}
	method, err := models.GetPaymentMethod(ctx, input.PaymentMethodId)
	if err != nil {
		return nil, err
	}
	affectsCash := utils.DereferencePtr(method.AffectsCashLedger)
	actorName, _ := utils.GetActorNameFromContext(ctx)
	amount := utils.RoundMoney(input.Amount)

	db := config.GetDB()
	var payment *models.OrderPayment
	err = runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		order, err := utils.FetchModelTx[models.CustomerOrder](tx, orderId)
		if err != nil {
			return err
		}

		sums, err := models.OrderPaymentSumsTx(tx, order.ID)
		if err != nil {
			return err
		}
		var linkedRemainder *decimal.Decimal
		if input.RefundOfPaymentId != nil {
			remainder, err := models.CollectionRemainderTx(tx, order.ID, *input.RefundOfPaymentId)
			if err != nil {
				return err
			}
			linkedRemainder = &remainder
		}
		if err := models.CheckRefund(sums, amount, linkedRemainder); err != nil {
			return err
		}

		created := models.OrderPayment{
			OrderId:           order.ID,
			Kind:              models.OrderPaymentKindRefund,
			Amount:            amount,
			PaymentMethodId:   input.PaymentMethodId,
			RefundOfPaymentId: input.RefundOfPaymentId,
			Memo:              input.Memo,
			ActorName:         actorName,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}

		if affectsCash {
			_, err := models.RecordCashMovement(ctx, tx, &models.NewCashMovement{
				Kind:          models.CashMovementKindOutflow,
				Amount:        amount,
				Memo:          "refund " + order.OrderNumber,
				ReferenceType: models.DocumentReferenceTypeOrder,
				ReferenceId:   order.ID,
			})
			if err != nil {
				return err
			}
		}

		// a fully refunded Confirmed order no longer holds its stock
		if order.State == models.OrderStateConfirmed && !sums.NetPaid().Sub(amount).IsPositive() {
			if err := models.ReleaseOrderReservationsTx(tx, order.ID); err != nil {
				return err
			}
			if err := tx.Model(&models.CustomerOrder{}).Where("id = ?", order.ID).
				Update("state", models.OrderStateDraft).Error; err != nil {
				return err
			}
		}

		payment = &created
		return nil
	})
	if err != nil {
		config.LogError(config.GetLogger(), "orderWorkflow.go", "AddOrderRefund", "runSerializableTx", orderId, err)
		return nil, err
	}
	return payment, nil
}

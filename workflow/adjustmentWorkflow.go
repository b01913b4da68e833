package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StockAdjustmentInput struct {
	UnitId int             `json:"unit_id" binding:"required"`
	Qty    decimal.Decimal `json:"qty" binding:"required"`
	Reason string          `json:"reason" binding:"required"`
}

// AdjustStock applies a signed manual correction to one unit's stock. The
// resulting quantity may not go negative.
func AdjustStock(ctx context.Context, input *StockAdjustmentInput) (*models.InventoryMovement, error) {
	if input.Qty.IsZero() {
		return nil, errors.New("adjustment qty cannot be zero")
	}
	if input.Reason == "" {
		return nil, errors.New("adjustment requires a reason")
	}

	db := config.GetDB()
	var movement *models.InventoryMovement
	err := runSerializableTx(ctx, db, func(tx *gorm.DB) error {
		var err error
		movement, err = models.ApplyStockAdjustment(ctx, tx, input.UnitId, input.Qty, input.Reason)
		return err
	})
	if err != nil {
		config.LogError(config.GetLogger(), "adjustmentWorkflow.go", "AdjustStock", "runSerializableTx", input, err)
		return nil, err
	}
	logEntry(ctx).WithFields(map[string]interface{}{
		"unit_id": input.UnitId,
		"qty":     input.Qty,
	}).Info("stock adjusted")
	return movement, nil
}

package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockItem carries the on-hand quantity and weighted average cost of one
// unit. One row per unit; the quantity must always equal the signed sum of
// the unit's InventoryMovement history (checked by the reconciliation job).
type StockItem struct {
	ID               int              `gorm:"primary_key" json:"id"`
	UnitId           int              `gorm:"uniqueIndex;not null" json:"unit_id"`
	Quantity         decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	MinimumThreshold *decimal.Decimal `gorm:"type:decimal(20,4)" json:"minimum_threshold"`
	AverageCost      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"average_cost"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// InventoryMovement is the append-only audit trail of the stock ledger.
type InventoryMovement struct {
	ID            int                   `gorm:"primary_key" json:"id"`
	MovementDate  time.Time             `gorm:"not null;index" json:"movement_date"`
	UnitId        int                   `gorm:"index;not null" json:"unit_id"`
	Kind          InventoryMovementKind `gorm:"size:20;not null" json:"kind"`
	Qty           decimal.Decimal       `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCost      *decimal.Decimal      `gorm:"type:decimal(20,4)" json:"unit_cost"`
	ReferenceType DocumentReferenceType `gorm:"size:20;index" json:"reference_type"`
	ReferenceId   int                   `gorm:"index" json:"reference_id"`
	Memo          string                `gorm:"size:255" json:"memo"`
	ActorName     string                `gorm:"size:100" json:"actor_name"`
	CreatedAt     time.Time             `gorm:"autoCreateTime" json:"created_at"`
}

// NextAverageCost recomputes the weighted average after an inbound movement.
// Outbound movements never touch the average.
func NextAverageCost(oldQty, oldAvg, inQty, inCost decimal.Decimal) decimal.Decimal {
	newQty := oldQty.Add(inQty)
	if !newQty.IsPositive() {
		return oldAvg
	}
	totalValue := oldAvg.Mul(oldQty).Add(inCost.Mul(inQty))
	return totalValue.DivRound(newQty, 4)
}

// stockItemForUpdateTx fetches (or creates) the unit's stock row, locked for
// the remainder of the caller's transaction.
func stockItemForUpdateTx(tx *gorm.DB, unitId int) (*StockItem, error) {
	var item StockItem
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("unit_id = ?", unitId).First(&item).Error
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	item = StockItem{UnitId: unitId, Quantity: decimal.Zero, AverageCost: decimal.Zero}
	if err := tx.Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

type StockMutationRef struct {
	ReferenceType DocumentReferenceType
	ReferenceId   int
	Memo          string
}

// ApplyInboundStock receives qty at unitCost: quantity grows and the weighted
// average is recomputed. Must run inside the caller's transaction together
// with any paired cash movement.
func ApplyInboundStock(ctx context.Context, tx *gorm.DB, unitId int, qty, unitCost decimal.Decimal, ref StockMutationRef) (*InventoryMovement, error) {
	if !qty.IsPositive() {
		return nil, errors.New("inbound qty must be positive")
	}
	if unitCost.IsNegative() {
		return nil, errors.New("unit cost cannot be negative")
	}

	item, err := stockItemForUpdateTx(tx, unitId)
	if err != nil {
		return nil, err
	}

	newAvg := NextAverageCost(item.Quantity, item.AverageCost, qty, unitCost)
	if err := tx.Model(item).Updates(map[string]interface{}{
		"Quantity":    item.Quantity.Add(qty),
		"AverageCost": newAvg,
	}).Error; err != nil {
		return nil, err
	}

	return appendInventoryMovement(ctx, tx, unitId, InventoryMovementKindInbound, qty, &unitCost, ref)
}

// ApplyOutboundStockAtCost removes qty at a caller-supplied cost, frozen into
// the returned movement; the average itself is not recomputed. The charge is
// resolved outside the ledger (the fallback chain, or a void replaying a
// document's original frozen cost). Fails InsufficientStock when qty exceeds
// on-hand.
func ApplyOutboundStockAtCost(ctx context.Context, tx *gorm.DB, unitId int, qty, frozenCost decimal.Decimal, ref StockMutationRef) (*InventoryMovement, error) {
	if !qty.IsPositive() {
		return nil, errors.New("outbound qty must be positive")
	}

	item, err := stockItemForUpdateTx(tx, unitId)
	if err != nil {
		return nil, err
	}
	if qty.GreaterThan(item.Quantity) {
		return nil, utils.NewInsufficientStock(unitId, qty, item.Quantity)
	}
	if err := tx.Model(item).Updates(map[string]interface{}{
		"Quantity": item.Quantity.Sub(qty),
	}).Error; err != nil {
		return nil, err
	}
	return appendInventoryMovement(ctx, tx, unitId, InventoryMovementKindOutbound, qty.Neg(), &frozenCost, ref)
}

// ApplyStockAdjustment applies a signed correction. Positive quantities enter
// at the current average cost (the average is unchanged); negative ones
// follow the outbound rules. Resulting quantity must stay >= 0.
func ApplyStockAdjustment(ctx context.Context, tx *gorm.DB, unitId int, signedQty decimal.Decimal, reason string) (*InventoryMovement, error) {
	if signedQty.IsZero() {
		return nil, errors.New("adjustment qty cannot be zero")
	}

	item, err := stockItemForUpdateTx(tx, unitId)
	if err != nil {
		return nil, err
	}
	newQty := item.Quantity.Add(signedQty)
	if newQty.IsNegative() {
		return nil, utils.NewInsufficientStock(unitId, signedQty.Abs(), item.Quantity)
	}
	if err := tx.Model(item).Updates(map[string]interface{}{
		"Quantity": newQty,
	}).Error; err != nil {
		return nil, err
	}

	cost := item.AverageCost
	ref := StockMutationRef{ReferenceType: DocumentReferenceTypeManual, Memo: reason}
	return appendInventoryMovement(ctx, tx, unitId, InventoryMovementKindAdjustment, signedQty, &cost, ref)
}

func appendInventoryMovement(ctx context.Context, tx *gorm.DB, unitId int, kind InventoryMovementKind, signedQty decimal.Decimal, unitCost *decimal.Decimal, ref StockMutationRef) (*InventoryMovement, error) {
	actorName, _ := utils.GetActorNameFromContext(ctx)
	movement := InventoryMovement{
		MovementDate:  time.Now().UTC(),
		UnitId:        unitId,
		Kind:          kind,
		Qty:           signedQty,
		UnitCost:      unitCost,
		ReferenceType: ref.ReferenceType,
		ReferenceId:   ref.ReferenceId,
		Memo:          ref.Memo,
		ActorName:     actorName,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

// StockItemTx returns the unit's stock row as the caller's transaction sees
// it, or a zero-quantity view when the unit has never moved.
func StockItemTx(tx *gorm.DB, unitId int) (*StockItem, error) {
	var item StockItem
	err := tx.Where("unit_id = ?", unitId).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &StockItem{UnitId: unitId, Quantity: decimal.Zero, AverageCost: decimal.Zero}, nil
		}
		return nil, err
	}
	return &item, nil
}

// GetStockItem is the display-facing read of a unit's stock row.
func GetStockItem(ctx context.Context, unitId int) (*StockItem, error) {
	db := config.GetDB()
	return StockItemTx(db.WithContext(ctx), unitId)
}

// UnitMovements lists a unit's inventory ledger, oldest first.
func UnitMovements(ctx context.Context, unitId int) ([]*InventoryMovement, error) {
	db := config.GetDB()
	var movements []*InventoryMovement
	err := db.WithContext(ctx).
		Where("unit_id = ?", unitId).
		Order("movement_date, id").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

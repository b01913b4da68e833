package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reservation holds a quantity of one unit for one in-flight order. Owned by
// the order: created/replaced when the order enters a reservable state,
// deleted when it leaves one.
type Reservation struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"not null;uniqueIndex:idx_order_unit" json:"order_id"`
	UnitId    int             `gorm:"not null;uniqueIndex:idx_order_unit;index" json:"unit_id"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// reservedQtyTx sums reservations held against a unit by orders currently in
// a reservable state, optionally excluding one order.
func reservedQtyTx(tx *gorm.DB, unitId int, excludeOrderId int) (decimal.Decimal, error) {
	var reserved decimal.Decimal
	q := tx.Model(&Reservation{}).
		Joins("JOIN customer_orders ON customer_orders.id = reservations.order_id").
		Where("reservations.unit_id = ?", unitId).
		Where("customer_orders.state IN ?", reservableOrderStates)
	if excludeOrderId > 0 {
		q = q.Where("reservations.order_id <> ?", excludeOrderId)
	}
	err := q.Select("COALESCE(SUM(reservations.qty), 0)").Scan(&reserved).Error
	if err != nil {
		return decimal.Zero, err
	}
	return reserved, nil
}

// AvailableQtyTx computes availability = on-hand - reserved inside the
// caller's transaction. excludeOrderId lets an order see past its own holds
// while being edited.
func AvailableQtyTx(tx *gorm.DB, unitId int, excludeOrderId int) (decimal.Decimal, error) {
	var item StockItem
	onHand := decimal.Zero
	err := tx.Where("unit_id = ?", unitId).First(&item).Error
	if err == nil {
		onHand = item.Quantity
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, err
	}

	reserved, err := reservedQtyTx(tx, unitId, excludeOrderId)
	if err != nil {
		return decimal.Zero, err
	}
	return onHand.Sub(reserved), nil
}

// AvailableQuantity is the display-facing availability query. It runs at
// default isolation and may be stale; decisions that mutate stock re-check
// inside their own serializable transaction.
func AvailableQuantity(ctx context.Context, unitId int, excludeOrderId int) (decimal.Decimal, error) {
	db := config.GetDB()
	return AvailableQtyTx(db.WithContext(ctx), unitId, excludeOrderId)
}

type UnitAvailability struct {
	UnitId    int             `json:"unit_id"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
}

// AvailableQuantities batches availability for display.
func AvailableQuantities(ctx context.Context, unitIds []int) ([]*UnitAvailability, error) {
	db := config.GetDB()
	unitIds = utils.UniqueSlice(unitIds)
	results := make([]*UnitAvailability, 0, len(unitIds))
	for _, unitId := range unitIds {
		item, err := GetStockItem(ctx, unitId)
		if err != nil {
			return nil, err
		}
		reserved, err := reservedQtyTx(db.WithContext(ctx), unitId, 0)
		if err != nil {
			return nil, err
		}
		results = append(results, &UnitAvailability{
			UnitId:    unitId,
			OnHand:    item.Quantity,
			Reserved:  reserved,
			Available: item.Quantity.Sub(reserved),
		})
	}
	return results, nil
}

// SyncOrderReservationsTx makes the order's reservation rows match its lines
// exactly. Availability is checked per line with the order's own prior hold
// added back; any shortfall aborts with InsufficientAvailable and leaves all
// rows untouched (the surrounding transaction rolls back the triggering
// state change too).
func SyncOrderReservationsTx(tx *gorm.DB, order *CustomerOrder) error {
	if !order.Kind.RequiresReservation() || !order.State.IsReservable() {
		return nil
	}

	var existing []Reservation
	if err := tx.Where("order_id = ?", order.ID).Find(&existing).Error; err != nil {
		return err
	}
	priorByUnit := make(map[int]Reservation, len(existing))
	for _, r := range existing {
		priorByUnit[r.UnitId] = r
	}

	// fail fast: validate every line before touching any row
	neededByUnit := make(map[int]decimal.Decimal, len(order.Lines))
	for _, line := range order.Lines {
		neededByUnit[line.UnitId] = neededByUnit[line.UnitId].Add(line.Qty)
	}
	for unitId, needed := range neededByUnit {
		available, err := AvailableQtyTx(tx, unitId, order.ID)
		if err != nil {
			return err
		}
		if needed.GreaterThan(available) {
			return utils.NewInsufficientAvailable(unitId, needed, available)
		}
	}

	for unitId, needed := range neededByUnit {
		if prior, ok := priorByUnit[unitId]; ok {
			if !prior.Qty.Equal(needed) {
				if err := tx.Model(&Reservation{}).Where("id = ?", prior.ID).
					Update("qty", needed).Error; err != nil {
					return err
				}
			}
			delete(priorByUnit, unitId)
			continue
		}
		if err := tx.Create(&Reservation{OrderId: order.ID, UnitId: unitId, Qty: needed}).Error; err != nil {
			return err
		}
	}
	// whatever remains no longer appears on the order
	for _, stale := range priorByUnit {
		if err := tx.Delete(&Reservation{}, stale.ID).Error; err != nil {
			return err
		}
	}
	return nil
}

// ReleaseOrderReservationsTx drops every hold the order owns.
func ReleaseOrderReservationsTx(tx *gorm.DB, orderId int) error {
	return tx.Where("order_id = ?", orderId).Delete(&Reservation{}).Error
}

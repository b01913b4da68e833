package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
)

// PurchaseReceipt records goods received from a supplier. Line costs come
// from the caller (the supplier's invoice), not from the ledger.
type PurchaseReceipt struct {
	ID               int                   `gorm:"primary_key" json:"id"`
	ReceiptNumber    string                `gorm:"size:30;uniqueIndex" json:"receipt_number"`
	SupplierId       int                   `gorm:"index;not null" json:"supplier_id"`
	SupplierOrderRef string                `gorm:"size:100" json:"supplier_order_ref"`
	PaymentMethodId  int                   `gorm:"not null" json:"payment_method_id"`
	Status           DocumentStatus        `gorm:"size:20;not null;default:Registered" json:"status"`
	ReceiptDate      time.Time             `gorm:"not null;index" json:"receipt_date"`
	Total            decimal.Decimal       `gorm:"type:decimal(20,2);default:0" json:"total"`
	Lines            []PurchaseReceiptLine `gorm:"foreignKey:ReceiptId" json:"lines"`
	VoidedAt         *time.Time            `json:"voided_at"`
	VoidReason       string                `gorm:"size:255" json:"void_reason"`
	ActorName        string                `gorm:"size:100" json:"actor_name"`
	CreatedAt        time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseReceiptLine struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ReceiptId int             `gorm:"index;not null" json:"receipt_id"`
	UnitId    int             `gorm:"index;not null" json:"unit_id"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	// UnitCost is the supplier cost frozen at creation.
	UnitCost  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	LineTotal decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"line_total"`
}

type NewPurchaseReceiptLine struct {
	UnitId   int             `json:"unit_id" binding:"required"`
	Qty      decimal.Decimal `json:"qty" binding:"required"`
	UnitCost decimal.Decimal `json:"unit_cost" binding:"required"`
}

type NewPurchaseReceipt struct {
	SupplierId       int                      `json:"supplier_id" binding:"required"`
	SupplierOrderRef string                   `json:"supplier_order_ref"`
	PaymentMethodId  int                      `json:"payment_method_id" binding:"required"`
	Lines            []NewPurchaseReceiptLine `json:"lines" binding:"required,dive"`
}

func (input *NewPurchaseReceipt) Validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if len(input.Lines) == 0 {
		return errors.New("receipt requires at least one line")
	}
	unitIds := make([]int, 0, len(input.Lines))
	for _, line := range input.Lines {
		if !line.Qty.IsPositive() {
			return errors.New("line qty must be positive")
		}
		if line.UnitCost.IsNegative() {
			return errors.New("line cost cannot be negative")
		}
		unitIds = append(unitIds, line.UnitId)
	}
	if err := utils.ValidateResourcesId[Unit](ctx, unitIds); err != nil {
		return errors.New("unit not found")
	}
	if err := utils.ValidateResourceId[Supplier](ctx, input.SupplierId); err != nil {
		return errors.New("supplier not found")
	}
	if _, err := GetPaymentMethod(ctx, input.PaymentMethodId); err != nil {
		return errors.New("payment method not found")
	}
	return nil
}

func GetPurchaseReceipt(ctx context.Context, id int) (*PurchaseReceipt, error) {
	return utils.FetchModel[PurchaseReceipt](ctx, id, "Lines")
}

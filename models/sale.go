package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
)

// Sale is a direct point-of-sale transaction. Lines freeze the unit cost in
// force at creation; voiding replays those frozen costs.
type Sale struct {
	ID              int             `gorm:"primary_key" json:"id"`
	SaleNumber      string          `gorm:"size:30;uniqueIndex" json:"sale_number"`
	SessionId       int             `gorm:"index" json:"session_id"`
	ClientId        int             `gorm:"index" json:"client_id"`
	PaymentMethodId int             `gorm:"not null" json:"payment_method_id"`
	Status          DocumentStatus  `gorm:"size:20;not null;default:Registered" json:"status"`
	SaleDate        time.Time       `gorm:"not null;index" json:"sale_date"`
	Subtotal        decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"subtotal"`
	DiscountAmount  decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"discount_amount"`
	Total           decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total"`
	Lines           []SaleLine      `gorm:"foreignKey:SaleId" json:"lines"`
	VoidedAt        *time.Time      `json:"voided_at"`
	VoidReason      string          `gorm:"size:255" json:"void_reason"`
	ActorName       string          `gorm:"size:100" json:"actor_name"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type SaleLine struct {
	ID          int             `gorm:"primary_key" json:"id"`
	SaleId      int             `gorm:"index;not null" json:"sale_id"`
	UnitId      int             `gorm:"index;not null" json:"unit_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"unit_price"`
	DiscountPct decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"discount_pct"`
	// UnitCost is the snapshot frozen at creation, immune to later
	// average-cost drift.
	UnitCost  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	LineTotal decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"line_total"`
}

type NewSaleLine struct {
	UnitId      int             `json:"unit_id" binding:"required"`
	Qty         decimal.Decimal `json:"qty" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price" binding:"required"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
}

type NewSale struct {
	ClientId         int           `json:"client_id"`
	PaymentMethodId  int           `json:"payment_method_id" binding:"required"`
	PaymentReference string        `json:"payment_reference"`
	Lines            []NewSaleLine `json:"lines" binding:"required,dive"`
}

// Validate rejects malformed input before any transaction starts.
func (input *NewSale) Validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if len(input.Lines) == 0 {
		return errors.New("sale requires at least one line")
	}
	unitIds := make([]int, 0, len(input.Lines))
	for _, line := range input.Lines {
		if !line.Qty.IsPositive() {
			return errors.New("line qty must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return errors.New("line price cannot be negative")
		}
		if line.DiscountPct.IsNegative() || line.DiscountPct.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("line discount must be between 0 and 100")
		}
		unitIds = append(unitIds, line.UnitId)
	}
	if err := utils.ValidateResourcesId[Unit](ctx, unitIds); err != nil {
		return errors.New("unit not found")
	}
	method, err := GetPaymentMethod(ctx, input.PaymentMethodId)
	if err != nil {
		return errors.New("payment method not found")
	}
	if utils.DereferencePtr(method.RequiresReference) && input.PaymentReference == "" {
		return errors.New("payment method requires a reference")
	}
	if input.ClientId != 0 {
		if err := utils.ValidateResourceId[Client](ctx, input.ClientId); err != nil {
			return errors.New("client not found")
		}
	}
	return nil
}

func GetSale(ctx context.Context, id int) (*Sale, error) {
	return utils.FetchModel[Sale](ctx, id, "Lines")
}

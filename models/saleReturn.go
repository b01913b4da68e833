package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
)

// Return records a customer bringing goods back: stock re-enters at a frozen
// cost and the refund may leave the cash drawer.
type Return struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ReturnNumber    string          `gorm:"size:30;uniqueIndex" json:"return_number"`
	SaleId          *int            `gorm:"index" json:"sale_id"`
	ClientId        int             `gorm:"index" json:"client_id"`
	PaymentMethodId int             `gorm:"not null" json:"payment_method_id"`
	Status          DocumentStatus  `gorm:"size:20;not null;default:Registered" json:"status"`
	ReturnDate      time.Time       `gorm:"not null;index" json:"return_date"`
	Total           decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total"`
	Reason          string          `gorm:"size:255" json:"reason"`
	Lines           []ReturnLine    `gorm:"foreignKey:ReturnId" json:"lines"`
	VoidedAt        *time.Time      `json:"voided_at"`
	VoidReason      string          `gorm:"size:255" json:"void_reason"`
	ActorName       string          `gorm:"size:100" json:"actor_name"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReturnLine struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ReturnId  int             `gorm:"index;not null" json:"return_id"`
	UnitId    int             `gorm:"index;not null" json:"unit_id"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"unit_price"`
	// UnitCost is the snapshot frozen at creation; the void replays it.
	UnitCost  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	LineTotal decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"line_total"`
}

type NewReturnLine struct {
	UnitId    int             `json:"unit_id" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"required"`
}

type NewReturn struct {
	SaleId          *int            `json:"sale_id"`
	ClientId        int             `json:"client_id"`
	PaymentMethodId int             `json:"payment_method_id" binding:"required"`
	Reason          string          `json:"reason"`
	Lines           []NewReturnLine `json:"lines" binding:"required,dive"`
}

func (input *NewReturn) Validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if len(input.Lines) == 0 {
		return errors.New("return requires at least one line")
	}
	unitIds := make([]int, 0, len(input.Lines))
	for _, line := range input.Lines {
		if !line.Qty.IsPositive() {
			return errors.New("line qty must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return errors.New("line price cannot be negative")
		}
		unitIds = append(unitIds, line.UnitId)
	}
	if err := utils.ValidateResourcesId[Unit](ctx, unitIds); err != nil {
		return errors.New("unit not found")
	}
	if input.SaleId != nil {
		if err := utils.ValidateResourceId[Sale](ctx, *input.SaleId); err != nil {
			return errors.New("sale not found")
		}
	}
	if input.ClientId != 0 {
		if err := utils.ValidateResourceId[Client](ctx, input.ClientId); err != nil {
			return errors.New("client not found")
		}
	}
	if _, err := GetPaymentMethod(ctx, input.PaymentMethodId); err != nil {
		return errors.New("payment method not found")
	}
	return nil
}

func GetReturn(ctx context.Context, id int) (*Return, error) {
	return utils.FetchModel[Return](ctx, id, "Lines")
}

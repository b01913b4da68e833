package models

import (
	"context"
	"strconv"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
)

// Master data consumed read-only by the ledgers and orchestrators.
// CRUD over these tables lives outside this service.

type Product struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Name        string          `gorm:"size:100;not null" json:"name"`
	DefaultCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"default_cost"`
	IsActive    *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Unit is a sellable presentation of a product; stock and reservations are
// tracked at this granularity.
type Unit struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	Name        string          `gorm:"size:100;not null" json:"name"`
	Barcode     string          `gorm:"size:64;index" json:"barcode"`
	SalePrice   decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"sale_price"`
	DefaultCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"default_cost"`
	IsActive    *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type PaymentMethod struct {
	ID                int       `gorm:"primary_key" json:"id"`
	Name              string    `gorm:"size:100;not null" json:"name"`
	RequiresReference *bool     `gorm:"not null;default:false" json:"requires_reference"`
	AffectsCashLedger *bool     `gorm:"not null;default:false" json:"affects_cash_ledger"`
	IsCredit          *bool     `gorm:"not null;default:false" json:"is_credit"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Client struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Phone     string    `gorm:"size:30" json:"phone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Supplier struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Phone     string    `gorm:"size:30" json:"phone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetUnit(ctx context.Context, id int) (*Unit, error) {
	return utils.FetchModel[Unit](ctx, id)
}

// ListPaymentMethods returns the full method catalog for POS clients.
func ListPaymentMethods(ctx context.Context) ([]*PaymentMethod, error) {
	return utils.FetchAllModels[PaymentMethod](ctx)
}

func GetPaymentMethod(ctx context.Context, id int) (*PaymentMethod, error) {
	method := PaymentMethod{}
	// method catalog is tiny and hot; cache per id
	redisKey := "paymentMethod:" + strconv.Itoa(id)
	exists, err := config.GetRedisObject(redisKey, &method)
	if err == nil && exists {
		return &method, nil
	}
	fetched, err := utils.FetchModel[PaymentMethod](ctx, id)
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(redisKey, fetched, time.Hour)
	return fetched, nil
}

// UnitCostFallback resolves the cost snapshot chain for a unit:
// weighted average -> unit default -> product default. Returns zero when the
// whole chain is empty; the caller decides whether that is an error.
func UnitCostFallback(ctx context.Context, averageCost decimal.Decimal, unit *Unit) (decimal.Decimal, error) {
	if averageCost.IsPositive() {
		return averageCost, nil
	}
	if unit.DefaultCost.IsPositive() {
		return unit.DefaultCost, nil
	}
	product, err := utils.FetchModel[Product](ctx, unit.ProductId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return product.DefaultCost, nil
}

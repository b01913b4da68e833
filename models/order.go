package models

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CustomerOrder struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrderNumber    string          `gorm:"size:30;uniqueIndex" json:"order_number"`
	ClientId       int             `gorm:"index" json:"client_id"`
	Kind           OrderKind       `gorm:"size:20;not null;default:Standard" json:"kind"`
	State          OrderState      `gorm:"size:20;not null;index;default:Draft" json:"state"`
	OrderDate      time.Time       `gorm:"not null" json:"order_date"`
	Notes          string          `gorm:"size:255" json:"notes"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"subtotal"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"discount_amount"`
	Total          decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total"`
	Lines          []OrderLine     `gorm:"foreignKey:OrderId" json:"lines"`
	Payments       []OrderPayment  `gorm:"foreignKey:OrderId" json:"payments"`
	DeliveredAt    *time.Time      `json:"delivered_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderLine struct {
	ID          int             `gorm:"primary_key" json:"id"`
	OrderId     int             `gorm:"index;not null" json:"order_id"`
	UnitId      int             `gorm:"index;not null" json:"unit_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"unit_price"`
	DiscountPct decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"discount_pct"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"line_total"`
}

// OrderPayment is an append-only payment event. Collections and refunds both
// carry positive amounts; refunds are flagged and may link back to the
// collection they undo.
type OrderPayment struct {
	ID                int              `gorm:"primary_key" json:"id"`
	OrderId           int              `gorm:"index;not null" json:"order_id"`
	Kind              OrderPaymentKind `gorm:"size:20;not null" json:"kind"`
	Amount            decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"amount"`
	PaymentMethodId   int              `gorm:"not null" json:"payment_method_id"`
	PaymentReference  string           `gorm:"size:100" json:"payment_reference"`
	RefundOfPaymentId *int             `gorm:"index" json:"refund_of_payment_id"`
	Memo              string           `gorm:"size:255" json:"memo"`
	ActorName         string           `gorm:"size:100" json:"actor_name"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

/* transition table */

// orderTransitions is the single authoritative table of allowed state
// changes. Cancelled re-activation is special-cased in CanTransition because
// the target depends on net paid.
var orderTransitions = map[OrderState][]OrderState{
	OrderStateDraft:         {OrderStateConfirmed, OrderStateCancelled},
	OrderStateConfirmed:     {OrderStateInPreparation, OrderStateCancelled},
	OrderStateInPreparation: {OrderStateReady, OrderStateCancelled},
	OrderStateReady:         {OrderStateDelivered, OrderStateCancelled},
	OrderStateDelivered:     {},
	OrderStateCancelled:     {OrderStateDraft, OrderStateConfirmed},
}

// CanTransition validates from -> to given the order's net paid amount.
// From Cancelled: Draft is only reachable when no funds are held, otherwise
// held funds force at least Confirmed.
func CanTransition(from, to OrderState, netPaid decimal.Decimal) error {
	allowed := false
	for _, candidate := range orderTransitions[from] {
		if candidate == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return utils.NewInvalidTransition(string(from), string(to))
	}
	if from == OrderStateCancelled {
		holdsFunds := netPaid.IsPositive()
		if to == OrderStateDraft && holdsFunds {
			return utils.NewInvalidTransition(string(from), string(to))
		}
		if to == OrderStateConfirmed && !holdsFunds {
			return utils.NewInvalidTransition(string(from), string(to))
		}
	}
	return nil
}

/* payment math (pure, fed by loaded sums) */

type PaymentSums struct {
	Collected decimal.Decimal
	Refunded  decimal.Decimal
}

func (p PaymentSums) NetPaid() decimal.Decimal {
	return p.Collected.Sub(p.Refunded)
}

// CheckCollection enforces: collections never push net paid above the order
// total.
func CheckCollection(total decimal.Decimal, sums PaymentSums, amount decimal.Decimal) error {
	room := total.Sub(sums.NetPaid())
	if amount.GreaterThan(room) {
		return utils.NewPaymentExceedsTotal(room, amount)
	}
	return nil
}

// CheckRefund enforces: a refund never exceeds net paid, and a linked refund
// never exceeds its collection's unrefunded remainder.
func CheckRefund(sums PaymentSums, amount decimal.Decimal, linkedRemainder *decimal.Decimal) error {
	if amount.GreaterThan(sums.NetPaid()) {
		return utils.NewRefundExceedsCollected(sums.NetPaid(), amount)
	}
	if linkedRemainder != nil && amount.GreaterThan(*linkedRemainder) {
		return utils.NewRefundExceedsCollected(*linkedRemainder, amount)
	}
	return nil
}

// OrderPaymentSumsTx re-reads the payment ledger inside the caller's
// transaction.
func OrderPaymentSumsTx(tx *gorm.DB, orderId int) (PaymentSums, error) {
	var sums PaymentSums
	err := tx.Model(&OrderPayment{}).
		Where("order_id = ? AND kind = ?", orderId, OrderPaymentKindCollection).
		Select("COALESCE(SUM(amount), 0)").Scan(&sums.Collected).Error
	if err != nil {
		return sums, err
	}
	err = tx.Model(&OrderPayment{}).
		Where("order_id = ? AND kind = ?", orderId, OrderPaymentKindRefund).
		Select("COALESCE(SUM(amount), 0)").Scan(&sums.Refunded).Error
	return sums, err
}

// CollectionRemainderTx returns how much of one collection is still
// unrefunded.
func CollectionRemainderTx(tx *gorm.DB, orderId, collectionId int) (decimal.Decimal, error) {
	var collection OrderPayment
	err := tx.Where("id = ? AND order_id = ? AND kind = ?", collectionId, orderId, OrderPaymentKindCollection).
		First(&collection).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, utils.ErrorRecordNotFound
		}
		return decimal.Zero, err
	}
	var refunded decimal.Decimal
	err = tx.Model(&OrderPayment{}).
		Where("refund_of_payment_id = ? AND kind = ?", collectionId, OrderPaymentKindRefund).
		Select("COALESCE(SUM(amount), 0)").Scan(&refunded).Error
	if err != nil {
		return decimal.Zero, err
	}
	return collection.Amount.Sub(refunded), nil
}

/* order CRUD (Draft only) */

type NewOrderLine struct {
	UnitId      int             `json:"unit_id" binding:"required"`
	Qty         decimal.Decimal `json:"qty" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price" binding:"required"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
}

type NewCustomerOrder struct {
	ClientId int            `json:"client_id"`
	Kind     OrderKind      `json:"kind"`
	Notes    string         `json:"notes"`
	Lines    []NewOrderLine `json:"lines" binding:"required,dive"`
}

func (input *NewCustomerOrder) validate(ctx context.Context) error {
	if len(input.Lines) == 0 {
		return errors.New("order requires at least one line")
	}
	if input.Kind == "" {
		input.Kind = OrderKindStandard
	}
	if input.Kind != OrderKindStandard && input.Kind != OrderKindQuote {
		return errors.New("invalid order kind")
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
	if input.ClientId != 0 {
		if err := utils.ValidateResourceId[Client](ctx, input.ClientId); err != nil {
			return errors.New("client not found")
		}
	}
	return nil
}

func buildOrderLines(input []NewOrderLine) ([]OrderLine, decimal.Decimal, decimal.Decimal) {
	lines := make([]OrderLine, 0, len(input))
	subtotal := decimal.Zero
	discount := decimal.Zero
	for _, l := range input {
		gross := utils.RoundMoney(l.UnitPrice.Mul(l.Qty))
		lineDiscount := utils.RoundMoney(gross.Mul(l.DiscountPct).Div(decimal.NewFromInt(100)))
		lines = append(lines, OrderLine{
			UnitId:      l.UnitId,
			Qty:         l.Qty,
			UnitPrice:   utils.RoundMoney(l.UnitPrice),
			DiscountPct: l.DiscountPct,
			LineTotal:   gross.Sub(lineDiscount),
		})
		subtotal = subtotal.Add(gross)
		discount = discount.Add(lineDiscount)
	}
	return lines, subtotal, discount
}

func CreateCustomerOrder(ctx context.Context, input *NewCustomerOrder) (*CustomerOrder, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	lines, subtotal, discount := buildOrderLines(input.Lines)
	order := CustomerOrder{
		ClientId:       input.ClientId,
		Kind:           input.Kind,
		State:          OrderStateDraft,
		OrderDate:      time.Now().UTC(),
		Notes:          input.Notes,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Total:          subtotal.Sub(discount),
		Lines:          lines,
	}

	db := config.GetDB()
	err := WithDocumentNumber(ctx, db.WithContext(ctx), ModuleOrder, func(tx *gorm.DB, number string) error {
		order.OrderNumber = number
		return tx.Create(&order).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateCustomerOrderLines replaces a Draft order's lines. Confirmed and
// later states are immutable; go through the lifecycle instead.
func UpdateCustomerOrderLines(ctx context.Context, id int, input *NewCustomerOrder) (*CustomerOrder, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	lines, subtotal, discount := buildOrderLines(input.Lines)

	db := config.GetDB()
	var order *CustomerOrder
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fetched, err := utils.FetchModelTx[CustomerOrder](tx, id)
		if err != nil {
			return err
		}
		// state re-checked under serializable isolation: a concurrent
		// Draft->Confirmed would otherwise sync reservations from lines
		// this edit is about to replace
		if fetched.State != OrderStateDraft {
			return errors.New("only draft orders can be edited")
		}
		if err := tx.Where("order_id = ?", fetched.ID).Delete(&OrderLine{}).Error; err != nil {
			return err
		}
		for i := range lines {
			lines[i].OrderId = fetched.ID
		}
		if err := tx.Create(&lines).Error; err != nil {
			return err
		}
		if err := tx.Model(fetched).Updates(map[string]interface{}{
			"ClientId":       input.ClientId,
			"Notes":          input.Notes,
			"Subtotal":       subtotal,
			"DiscountAmount": discount,
			"Total":          subtotal.Sub(discount),
		}).Error; err != nil {
			return err
		}
		order = fetched
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

func GetCustomerOrder(ctx context.Context, id int) (*CustomerOrder, error) {
	return utils.FetchModel[CustomerOrder](ctx, id, "Lines", "Payments")
}

// OrderNetPaid exposes the current net paid amount (display).
func OrderNetPaid(ctx context.Context, orderId int) (decimal.Decimal, error) {
	db := config.GetDB()
	sums, err := OrderPaymentSumsTx(db.WithContext(ctx), orderId)
	if err != nil {
		return decimal.Zero, err
	}
	return sums.NetPaid(), nil
}

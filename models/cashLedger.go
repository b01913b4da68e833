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

// CashMovement is one signed monetary event in a register session's ledger.
// Rows are never updated or deleted; corrections are new movements.
type CashMovement struct {
	ID            int                   `gorm:"primary_key" json:"id"`
	SessionId     int                   `gorm:"index;not null" json:"session_id"`
	MovementDate  time.Time             `gorm:"not null;index" json:"movement_date"`
	Kind          CashMovementKind      `gorm:"size:30;not null;index" json:"kind"`
	Amount        decimal.Decimal       `gorm:"type:decimal(20,2);not null" json:"amount"`
	Memo          string                `gorm:"size:255" json:"memo"`
	ReferenceType DocumentReferenceType `gorm:"size:20;index" json:"reference_type"`
	ReferenceId   int                   `gorm:"index" json:"reference_id"`
	ActorId       int                   `gorm:"index" json:"actor_id"`
	ActorName     string                `gorm:"size:100" json:"actor_name"`
	CreatedAt     time.Time             `gorm:"autoCreateTime" json:"created_at"`
}

type NewCashMovement struct {
	Kind          CashMovementKind      `json:"kind" binding:"required"`
	Amount        decimal.Decimal       `json:"amount" binding:"required"`
	Memo          string                `json:"memo"`
	ReferenceType DocumentReferenceType `json:"reference_type"`
	ReferenceId   int                   `json:"reference_id"`
}

func (input *NewCashMovement) validate() error {
	if !input.Kind.IsValid() {
		return errors.New("invalid cash movement kind")
	}
	if input.Kind == CashMovementKindAdjustment {
		if input.Amount.IsZero() {
			return errors.New("adjustment amount cannot be zero")
		}
		return nil
	}
	if !input.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

// SessionBalanceTx sums the session ledger inside the caller's transaction:
// opening float plus every movement signed by its classification.
func SessionBalanceTx(tx *gorm.DB, session *RegisterSession) (decimal.Decimal, error) {
	var movements []CashMovement
	if err := tx.Where("session_id = ?", session.ID).Find(&movements).Error; err != nil {
		return decimal.Zero, err
	}
	balance := session.OpeningFloat
	for _, m := range movements {
		signed, err := SignedCashAmount(m.Kind, m.Amount)
		if err != nil {
			return decimal.Zero, err
		}
		balance = balance.Add(signed)
	}
	return utils.RoundMoney(balance), nil
}

// RecordCashMovement appends a movement to the open session's ledger.
//
// When tx is non-nil the movement joins the caller's transaction (the caller
// owns isolation and commit). When tx is nil a serializable transaction is
// opened here. Either way the session's movements are re-read and re-summed
// inside that transaction immediately before the sufficiency decision, so two
// concurrent outflows cannot both pass against a stale balance.
func RecordCashMovement(ctx context.Context, tx *gorm.DB, input *NewCashMovement) (*CashMovement, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	if tx != nil {
		return recordCashMovementTx(ctx, tx, input)
	}

	db := config.GetDB()
	var movement *CashMovement
	err := db.WithContext(ctx).Transaction(func(innerTx *gorm.DB) error {
		var err error
		movement, err = recordCashMovementTx(ctx, innerTx, input)
		return err
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func recordCashMovementTx(ctx context.Context, tx *gorm.DB, input *NewCashMovement) (*CashMovement, error) {
	session, err := OpenSessionTx(tx)
	if err != nil {
		return nil, err
	}

	amount := utils.RoundMoney(input.Amount)
	direction, err := ClassifyCashFlow(input.Kind, amount)
	if err != nil {
		return nil, err
	}

	if direction == CashFlowOut {
		balance, err := SessionBalanceTx(tx, session)
		if err != nil {
			return nil, err
		}
		outgoing := amount.Abs()
		if outgoing.GreaterThan(balance) {
			return nil, utils.NewInsufficientFunds(balance, outgoing)
		}
	}

	actorId, _ := utils.GetActorIdFromContext(ctx)
	actorName, _ := utils.GetActorNameFromContext(ctx)
	movement := CashMovement{
		SessionId:     session.ID,
		MovementDate:  time.Now().UTC(),
		Kind:          input.Kind,
		Amount:        amount,
		Memo:          input.Memo,
		ReferenceType: input.ReferenceType,
		ReferenceId:   input.ReferenceId,
		ActorId:       actorId,
		ActorName:     actorName,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

// SessionMovements lists a session's ledger, oldest first. Read-only.
func SessionMovements(ctx context.Context, sessionId int) ([]*CashMovement, error) {
	db := config.GetDB()
	var movements []*CashMovement
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("movement_date, id").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

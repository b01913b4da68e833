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

// RegisterSession is a bounded period accumulating cash movements against one
// running balance. The table is append-only in spirit: rows are opened and
// closed, never deleted. Invariant: at most one row with closed_at IS NULL.
type RegisterSession struct {
	ID                    int              `gorm:"primary_key" json:"id"`
	OpenedAt              time.Time        `gorm:"not null;index" json:"opened_at"`
	ClosedAt              *time.Time       `gorm:"index" json:"closed_at"`
	OpeningFloat          decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"opening_float"`
	DeclaredClosingAmount *decimal.Decimal `gorm:"type:decimal(20,2)" json:"declared_closing_amount"`
	ClosingDeviation      *decimal.Decimal `gorm:"type:decimal(20,2)" json:"closing_deviation"`
	CashierName           string           `gorm:"size:100" json:"cashier_name"`
	CreatedAt             time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRegisterSession struct {
	OpeningFloat decimal.Decimal `json:"opening_float" binding:"required"`
	CashierName  string          `json:"cashier_name"`
}

type CloseRegisterSessionInput struct {
	DeclaredClosingAmount decimal.Decimal `json:"declared_closing_amount" binding:"required"`
}

// RegisterSessionState is the success payload of SessionState.
type RegisterSessionState struct {
	IsOpen       bool            `json:"is_open"`
	SessionId    int             `json:"session_id,omitempty"`
	OpenedAt     *time.Time      `json:"opened_at,omitempty"`
	CashierName  string          `json:"cashier_name,omitempty"`
	OpeningFloat decimal.Decimal `json:"opening_float"`
	Balance      decimal.Decimal `json:"balance"`
}

// OpenSessionTx returns the single open session, visible to the caller's
// transaction. NoOpenSession when none exists.
func OpenSessionTx(tx *gorm.DB) (*RegisterSession, error) {
	var session RegisterSession
	err := tx.Where("closed_at IS NULL").Order("opened_at DESC").First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNoOpenSession()
		}
		return nil, err
	}
	return &session, nil
}

// OpenRegisterSession opens a new session. The "no session already open"
// check runs inside a serializable transaction so two concurrent opens
// cannot both pass it.
func OpenRegisterSession(ctx context.Context, input *NewRegisterSession) (*RegisterSession, error) {
	if input.OpeningFloat.IsNegative() {
		return nil, errors.New("opening float cannot be negative")
	}

	db := config.GetDB()
	session := RegisterSession{
		OpenedAt:     time.Now().UTC(),
		OpeningFloat: utils.RoundMoney(input.OpeningFloat),
		CashierName:  input.CashierName,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var openCount int64
		if err := tx.Model(&RegisterSession{}).Where("closed_at IS NULL").Count(&openCount).Error; err != nil {
			return err
		}
		if openCount > 0 {
			return errors.New("a register session is already open")
		}
		return tx.Create(&session).Error
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CloseRegisterSession seals the open session, recording the declared drawer
// amount and its deviation against the computed balance. Cash left in the
// drawer is not withdrawn automatically; record a ClosingWithdrawal first if
// the drawer is emptied.
func CloseRegisterSession(ctx context.Context, input *CloseRegisterSessionInput) (*RegisterSession, error) {
	if input.DeclaredClosingAmount.IsNegative() {
		return nil, errors.New("declared closing amount cannot be negative")
	}

	db := config.GetDB()
	var closed *RegisterSession
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := OpenSessionTx(tx)
		if err != nil {
			return err
		}
		balance, err := SessionBalanceTx(tx, session)
		if err != nil {
			return err
		}
		declared := utils.RoundMoney(input.DeclaredClosingAmount)
		deviation := utils.RoundMoney(declared.Sub(balance))
		now := time.Now().UTC()
		if err := tx.Model(session).Updates(map[string]interface{}{
			"ClosedAt":              &now,
			"DeclaredClosingAmount": declared,
			"ClosingDeviation":      deviation,
		}).Error; err != nil {
			return err
		}
		closed = session
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// SessionState reports whether a session is open and its current balance.
// Read-only; runs at default isolation and may be stale for display purposes.
func SessionState(ctx context.Context) (*RegisterSessionState, error) {
	db := config.GetDB()
	session, err := OpenSessionTx(db.WithContext(ctx))
	if err != nil {
		if utils.IsConflict(err, utils.ConflictNoOpenSession) {
			return &RegisterSessionState{IsOpen: false, OpeningFloat: decimal.Zero, Balance: decimal.Zero}, nil
		}
		return nil, err
	}
	balance, err := SessionBalanceTx(db.WithContext(ctx), session)
	if err != nil {
		return nil, err
	}
	return &RegisterSessionState{
		IsOpen:       true,
		SessionId:    session.ID,
		OpenedAt:     &session.OpenedAt,
		CashierName:  session.CashierName,
		OpeningFloat: session.OpeningFloat,
		Balance:      balance,
	}, nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationMismatch is one discrepancy found by a reconciliation run:
// a ledger's cached aggregate disagreeing with the sum of its movements.
// Rows are kept for audit; the job never mutates the ledgers it checks.
type ReconciliationMismatch struct {
	ID        int             `gorm:"primary_key" json:"id"`
	RunId     string          `gorm:"size:36;index;not null" json:"run_id"`
	Area      string          `gorm:"size:30;not null" json:"area"`
	EntityId  int             `gorm:"not null" json:"entity_id"`
	Expected  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"expected"`
	Actual    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"actual"`
	Detail    string          `gorm:"size:255" json:"detail"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

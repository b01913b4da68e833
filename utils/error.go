package utils

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// ConflictKind identifies a business-rule conflict. Every kind carries the
// quantities the caller needs to render an actionable message.
type ConflictKind string

const (
	ConflictInsufficientFunds      ConflictKind = "InsufficientFunds"
	ConflictInsufficientStock      ConflictKind = "InsufficientStock"
	ConflictInsufficientAvailable  ConflictKind = "InsufficientAvailable"
	ConflictInvalidTransition      ConflictKind = "InvalidTransition"
	ConflictAlreadyVoided          ConflictKind = "AlreadyVoided"
	ConflictNoOpenSession          ConflictKind = "NoOpenSession"
	ConflictPaymentExceedsTotal    ConflictKind = "PaymentExceedsTotal"
	ConflictRefundExceedsCollected ConflictKind = "RefundExceedsCollected"
)

type ConflictError struct {
	Kind      ConflictKind    `json:"kind"`
	UnitId    int             `json:"unit_id,omitempty"`
	Requested decimal.Decimal `json:"requested,omitempty"`
	Available decimal.Decimal `json:"available,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictInvalidTransition:
		return fmt.Sprintf("%s: %s -> %s", e.Kind, e.From, e.To)
	case ConflictAlreadyVoided, ConflictNoOpenSession:
		return string(e.Kind)
	case ConflictInsufficientStock, ConflictInsufficientAvailable:
		return fmt.Sprintf("%s: unit %d requested %s available %s", e.Kind, e.UnitId, e.Requested, e.Available)
	default:
		return fmt.Sprintf("%s: requested %s available %s", e.Kind, e.Requested, e.Available)
	}
}

func NewInsufficientFunds(available, requested decimal.Decimal) error {
	return &ConflictError{Kind: ConflictInsufficientFunds, Available: available, Requested: requested}
}

func NewInsufficientStock(unitId int, requested, available decimal.Decimal) error {
	return &ConflictError{Kind: ConflictInsufficientStock, UnitId: unitId, Requested: requested, Available: available}
}

func NewInsufficientAvailable(unitId int, requested, available decimal.Decimal) error {
	return &ConflictError{Kind: ConflictInsufficientAvailable, UnitId: unitId, Requested: requested, Available: available}
}

func NewInvalidTransition(from, to string) error {
	return &ConflictError{Kind: ConflictInvalidTransition, From: from, To: to}
}

func NewAlreadyVoided() error {
	return &ConflictError{Kind: ConflictAlreadyVoided}
}

func NewNoOpenSession() error {
	return &ConflictError{Kind: ConflictNoOpenSession}
}

func NewPaymentExceedsTotal(available, requested decimal.Decimal) error {
	return &ConflictError{Kind: ConflictPaymentExceedsTotal, Available: available, Requested: requested}
}

func NewRefundExceedsCollected(available, requested decimal.Decimal) error {
	return &ConflictError{Kind: ConflictRefundExceedsCollected, Available: available, Requested: requested}
}

// IsConflict reports whether err is a business conflict of the given kind.
func IsConflict(err error, kind ConflictKind) bool {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// AsConflict unwraps err into a ConflictError, if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}

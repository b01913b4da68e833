package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ModuleName string

const (
	ModuleSale            ModuleName = "Sale"
	ModulePurchaseReceipt ModuleName = "PurchaseReceipt"
	ModuleReturn          ModuleName = "Return"
	ModuleOrder           ModuleName = "Order"
)

// NumberingSeries drives per-module document numbers: prefix + zero-padded
// counter. The row is locked while a number is taken, so concurrent
// transactions serialize on it; the unique index on each document's number
// column is the final guard, and collisions there are retried.
type NumberingSeries struct {
	ID         int        `gorm:"primary_key" json:"id"`
	ModuleName ModuleName `gorm:"size:30;uniqueIndex;not null" json:"module_name"`
	Prefix     string     `gorm:"size:10;not null" json:"prefix"`
	Padding    int        `gorm:"not null;default:6" json:"padding"`
	LastValue  int64      `gorm:"not null;default:0" json:"last_value"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

var defaultPrefixes = map[ModuleName]string{
	ModuleSale:            "SL",
	ModulePurchaseReceipt: "PR",
	ModuleReturn:          "RT",
	ModuleOrder:           "OR",
}

// getDocumentPrefix resolves the module prefix, redis first then db.
func getDocumentPrefix(ctx context.Context, module ModuleName) (string, int, error) {
	type cachedSeries struct {
		Prefix  string `json:"prefix"`
		Padding int    `json:"padding"`
	}
	prefixes := make(map[ModuleName]cachedSeries)
	redisKey := "docPrefixMap"
	exists, err := config.GetRedisObject(redisKey, &prefixes)
	if err != nil {
		return "", 0, err
	}
	if !exists {
		db := config.GetDB()
		var series []NumberingSeries
		if err := db.WithContext(ctx).Find(&series).Error; err != nil {
			return "", 0, err
		}
		for _, s := range series {
			prefixes[s.ModuleName] = cachedSeries{Prefix: s.Prefix, Padding: s.Padding}
		}
		if err := config.SetRedisObject(redisKey, &prefixes, time.Hour); err != nil {
			return "", 0, err
		}
	}

	if cached, ok := prefixes[module]; ok && cached.Prefix != "" {
		return cached.Prefix, cached.Padding, nil
	}
	return defaultPrefixes[module], 6, nil
}

// NextDocumentNumber takes the next number for a module inside the caller's
// transaction. The series row stays locked until commit.
func NextDocumentNumber(ctx context.Context, tx *gorm.DB, module ModuleName) (string, error) {
	prefix, padding, err := getDocumentPrefix(ctx, module)
	if err != nil {
		return "", err
	}
	if padding <= 0 {
		padding = 6
	}

	var series NumberingSeries
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("module_name = ?", module).First(&series).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		series = NumberingSeries{ModuleName: module, Prefix: prefix, Padding: padding}
		if err := tx.Create(&series).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	next := series.LastValue + 1
	if err := tx.Model(&series).Update("last_value", next).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%0*d", prefix, padding, next), nil
}

// IsDuplicateKeyError reports a unique-index collision (MySQL 1062). Workflow
// transactions treat it as retryable: a fresh candidate number is generated
// on the next attempt.
func IsDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

const documentNumberAttempts = 3

// WithDocumentNumber runs fn in its own transaction with a fresh candidate
// number, retrying a bounded number of times on unique-key collisions before
// surfacing a permanent failure.
func WithDocumentNumber(ctx context.Context, db *gorm.DB, module ModuleName, fn func(tx *gorm.DB, number string) error) error {
	var lastErr error
	for attempt := 0; attempt < documentNumberAttempts; attempt++ {
		lastErr = db.Transaction(func(tx *gorm.DB) error {
			number, err := NextDocumentNumber(ctx, tx, module)
			if err != nil {
				return err
			}
			return fn(tx, number)
		})
		if lastErr == nil {
			return nil
		}
		if !IsDuplicateKeyError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("document numbering exhausted retries: %w", lastErr)
}

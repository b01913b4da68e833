package workflow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/models"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const txAttempts = 3

// logEntry tags workflow log lines with the request's correlation id when the
// call came through the HTTP surface.
func logEntry(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(config.GetLogger())
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		entry = entry.WithField("correlation_id", correlationId)
	}
	return entry
}

// isRetryableTxError reports transient failures worth a fresh attempt:
// deadlock victims (1213), lock wait timeouts (1205) and duplicate-key
// collisions on document numbers. Anything else is surfaced as-is.
func isRetryableTxError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}
	return models.IsDuplicateKeyError(err)
}

// runSerializableTx runs fn inside a serializable transaction, retrying a
// bounded number of times on transient failures. fn must be safe to re-run
// from scratch: every read it bases a decision on happens inside the
// transaction, so a retry sees fresh state (including a fresh document
// number candidate).
func runSerializableTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt < txAttempts; attempt++ {
		lastErr = db.WithContext(ctx).Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if lastErr == nil {
			return nil
		}
		if !isRetryableTxError(lastErr) {
			return lastErr
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return lastErr
}

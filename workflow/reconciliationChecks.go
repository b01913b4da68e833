package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/models"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const reconciliationLockKey = "reconciliation:run"

var ErrReconciliationInFlight = errors.New("a reconciliation run is already in flight")

// RunReconciliationChecks recomputes every cached aggregate from its movement
// history and persists a mismatch row per discrepancy. Read-only with respect
// to the ledgers; intended for a nightly schedule or an admin trigger. At most
// one run at a time, enforced with a redis lock when redis is configured.
func RunReconciliationChecks(ctx context.Context) ([]models.ReconciliationMismatch, error) {
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, reconciliationLockKey, 5*time.Minute, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrReconciliationInFlight
		}
		if err != nil {
			return nil, err
		}
		defer func() { _ = lock.Release(ctx) }()
	}

	db := config.GetDB().WithContext(ctx)
	runId := uuid.NewString()
	mismatches := make([]models.ReconciliationMismatch, 0)

	stockIssues, err := checkStockQuantities(db, runId)
	if err != nil {
		return nil, err
	}
	mismatches = append(mismatches, stockIssues...)

	cashIssues, err := checkSessionBalances(db, runId)
	if err != nil {
		return nil, err
	}
	mismatches = append(mismatches, cashIssues...)

	reservationIssues, err := checkReservationCover(db, runId)
	if err != nil {
		return nil, err
	}
	mismatches = append(mismatches, reservationIssues...)

	if len(mismatches) > 0 {
		if err := db.Create(&mismatches).Error; err != nil {
			return nil, err
		}
	}
	logEntry(ctx).WithFields(logrus.Fields{
		"run_id":     runId,
		"mismatches": len(mismatches),
	}).Info("reconciliation run completed")
	return mismatches, nil
}

// checkStockQuantities verifies each stock row's quantity against the signed
// sum of the unit's movement history.
func checkStockQuantities(db *gorm.DB, runId string) ([]models.ReconciliationMismatch, error) {
	var items []models.StockItem
	if err := db.Find(&items).Error; err != nil {
		return nil, err
	}
	issues := make([]models.ReconciliationMismatch, 0)
	for _, item := range items {
		var movementSum decimal.Decimal
		err := db.Model(&models.InventoryMovement{}).
			Where("unit_id = ?", item.UnitId).
			Select("COALESCE(SUM(qty), 0)").Scan(&movementSum).Error
		if err != nil {
			return nil, err
		}
		if !item.Quantity.Equal(movementSum) {
			issues = append(issues, models.ReconciliationMismatch{
				RunId:    runId,
				Area:     "stock",
				EntityId: item.UnitId,
				Expected: movementSum,
				Actual:   item.Quantity,
				Detail:   "stock quantity diverges from movement history",
			})
		}
	}
	return issues, nil
}

// checkSessionBalances recomputes each session's balance. The open session
// must not be negative; a closed session's stored deviation must match the
// declared amount minus the recomputed balance.
func checkSessionBalances(db *gorm.DB, runId string) ([]models.ReconciliationMismatch, error) {
	var sessions []models.RegisterSession
	if err := db.Find(&sessions).Error; err != nil {
		return nil, err
	}
	issues := make([]models.ReconciliationMismatch, 0)
	for i := range sessions {
		session := sessions[i]
		balance, err := models.SessionBalanceTx(db, &session)
		if err != nil {
			return nil, err
		}
		if session.ClosedAt == nil {
			if balance.IsNegative() {
				issues = append(issues, models.ReconciliationMismatch{
					RunId:    runId,
					Area:     "cash",
					EntityId: session.ID,
					Expected: decimal.Zero,
					Actual:   balance,
					Detail:   "open session balance is negative",
				})
			}
			continue
		}
		if session.DeclaredClosingAmount == nil || session.ClosingDeviation == nil {
			continue
		}
		expectedDeviation := utils.RoundMoney(session.DeclaredClosingAmount.Sub(balance))
		if !utils.SameMoney(*session.ClosingDeviation, expectedDeviation) {
			issues = append(issues, models.ReconciliationMismatch{
				RunId:    runId,
				Area:     "cash",
				EntityId: session.ID,
				Expected: expectedDeviation,
				Actual:   *session.ClosingDeviation,
				Detail:   "closing deviation diverges from movement history",
			})
		}
	}
	return issues, nil
}

// checkReservationCover flags units whose active holds exceed on-hand stock,
// i.e. negative availability.
func checkReservationCover(db *gorm.DB, runId string) ([]models.ReconciliationMismatch, error) {
	var unitIds []int
	err := db.Model(&models.Reservation{}).
		Distinct("unit_id").Pluck("unit_id", &unitIds).Error
	if err != nil {
		return nil, err
	}
	issues := make([]models.ReconciliationMismatch, 0)
	for _, unitId := range unitIds {
		available, err := models.AvailableQtyTx(db, unitId, 0)
		if err != nil {
			return nil, err
		}
		if available.IsNegative() {
			issues = append(issues, models.ReconciliationMismatch{
				RunId:    runId,
				Area:     "reservation",
				EntityId: unitId,
				Expected: decimal.Zero,
				Actual:   available,
				Detail:   "active holds exceed on-hand stock",
			})
		}
	}
	return issues, nil
}

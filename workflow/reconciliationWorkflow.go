package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/models"
	"github.com/openshelf/library_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunReconciliation performs the three idempotent repairs, each safe to run
// any number of times:
//
//  1. history catch-up: every active loan gets its open archive entry;
//  2. orphan availability repair: a title flagged unavailable with no active
//     loan and no outstanding hold goes back on the shelf;
//  3. hold expiry: lapsed holds are expired and the queue moves on.
//
// Repairs only fill gaps left by partial writes; they never contradict a
// decision already recorded by the ledger, mailbox or reservation queue.
// Failures are logged per item and never surface to callers.
func RunReconciliation(ctx context.Context) (correlationId string, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db := config.GetDB()
	if db == nil {
		return "", fmt.Errorf("db is nil")
	}
	logger := config.GetLogger()

	cid, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || cid == "" {
		cid = uuid.NewString()
	}

	repaired := 0
	repaired += catchUpHistory(ctx, db, logger, cid)
	repaired += repairOrphanAvailability(ctx, db, logger, cid)
	repaired += expireLapsedHolds(ctx, db, logger, cid)

	if repaired > 0 {
		models.InvalidateBookListCache()
		logger.WithFields(logrus.Fields{
			"module":         "workflow",
			"correlation_id": cid,
			"repairs":        repaired,
		}).Info("reconciliation repaired drift")
	}
	return cid, nil
}

// catchUpHistory inserts the open archive entry for any active loan that
// lacks one: loans issued before the archive existed, or lost to a crash
// between the ledger write and the archive write.
func catchUpHistory(ctx context.Context, db *gorm.DB, logger *logrus.Logger, cid string) int {
	var loans []*models.LoanRecord
	if err := db.WithContext(ctx).Where("returned_at IS NULL").Find(&loans).Error; err != nil {
		config.LogError(logger, "workflow", "catchUpHistory", "listing active loans", nil, err)
		return 0
	}

	repaired := 0
	for _, loan := range loans {
		loan := loan
		err := db.Transaction(func(tx *gorm.DB) error {
			tx = tx.WithContext(ctx)
			inserted, err := models.EnsureBorrowHistory(tx, loan)
			if err != nil {
				return err
			}
			if !inserted {
				return nil
			}
			repaired++
			return tx.Create(&models.ReconciliationReport{
				CheckType:     "HISTORY_CATCH_UP",
				EntityType:    "LoanRecord",
				EntityId:      loan.ID,
				Details:       "inserted missing open history entry for active loan",
				CorrelationId: cid,
			}).Error
		})
		if err != nil {
			config.LogError(logger, "workflow", "catchUpHistory", "repairing loan", loan.ID, err)
		}
	}
	return repaired
}

// repairOrphanAvailability resets available=true on titles stranded
// unavailable by a crash between checkout's two writes. Titles with an
// outstanding promoted hold are deliberately unavailable and are skipped.
func repairOrphanAvailability(ctx context.Context, db *gorm.DB, logger *logrus.Logger, cid string) int {
	type bookRow struct{ ID int }
	var orphans []bookRow
	err := db.WithContext(ctx).Raw(`
		SELECT b.id
		FROM books b
		WHERE b.available = 0
		  AND NOT EXISTS (SELECT 1 FROM loan_records l WHERE l.book_id = b.id AND l.returned_at IS NULL)
		  AND NOT EXISTS (SELECT 1 FROM reservations r WHERE r.book_id = b.id AND r.status = ?)
	`, models.ReservationStatusAvailable).Scan(&orphans).Error
	if err != nil {
		config.LogError(logger, "workflow", "repairOrphanAvailability", "listing orphaned titles", nil, err)
		return 0
	}

	repaired := 0
	for _, orphan := range orphans {
		orphan := orphan
		err := db.Transaction(func(tx *gorm.DB) error {
			tx = tx.WithContext(ctx)

			var book models.Book
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, orphan.ID).Error; err != nil {
				return err
			}
			// Re-verify under the lock; a checkout may have landed since the scan.
			var activeLoans int64
			if err := tx.Model(&models.LoanRecord{}).
				Where("book_id = ? AND returned_at IS NULL", book.ID).
				Count(&activeLoans).Error; err != nil {
				return err
			}
			var holds int64
			if err := tx.Model(&models.Reservation{}).
				Where("book_id = ? AND status = ?", book.ID, models.ReservationStatusAvailable).
				Count(&holds).Error; err != nil {
				return err
			}
			if book.Available || activeLoans > 0 || holds > 0 {
				return nil
			}

			if err := tx.Model(&models.Book{}).Where("id = ?", book.ID).Update("available", true).Error; err != nil {
				return err
			}
			repaired++
			return tx.Create(&models.ReconciliationReport{
				CheckType:     "ORPHAN_AVAILABILITY",
				EntityType:    "Book",
				EntityId:      book.ID,
				Details:       "reset available flag: no active loan references this title",
				CorrelationId: cid,
			}).Error
		})
		if err != nil {
			config.LogError(logger, "workflow", "repairOrphanAvailability", "repairing title", orphan.ID, err)
		}
	}
	return repaired
}

// expireLapsedHolds finalizes promoted reservations whose pickup window has
// passed, then promotes the next waiter or puts the copy back on the shelf.
func expireLapsedHolds(ctx context.Context, db *gorm.DB, logger *logrus.Logger, cid string) int {
	now := time.Now().UTC()
	var lapsed []*models.Reservation
	err := db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.ReservationStatusAvailable, now).
		Find(&lapsed).Error
	if err != nil {
		config.LogError(logger, "workflow", "expireLapsedHolds", "listing lapsed holds", nil, err)
		return 0
	}

	repaired := 0
	for _, hold := range lapsed {
		hold := hold
		err := db.Transaction(func(tx *gorm.DB) error {
			tx = tx.WithContext(ctx)

			if err := AcquireTitleCirculationLock(tx, hold.BookId); err != nil {
				return err
			}
			defer ReleaseTitleCirculationLock(tx, hold.BookId)

			// Book row before entry row, same order as checkout and cancel.
			// The queue renumber inside ExpireReservationTx must not overlap
			// a position count in Reserve, which locks this same row.
			var book models.Book
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, hold.BookId).Error; err != nil {
				return err
			}

			var current models.Reservation
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, hold.ID).Error; err != nil {
				return err
			}
			// The holder may have checked out or cancelled since the scan.
			if current.Status != models.ReservationStatusAvailable ||
				current.ExpiresAt == nil || current.ExpiresAt.After(now) {
				return nil
			}

			if err := models.ExpireReservationTx(tx, &current); err != nil {
				return err
			}
			repaired++
			return tx.Create(&models.ReconciliationReport{
				CheckType:     "HOLD_EXPIRY",
				EntityType:    "Reservation",
				EntityId:      current.ID,
				Details:       "expired lapsed pickup hold and advanced the queue",
				CorrelationId: cid,
			}).Error
		})
		if err != nil {
			config.LogError(logger, "workflow", "expireLapsedHolds", "expiring hold", hold.ID, err)
		}
	}
	return repaired
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/models"
	"github.com/openshelf/library_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Approve resolves a pending mailbox entry and applies the requested ledger
// operation in the same transaction. A circulation conflict (title taken,
// loan already closed, renewal policy) degrades to a system rejection instead
// of failing the approval; infrastructure errors roll everything back and
// leave the entry pending.
func Approve(ctx context.Context, entryId int, staffId int) (*models.RequestMailboxEntry, error) {
	logger := config.GetLogger()

	if _, err := models.RequireStaff(ctx, staffId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var resolved *models.RequestMailboxEntry
	err := db.Transaction(func(tx *gorm.DB) error {
		tx = tx.WithContext(ctx)

		entry, err := models.LockPendingEntryTx(tx, entryId)
		if err != nil {
			return err
		}

		// Serialize circulation per title across instances.
		if err := AcquireTitleCirculationLock(tx, entry.BookId); err != nil {
			return err
		}
		defer ReleaseTitleCirculationLock(tx, entry.BookId)

		applyErr := applyRequest(tx, entry)
		if applyErr != nil {
			if !isCirculationConflict(applyErr) {
				return applyErr
			}
			reason := "rejected by system: " + applyErr.Error()
			if err := models.ResolveEntryTx(tx, entry, models.RequestStatusRejected, staffId, reason); err != nil {
				return err
			}
			if err := models.CreateNotificationTx(tx, entry.RequesterId, models.NotificationKindRequestRejected, entry.BookId, reason); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"module":   "workflow",
				"entry_id": entry.ID,
				"kind":     entry.Kind,
				"book_id":  entry.BookId,
			}).Warn("approval degraded to rejection: " + applyErr.Error())
			resolved = entry
			return nil
		}

		if err := models.ResolveEntryTx(tx, entry, models.RequestStatusApproved, staffId, ""); err != nil {
			return err
		}
		resolved = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	models.InvalidateBookListCache()
	return resolved, nil
}

// Reject resolves a pending entry without any ledger effect.
func Reject(ctx context.Context, entryId int, staffId int, reason string) (*models.RequestMailboxEntry, error) {
	if _, err := models.RequireStaff(ctx, staffId); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "rejected by staff"
	}

	db := config.GetDB()
	var resolved *models.RequestMailboxEntry
	err := db.Transaction(func(tx *gorm.DB) error {
		tx = tx.WithContext(ctx)
		entry, err := models.LockPendingEntryTx(tx, entryId)
		if err != nil {
			return err
		}
		if err := models.ResolveEntryTx(tx, entry, models.RequestStatusRejected, staffId, reason); err != nil {
			return err
		}
		resolved = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// applyRequest dispatches over the request kind. The switch is exhaustive;
// an unknown kind is a data bug, not a user error.
func applyRequest(tx *gorm.DB, entry *models.RequestMailboxEntry) error {
	switch entry.Kind {
	case models.RequestKindBorrow:
		_, err := models.CheckoutTx(tx, entry.BookId, entry.RequesterId)
		return err
	case models.RequestKindReturn:
		if entry.LoanId == nil {
			return models.ErrInvalidState
		}
		_, err := models.CheckinTx(tx, *entry.LoanId)
		return err
	case models.RequestKindRenew:
		if entry.LoanId == nil {
			return models.ErrInvalidState
		}
		_, err := models.RenewTx(tx, *entry.LoanId, 0)
		return err
	default:
		return fmt.Errorf("unhandled request kind %q", entry.Kind)
	}
}

// isCirculationConflict reports whether the ledger refused the operation for
// a reason staff cannot fix by retrying: the request is stale.
func isCirculationConflict(err error) bool {
	return errors.Is(err, models.ErrAlreadyBorrowed) ||
		errors.Is(err, models.ErrNotActive) ||
		errors.Is(err, models.ErrRenewalDenied) ||
		errors.Is(err, models.ErrInvalidState) ||
		errors.Is(err, utils.ErrorRecordNotFound)
}

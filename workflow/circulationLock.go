package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireTitleCirculationLock serializes approval and repair work per title
// across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB transaction that will do the circulation writes.
func AcquireTitleCirculationLock(tx *gorm.DB, bookId int) error {
	lockName := fmt.Sprintf("circulation:%d", bookId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire circulation lock for book_id=%d", bookId)
	}
	return nil
}

func ReleaseTitleCirculationLock(tx *gorm.DB, bookId int) {
	lockName := fmt.Sprintf("circulation:%d", bookId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

package models

import (
	"context"
	"time"

	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// HistoryEntry is the append-only archive of every loan, independent of the
// live ledger table. Entries are never deleted; a borrow entry is closed in
// place (status + return date + fine) when the loan ends. There is no foreign
// key to loan_records because the archive must tolerate idempotent replay by
// the reconciler.
type HistoryEntry struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BookId     int             `gorm:"index;not null" json:"book_id"`
	UserId     int             `gorm:"index;not null" json:"user_id"`
	Status     HistoryStatus   `gorm:"size:10;not null;index" json:"status"`
	IssuedAt   time.Time       `gorm:"not null" json:"issued_at"`
	DueAt      time.Time       `gorm:"not null" json:"due_at"`
	ReturnedAt *time.Time      `json:"returned_at,omitempty"`
	Fine       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"fine"`
	FinePaid   bool            `gorm:"not null;default:false" json:"fine_paid"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// appendBorrowHistory writes the archive row for a fresh checkout inside the
// caller's transaction.
func appendBorrowHistory(tx *gorm.DB, loan *LoanRecord) error {
	entry := HistoryEntry{
		BookId:   loan.BookId,
		UserId:   loan.UserId,
		Status:   HistoryStatusBorrowed,
		IssuedAt: loan.IssuedAt,
		DueAt:    loan.DueAt,
		Fine:     decimal.Zero,
	}
	return tx.Create(&entry).Error
}

// closeBorrowHistory marks the matching open entry returned and records the
// fine computed at close time. If the open entry is missing (a gap the
// reconciler would otherwise fill later), a returned entry is inserted
// directly so the archive never loses the transaction.
func closeBorrowHistory(tx *gorm.DB, loan *LoanRecord, returnedAt time.Time, fine decimal.Decimal) error {
	var entry HistoryEntry
	err := tx.Where("book_id = ? AND user_id = ? AND status = ?", loan.BookId, loan.UserId, HistoryStatusBorrowed).
		Order("issued_at DESC").
		First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		entry = HistoryEntry{
			BookId:     loan.BookId,
			UserId:     loan.UserId,
			Status:     HistoryStatusReturned,
			IssuedAt:   loan.IssuedAt,
			DueAt:      loan.DueAt,
			ReturnedAt: &returnedAt,
			Fine:       fine,
		}
		return tx.Create(&entry).Error
	}
	if err != nil {
		return err
	}
	return tx.Model(&entry).Updates(map[string]interface{}{
		"status":      HistoryStatusReturned,
		"returned_at": returnedAt,
		"due_at":      loan.DueAt,
		"fine":        fine,
	}).Error
}

// EnsureBorrowHistory inserts the open archive entry for an active loan if it
// is missing. Idempotent: running it any number of times yields exactly one
// open entry per active loan. Returns whether a row was inserted.
func EnsureBorrowHistory(tx *gorm.DB, loan *LoanRecord) (bool, error) {
	var count int64
	err := tx.Model(&HistoryEntry{}).
		Where("book_id = ? AND user_id = ? AND status = ?", loan.BookId, loan.UserId, HistoryStatusBorrowed).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	entry := HistoryEntry{
		BookId:   loan.BookId,
		UserId:   loan.UserId,
		Status:   HistoryStatusBorrowed,
		IssuedAt: loan.IssuedAt,
		DueAt:    loan.DueAt,
		Fine:     decimal.Zero,
	}
	return true, tx.Create(&entry).Error
}

func GetHistoryEntry(ctx context.Context, id int) (*HistoryEntry, error) {
	return utils.FetchSingleModel[HistoryEntry](ctx, id)
}

// ListHistoryForUser returns the user's archive, newest first.
func ListHistoryForUser(ctx context.Context, userId int) ([]*HistoryEntry, error) {
	db := config.GetDB()
	var entries []*HistoryEntry
	err := db.WithContext(ctx).Where("user_id = ?", userId).Order("issued_at DESC").Find(&entries).Error
	return entries, err
}

package models

import (
	"context"
	"time"

	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoanRecord is one row per outstanding checkout. ReturnedAt nil means the
// loan is active. Rows are never hard-deleted; a closed row stays for audit
// and is superseded by its HistoryEntry.
type LoanRecord struct {
	ID         int        `gorm:"primary_key" json:"id"`
	BookId     int        `gorm:"index;not null" json:"book_id"`
	UserId     int        `gorm:"index;not null" json:"user_id"`
	IssuedAt   time.Time  `gorm:"not null" json:"issued_at"`
	DueAt      time.Time  `gorm:"not null;index" json:"due_at"`
	ReturnedAt *time.Time `gorm:"index" json:"returned_at,omitempty"`
	FinePaid   bool       `gorm:"not null;default:false" json:"fine_paid"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (loan *LoanRecord) Active() bool {
	return loan.ReturnedAt == nil
}

// Checkout issues the single copy of a title to a user. Called by the
// approval workflow, never directly by end users.
func Checkout(ctx context.Context, bookId int, userId int) (*LoanRecord, error) {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	loan, err := CheckoutTx(tx, bookId, userId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateBookListCache()
	return loan, nil
}

// CheckoutTx runs the checkout state transition inside the caller's
// transaction. The book row is locked FOR UPDATE so concurrent checkouts of
// the same title serialize and exactly one observes available=true.
//
// A book held for a promoted reservation is unavailable to everyone except
// the holder; checking it out for the holder fulfills the reservation.
func CheckoutTx(tx *gorm.DB, bookId int, userId int) (*LoanRecord, error) {

	var book Book
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, bookId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	var activeLoans int64
	if err := tx.Model(&LoanRecord{}).
		Where("book_id = ? AND returned_at IS NULL", bookId).
		Count(&activeLoans).Error; err != nil {
		return nil, err
	}
	if activeLoans > 0 {
		return nil, ErrAlreadyBorrowed
	}

	if !book.Available {
		// No active loan but flagged unavailable: either a hold for the next
		// waiter, or drift the reconciler has not repaired yet.
		fulfilled, err := fulfillReservationHold(tx, bookId, userId)
		if err != nil {
			return nil, err
		}
		if !fulfilled {
			return nil, ErrAlreadyBorrowed
		}
	}

	now := time.Now().UTC()
	loan := LoanRecord{
		BookId:   bookId,
		UserId:   userId,
		IssuedAt: now,
		DueAt:    now.Add(config.LoanPeriod()),
	}
	if err := tx.Create(&loan).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&Book{}).Where("id = ?", bookId).Update("available", false).Error; err != nil {
		return nil, err
	}
	if err := appendBorrowHistory(tx, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// Checkin closes a loan. The copy becomes available again unless a pending
// reservation exists, in which case the next waiter is promoted and
// availability is held for them.
func Checkin(ctx context.Context, loanId int) (*LoanRecord, error) {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	loan, err := CheckinTx(tx, loanId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateBookListCache()
	return loan, nil
}

func CheckinTx(tx *gorm.DB, loanId int) (*LoanRecord, error) {

	var loan LoanRecord
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&loan, loanId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if !loan.Active() {
		return nil, ErrNotActive
	}

	var book Book
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, loan.BookId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	now := time.Now().UTC()
	if err := tx.Model(&loan).Update("returned_at", now).Error; err != nil {
		return nil, err
	}
	loan.ReturnedAt = &now

	fine := ComputeFine(loan.DueAt, now, config.FineRatePerDay())
	if err := closeBorrowHistory(tx, &loan, now, fine); err != nil {
		return nil, err
	}

	promoted, err := promoteNextReservation(tx, loan.BookId)
	if err != nil {
		return nil, err
	}
	if !promoted {
		if err := tx.Model(&Book{}).Where("id = ?", loan.BookId).Update("available", true).Error; err != nil {
			return nil, err
		}
	}
	return &loan, nil
}

// Renew extends an active loan's due date. Denied once the loan is overdue
// beyond the policy grace.
func Renew(ctx context.Context, loanId int, extension time.Duration) (*LoanRecord, error) {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	loan, err := RenewTx(tx, loanId, extension)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return loan, nil
}

func RenewTx(tx *gorm.DB, loanId int, extension time.Duration) (*LoanRecord, error) {

	if extension <= 0 {
		extension = config.LoanPeriod()
	}

	var loan LoanRecord
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&loan, loanId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if !loan.Active() {
		return nil, ErrNotActive
	}

	now := time.Now().UTC()
	if now.After(loan.DueAt.Add(config.RenewalOverdueGrace())) {
		return nil, ErrRenewalDenied
	}

	newDue := loan.DueAt.Add(extension)
	if err := tx.Model(&loan).Update("due_at", newDue).Error; err != nil {
		return nil, err
	}
	loan.DueAt = newDue

	// Keep the open archive entry's due date in step with the ledger.
	if err := tx.Model(&HistoryEntry{}).
		Where("book_id = ? AND user_id = ? AND status = ?", loan.BookId, loan.UserId, HistoryStatusBorrowed).
		Update("due_at", newDue).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

func GetLoan(ctx context.Context, id int) (*LoanRecord, error) {
	return utils.FetchSingleModel[LoanRecord](ctx, id)
}

// OverdueLoan pairs an active loan with its computed fine for staff
// dashboards.
type OverdueLoan struct {
	Loan LoanRecord      `json:"loan"`
	Fine decimal.Decimal `json:"fine"`
}

// ListOverdue returns all active loans past due with a positive computed
// fine.
func ListOverdue(ctx context.Context) ([]*OverdueLoan, error) {
	db := config.GetDB()
	now := time.Now().UTC()

	var loans []*LoanRecord
	if err := db.WithContext(ctx).
		Where("returned_at IS NULL AND due_at < ?", now).
		Order("due_at ASC").
		Find(&loans).Error; err != nil {
		return nil, err
	}

	rate := config.FineRatePerDay()
	overdue := make([]*OverdueLoan, 0, len(loans))
	for _, loan := range loans {
		fine := ComputeFine(loan.DueAt, now, rate)
		if fine.IsPositive() {
			overdue = append(overdue, &OverdueLoan{Loan: *loan, Fine: fine})
		}
	}
	return overdue, nil
}

// ListActiveLoansForUser returns the user's open checkouts.
func ListActiveLoansForUser(ctx context.Context, userId int) ([]*LoanRecord, error) {
	db := config.GetDB()
	var loans []*LoanRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND returned_at IS NULL", userId).
		Order("due_at ASC").
		Find(&loans).Error
	return loans, err
}

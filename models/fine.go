package models

import (
	"context"
	"time"

	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/utils"
	"github.com/shopspring/decimal"
)

const fineDay = 24 * time.Hour

// ComputeFine returns the amount owed for a loan due at dueAt, measured at
// referenceTime (the return time for closed loans, "now" for active ones).
// Fractional days round up: one minute late owes a full day. Returning at or
// before the due instant owes zero.
func ComputeFine(dueAt time.Time, referenceTime time.Time, ratePerDay decimal.Decimal) decimal.Decimal {
	if !referenceTime.After(dueAt) {
		return decimal.Zero
	}
	overdue := referenceTime.Sub(dueAt)
	days := int64(overdue / fineDay)
	if overdue%fineDay > 0 {
		days++
	}
	return ratePerDay.Mul(decimal.NewFromInt(days))
}

// DaysOverdue is the same ceiling used by ComputeFine, exposed for policy
// checks and dashboards.
func DaysOverdue(dueAt time.Time, referenceTime time.Time) int64 {
	if !referenceTime.After(dueAt) {
		return 0
	}
	overdue := referenceTime.Sub(dueAt)
	days := int64(overdue / fineDay)
	if overdue%fineDay > 0 {
		days++
	}
	return days
}

// ComputeFineForLoan recomputes the fine for a loan on demand. For an active
// loan the reference time is now; for a returned one it is the recorded
// return time, so the amount is stable after checkin.
func ComputeFineForLoan(ctx context.Context, loanId int) (decimal.Decimal, error) {
	loan, err := utils.FetchSingleModel[LoanRecord](ctx, loanId)
	if err != nil {
		return decimal.Zero, err
	}
	ref := time.Now().UTC()
	if loan.ReturnedAt != nil {
		ref = *loan.ReturnedAt
	}
	return ComputeFine(loan.DueAt, ref, config.FineRatePerDay()), nil
}

func ComputeFineForHistory(ctx context.Context, historyId int) (decimal.Decimal, error) {
	entry, err := utils.FetchSingleModel[HistoryEntry](ctx, historyId)
	if err != nil {
		return decimal.Zero, err
	}
	if entry.Status == HistoryStatusReturned {
		return entry.Fine, nil
	}
	return ComputeFine(entry.DueAt, time.Now().UTC(), config.FineRatePerDay()), nil
}

// MarkLoanFinePaid settles the fine flag. Paying never changes the computed
// amount, only the settled flag.
func MarkLoanFinePaid(ctx context.Context, loanId int) error {
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&LoanRecord{}).Where("id = ?", loanId).Update("fine_paid", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func MarkHistoryFinePaid(ctx context.Context, historyId int) error {
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&HistoryEntry{}).Where("id = ?", historyId).Update("fine_paid", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

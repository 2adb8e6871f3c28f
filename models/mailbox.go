package models

import (
	"context"
	"errors"
	"time"

	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestMailboxEntry is a user-initiated borrow/return/renew request waiting
// for staff. An entry is mutated exactly once: Pending to Approved or
// Rejected, terminal either way. Submission never touches the ledger; no copy
// is reserved at request time.
type RequestMailboxEntry struct {
	ID          int           `gorm:"primary_key" json:"id"`
	Kind        RequestKind   `gorm:"size:10;not null;index" json:"kind"`
	RequesterId int           `gorm:"index;not null" json:"requester_id"`
	BookId      int           `gorm:"index;not null" json:"book_id"`
	LoanId      *int          `gorm:"index" json:"loan_id,omitempty"`
	Status      RequestStatus `gorm:"size:10;not null;index" json:"status"`
	Reason      string        `gorm:"type:text" json:"reason"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy  *int          `json:"resolved_by,omitempty"`
}

type MailboxFilter struct {
	Status      RequestStatus `form:"status"`
	Kind        RequestKind   `form:"kind"`
	RequesterId int           `form:"requester_id"`
}

// SubmitBorrowRequest files a borrow request for a title. The requester is
// taken from the call context.
func SubmitBorrowRequest(ctx context.Context, bookId int) (*RequestMailboxEntry, error) {

	requesterId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if err := utils.ValidateResourceId[Book](ctx, bookId); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[User](ctx, requesterId); err != nil {
		return nil, err
	}

	entry := RequestMailboxEntry{
		Kind:        RequestKindBorrow,
		RequesterId: requesterId,
		BookId:      bookId,
		Status:      RequestStatusPending,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// SubmitReturnRequest files a return request for one of the requester's own
// active loans.
func SubmitReturnRequest(ctx context.Context, loanId int) (*RequestMailboxEntry, error) {
	return submitLoanRequest(ctx, RequestKindReturn, loanId)
}

// SubmitRenewRequest files a renewal request for one of the requester's own
// active loans.
func SubmitRenewRequest(ctx context.Context, loanId int) (*RequestMailboxEntry, error) {
	return submitLoanRequest(ctx, RequestKindRenew, loanId)
}

func submitLoanRequest(ctx context.Context, kind RequestKind, loanId int) (*RequestMailboxEntry, error) {

	requesterId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	loan, err := utils.FetchSingleModel[LoanRecord](ctx, loanId)
	if err != nil {
		return nil, err
	}
	if loan.UserId != requesterId {
		return nil, utils.ErrorRecordNotFound
	}
	if !loan.Active() {
		return nil, ErrNotActive
	}

	entry := RequestMailboxEntry{
		Kind:        kind,
		RequesterId: requesterId,
		BookId:      loan.BookId,
		LoanId:      &loan.ID,
		Status:      RequestStatusPending,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListMailbox returns entries matching the filter, oldest pending first so
// staff work the queue in arrival order.
func ListMailbox(ctx context.Context, filter MailboxFilter) ([]*RequestMailboxEntry, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&RequestMailboxEntry{})
	if filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		if !filter.Kind.Valid() {
			return nil, errors.New("unknown request kind")
		}
		dbCtx = dbCtx.Where("kind = ?", filter.Kind)
	}
	if filter.RequesterId > 0 {
		dbCtx = dbCtx.Where("requester_id = ?", filter.RequesterId)
	}
	var entries []*RequestMailboxEntry
	err := dbCtx.Order("created_at ASC").Find(&entries).Error
	return entries, err
}

func GetMailboxEntry(ctx context.Context, id int) (*RequestMailboxEntry, error) {
	return utils.FetchSingleModel[RequestMailboxEntry](ctx, id)
}

// LockPendingEntryTx loads a mailbox entry FOR UPDATE and verifies it is
// still pending. Concurrent resolutions serialize on the row lock; the loser
// sees a terminal status and gets AlreadyResolved, never a double-apply.
func LockPendingEntryTx(tx *gorm.DB, entryId int) (*RequestMailboxEntry, error) {
	var entry RequestMailboxEntry
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&entry, entryId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if entry.Status != RequestStatusPending {
		return nil, ErrAlreadyResolved
	}
	return &entry, nil
}

// ResolveEntryTx finalizes a locked entry. Immutable afterwards.
func ResolveEntryTx(tx *gorm.DB, entry *RequestMailboxEntry, status RequestStatus, staffId int, reason string) error {
	now := time.Now().UTC()
	err := tx.Model(entry).Updates(map[string]interface{}{
		"status":      status,
		"reason":      reason,
		"resolved_at": now,
		"resolved_by": staffId,
	}).Error
	if err != nil {
		return err
	}
	entry.Status = status
	entry.Reason = reason
	entry.ResolvedAt = &now
	entry.ResolvedBy = &staffId
	return nil
}

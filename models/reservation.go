package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reservation is one entry in a title's FIFO wait queue. Among the live
// entries (Pending plus at most one promoted Available hold) positions are a
// dense 1..N sequence in reserved_at order. Cancelling, expiring or
// fulfilling an entry renumbers everything behind it down by one; promotion
// alone does not renumber, so positions stay stable while a hold is
// outstanding.
type Reservation struct {
	ID         int               `gorm:"primary_key" json:"id"`
	BookId     int               `gorm:"index;not null" json:"book_id"`
	UserId     int               `gorm:"index;not null" json:"user_id"`
	Position   int               `gorm:"not null" json:"position"`
	Status     ReservationStatus `gorm:"size:10;not null;index" json:"status"`
	ReservedAt time.Time         `gorm:"not null" json:"reserved_at"`
	NotifiedAt *time.Time        `json:"notified_at,omitempty"`
	ExpiresAt  *time.Time        `gorm:"index" json:"expires_at,omitempty"`

	// ActiveKey is "<book_id>-<user_id>" while the reservation is live and
	// NULL once terminal. The unique index turns a concurrent duplicate
	// reserve into a 1062 instead of a queue corruption.
	ActiveKey *string `gorm:"size:40;uniqueIndex" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func activeKey(bookId, userId int) *string {
	key := fmt.Sprintf("%d-%d", bookId, userId)
	return &key
}

// Reserve appends a user to a title's wait queue. Reservations apply to
// checked-out titles only, unless the pre-emptive waitlist flag is on.
func Reserve(ctx context.Context, bookId int, userId int) (*Reservation, error) {

	if err := utils.ValidateResourceId[User](ctx, userId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var book Book
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, bookId).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if book.Available && !config.ReserveWhileAvailable() {
		tx.Rollback()
		return nil, ErrReservationNotAllowed
	}

	var existing int64
	if err := tx.Model(&Reservation{}).
		Where("book_id = ? AND user_id = ? AND status IN ?", bookId, userId,
			[]ReservationStatus{ReservationStatusPending, ReservationStatusAvailable}).
		Count(&existing).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if existing > 0 {
		tx.Rollback()
		return nil, ErrDuplicateReservation
	}

	// Position counts the whole live queue: pending waiters plus an
	// outstanding promoted hold, which keeps position 1 until it leaves.
	var live int64
	if err := tx.Model(&Reservation{}).
		Where("book_id = ? AND status IN ?", bookId,
			[]ReservationStatus{ReservationStatusPending, ReservationStatusAvailable}).
		Count(&live).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	reservation := Reservation{
		BookId:     bookId,
		UserId:     userId,
		Position:   int(live) + 1,
		Status:     ReservationStatusPending,
		ReservedAt: time.Now().UTC(),
		ActiveKey:  activeKey(bookId, userId),
	}
	if err := tx.Create(&reservation).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyErr(err) {
			return nil, ErrDuplicateReservation
		}
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// CancelReservation removes an entry from the queue. Owners cancel their own
// entries; staff may cancel any. Cancelling an outstanding hold passes the
// copy to the next waiter or puts it back on the shelf.
func CancelReservation(ctx context.Context, reservationId int, userId int) (*Reservation, error) {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var reservation Reservation
	if err := tx.First(&reservation, reservationId).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}

	// Lock the title row before the entry row, matching the checkout path.
	// Holding the book lock serializes the renumber below against concurrent
	// position counts in Reserve, which would otherwise read a stale queue
	// length while this entry is mid-removal.
	var book Book
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, reservation.BookId).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&reservation, reservationId).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if reservation.UserId != userId && !utils.GetIsStaffFromContext(ctx) {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}

	wasHold := reservation.Status == ReservationStatusAvailable
	if reservation.Status != ReservationStatusPending && !wasHold {
		tx.Rollback()
		return nil, ErrInvalidState
	}

	if err := removeFromQueue(tx, &reservation, ReservationStatusCancelled); err != nil {
		tx.Rollback()
		return nil, err
	}
	if wasHold {
		if err := passHeldCopyOn(tx, reservation.BookId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateBookListCache()
	return &reservation, nil
}

// removeFromQueue finalizes an entry and closes the positional gap it leaves:
// every live entry behind it moves down by one.
func removeFromQueue(tx *gorm.DB, reservation *Reservation, terminal ReservationStatus) error {
	err := tx.Model(reservation).Updates(map[string]interface{}{
		"status":     terminal,
		"active_key": nil,
	}).Error
	if err != nil {
		return err
	}
	reservation.Status = terminal
	reservation.ActiveKey = nil

	return tx.Model(&Reservation{}).
		Where("book_id = ? AND status IN ? AND position > ?", reservation.BookId,
			[]ReservationStatus{ReservationStatusPending, ReservationStatusAvailable},
			reservation.Position).
		Update("position", gorm.Expr("position - 1")).Error
}

// passHeldCopyOn hands a freed held copy to the next waiter, or returns it to
// the shelf when the queue is empty.
func passHeldCopyOn(tx *gorm.DB, bookId int) error {
	promoted, err := promoteNextReservation(tx, bookId)
	if err != nil {
		return err
	}
	if !promoted {
		return tx.Model(&Book{}).Where("id = ?", bookId).Update("available", true).Error
	}
	return nil
}

// promoteNextReservation turns the head of the queue into a time-boxed hold:
// status Available, notified now, expiring after the policy hold period. The
// queue is not renumbered here. Returns false when there is nothing to
// promote (an outstanding hold counts as already promoted).
func promoteNextReservation(tx *gorm.DB, bookId int) (bool, error) {

	var outstanding int64
	err := tx.Model(&Reservation{}).
		Where("book_id = ? AND status = ?", bookId, ReservationStatusAvailable).
		Count(&outstanding).Error
	if err != nil {
		return false, err
	}
	if outstanding > 0 {
		return true, nil
	}

	var next Reservation
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("book_id = ? AND status = ?", bookId, ReservationStatusPending).
		Order("position ASC").
		First(&next).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	expires := now.Add(config.ReservationHoldPeriod())
	err = tx.Model(&next).Updates(map[string]interface{}{
		"status":      ReservationStatusAvailable,
		"notified_at": now,
		"expires_at":  expires,
	}).Error
	if err != nil {
		return false, err
	}

	if err := createNotification(tx, next.UserId, NotificationKindReservationReady, next.BookId, next.ID,
		fmt.Sprintf("reserved copy is ready for pickup until %s", expires.Format(time.RFC3339))); err != nil {
		return false, err
	}
	return true, nil
}

// fulfillReservationHold converts the user's outstanding hold into a
// completed reservation as part of their checkout. Returns false when the
// hold belongs to someone else or does not exist.
func fulfillReservationHold(tx *gorm.DB, bookId int, userId int) (bool, error) {
	var hold Reservation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("book_id = ? AND user_id = ? AND status = ?", bookId, userId, ReservationStatusAvailable).
		First(&hold).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, removeFromQueue(tx, &hold, ReservationStatusFulfilled)
}

// ExpireReservationTx finalizes a lapsed hold and passes the copy on. Called
// by the reconciler inside its own transaction.
func ExpireReservationTx(tx *gorm.DB, reservation *Reservation) error {
	if reservation.Status != ReservationStatusAvailable {
		return ErrInvalidState
	}
	if err := removeFromQueue(tx, reservation, ReservationStatusExpired); err != nil {
		return err
	}
	return passHeldCopyOn(tx, reservation.BookId)
}

// ListReservations returns a user's live queue entries, soonest first.
func ListReservations(ctx context.Context, userId int) ([]*Reservation, error) {
	db := config.GetDB()
	var reservations []*Reservation
	err := db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userId,
			[]ReservationStatus{ReservationStatusPending, ReservationStatusAvailable}).
		Order("reserved_at ASC").
		Find(&reservations).Error
	return reservations, err
}

// ListQueueForBook returns a title's live queue in position order, for staff
// screens and tests.
func ListQueueForBook(ctx context.Context, bookId int) ([]*Reservation, error) {
	db := config.GetDB()
	var reservations []*Reservation
	err := db.WithContext(ctx).
		Where("book_id = ? AND status IN ?", bookId,
			[]ReservationStatus{ReservationStatusPending, ReservationStatusAvailable}).
		Order("position ASC").
		Find(&reservations).Error
	return reservations, err
}

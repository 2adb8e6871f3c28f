package models

import (
	"context"
	"time"

	"github.com/openshelf/library_backend/config"
	"gorm.io/gorm"
)

// Notification is a structured record for the delivery layer to pick up.
// The core only writes these; e-mail/push delivery is someone else's job.
type Notification struct {
	ID            int              `gorm:"primary_key" json:"id"`
	UserId        int              `gorm:"index;not null" json:"user_id"`
	Kind          NotificationKind `gorm:"size:30;not null" json:"kind"`
	BookId        int              `gorm:"index" json:"book_id"`
	ReservationId int              `json:"reservation_id,omitempty"`
	Message       string           `gorm:"type:text" json:"message"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func createNotification(tx *gorm.DB, userId int, kind NotificationKind, bookId int, reservationId int, message string) error {
	notification := Notification{
		UserId:        userId,
		Kind:          kind,
		BookId:        bookId,
		ReservationId: reservationId,
		Message:       message,
	}
	return tx.Create(&notification).Error
}

// CreateNotificationTx exposes notification writes to the workflow package.
func CreateNotificationTx(tx *gorm.DB, userId int, kind NotificationKind, bookId int, message string) error {
	return createNotification(tx, userId, kind, bookId, 0, message)
}

func ListNotifications(ctx context.Context, userId int) ([]*Notification, error) {
	db := config.GetDB()
	var notifications []*Notification
	err := db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("created_at DESC").
		Find(&notifications).Error
	return notifications, err
}

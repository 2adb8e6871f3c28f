package models

import (
	"log"

	"github.com/openshelf/library_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Book{}, &User{},
		&LoanRecord{}, &HistoryEntry{},
		&RequestMailboxEntry{}, &Reservation{},
		&Notification{},
		&ReconciliationReport{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

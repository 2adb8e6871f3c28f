// seed-dev loads a small development catalog: one staff user, two members
// and a handful of titles. Idempotent; existing rows (matched by email or
// isbn) are left alone.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/models"
	"github.com/openshelf/library_backend/utils"
	"gorm.io/gorm"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	users := []models.User{
		{Name: "Dev Librarian", Email: "librarian@openshelf.dev", IsStaff: true},
		{Name: "Alice Member", Email: "alice@openshelf.dev"},
		{Name: "Bob Member", Email: "bob@openshelf.dev"},
	}
	for i := range users {
		if err := ensureUser(ctx, db, &users[i]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed user %s: %v\n", users[i].Email, err)
			os.Exit(1)
		}
	}

	books := []models.Book{
		{Title: "The Go Programming Language", Author: "Donovan & Kernighan", Isbn: "9780134190440", Available: true},
		{Title: "Designing Data-Intensive Applications", Author: "Martin Kleppmann", Isbn: "9781449373320", Available: true},
		{Title: "Database Internals", Author: "Alex Petrov", Isbn: "9781492040347", Available: true},
		{Title: "Site Reliability Engineering", Author: "Beyer et al.", Isbn: "9781491929124", Available: true},
	}
	for i := range books {
		if err := ensureBook(ctx, db, &books[i]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed book %s: %v\n", books[i].Isbn, err)
			os.Exit(1)
		}
	}
	models.InvalidateBookListCache()

	fmt.Printf("seeded %d users and %d titles\n", len(users), len(books))
}

func ensureUser(ctx context.Context, db *gorm.DB, user *models.User) error {
	if err := utils.ValidateStruct(user); err != nil {
		return err
	}
	var existing models.User
	err := db.WithContext(ctx).Where("email = ?", user.Email).First(&existing).Error
	if err == nil {
		*user = existing
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return db.WithContext(ctx).Create(user).Error
}

func ensureBook(ctx context.Context, db *gorm.DB, book *models.Book) error {
	if err := utils.ValidateStruct(book); err != nil {
		return err
	}
	var existing models.Book
	err := db.WithContext(ctx).Where("isbn = ?", book.Isbn).First(&existing).Error
	if err == nil {
		*book = existing
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return db.WithContext(ctx).Create(book).Error
}

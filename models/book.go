package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/utils"
)

// Book is the catalog side of the circulation core. Only one copy per title
// is modeled; Available flips as a side effect of checkout/checkin and the
// reconciler's orphan repair. No other code path may write it.
type Book struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Title     string    `gorm:"size:255;not null;index" json:"title" binding:"required"`
	Author    string    `gorm:"size:255" json:"author"`
	Isbn      string    `gorm:"size:20;index" json:"isbn"`
	Available bool      `gorm:"not null;default:true" json:"available"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBook struct {
	Title  string `json:"title" binding:"required"`
	Author string `json:"author"`
	Isbn   string `json:"isbn"`
}

const bookListCacheKey = "books:list"

func (input *NewBook) validate() error {
	if strings.TrimSpace(input.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}

func CreateBook(ctx context.Context, input *NewBook) (*Book, error) {

	if err := input.validate(); err != nil {
		return nil, err
	}

	book := Book{
		Title:     input.Title,
		Author:    input.Author,
		Isbn:      input.Isbn,
		Available: true,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&book).Error; err != nil {
		return nil, err
	}
	InvalidateBookListCache()
	return &book, nil
}

func GetBook(ctx context.Context, id int) (*Book, error) {
	return utils.FetchSingleModel[Book](ctx, id)
}

// ListBooks reads the catalog, redis or db, and caches the result.
func ListBooks(ctx context.Context) ([]*Book, error) {
	var books []*Book
	exists, err := config.GetRedisObject(bookListCacheKey, &books)
	if err != nil {
		return nil, err
	}
	if exists {
		return books, nil
	}

	books, err = utils.FetchAllModels[Book](ctx)
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(bookListCacheKey, &books, 5*time.Minute); err != nil {
		return nil, err
	}
	return books, nil
}

// InvalidateBookListCache drops the cached catalog after any availability or
// catalog change. Cheap enough to call unconditionally from mutations.
func InvalidateBookListCache() {
	_ = config.RemoveRedisKey(bookListCacheKey)
}

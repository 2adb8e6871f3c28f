package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/utils"
)

// User is owned by the accounts collaborator; the core only needs an id, a
// display name and the staff flag that gates approvals.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:255;index" json:"email"`
	IsStaff   bool      `gorm:"not null;default:false" json:"is_staff"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	IsStaff bool   `json:"is_staff"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.New("name is required")
	}

	user := User{
		Name:    input.Name,
		Email:   input.Email,
		IsStaff: input.IsStaff,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	return utils.FetchSingleModel[User](ctx, id)
}

// RequireStaff resolves a user id and checks the staff flag.
func RequireStaff(ctx context.Context, userId int) (*User, error) {
	user, err := utils.FetchSingleModel[User](ctx, userId)
	if err != nil {
		return nil, err
	}
	if !user.IsStaff {
		return nil, ErrStaffRequired
	}
	return user, nil
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User stores Telegram user metadata. ID is the owner id stamped on tasks.
type User struct {
	ID         string `gorm:"primaryKey;size:36"`
	TelegramID int64  `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

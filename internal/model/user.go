package model

import (
	"time"
)

type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	FirstName    string `gorm:"not null;type:varchar(100)" json:"first_name"`
	LastName     string `gorm:"not null;type:varchar(100)" json:"last_name"`
	Email        string `gorm:"uniqueIndex;not null;type:varchar(255)" json:"email"`
	PasswordHash string `gorm:"not null;type:varchar(255)" json:"-"`
	Photo        string `gorm:"type:varchar(255)" json:"photo"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Venue is read-only reference data.
type Venue struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Name    string `gorm:"not null;type:varchar(255)" json:"name"`
	Address string `gorm:"type:varchar(255)" json:"address"`
}

func (Venue) TableName() string {
	return "venues"
}

package model

import (
	"time"
)

type Message struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	GroupID uint   `gorm:"index;not null" json:"group_id"`
	UserID  uint   `gorm:"index;not null" json:"user_id"`
	Body    string `gorm:"type:text;not null" json:"body"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageView is a message joined with its author's display fields.
type MessageView struct {
	ID        uint      `json:"id"`
	GroupID   uint      `json:"group_id"`
	UserID    uint      `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Photo     string    `json:"photo"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lunchroulette/server/internal/model"
)

type IMessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	ListByGroup(ctx context.Context, groupID uint) ([]model.MessageView, error)
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// ListByGroup returns the group's messages newest first, with author display fields.
func (r *MessageRepository) ListByGroup(ctx context.Context, groupID uint) ([]model.MessageView, error) {
	messages := []model.MessageView{}
	err := r.db.WithContext(ctx).Table("messages AS msg").
		Select("msg.id, msg.group_id, msg.user_id, u.first_name, u.last_name, u.photo, msg.body, msg.created_at").
		Joins("JOIN users u ON u.id = msg.user_id").
		Where("msg.group_id = ?", groupID).
		Order("msg.created_at DESC").Order("msg.id DESC").
		Scan(&messages).Error
	return messages, err
}
